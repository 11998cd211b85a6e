// Package event はサービス間でブローカーと配信チャネルを流れるメッセージの型を定義する。
//
// 業務サービスが発行する生イベント（Action, Publish, Relation）、
// アセンブラが生成する通知レコード（Notification）、チャット、
// そしてWebSocketへ届けるタグ付きペイロード（Payload）を含む。
package event
