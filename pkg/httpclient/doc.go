// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// アセンブラやフィードストアがコンテンツ・ユーザー・認証サービスの
// APIを呼び出す際に使用する。JSONの送受信、タイムアウト、
// 2xx以外のステータスのエラー化を統一する。
package httpclient
