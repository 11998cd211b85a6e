// Package notice は通知レコードの配信可否判定と永続化を提供する。
//
// Filterはすべてのアセンブラが共有する唯一の配信抑止点で、受信者が送信者を
// ブロックしているレコードをUNREACHABLEにする。レコードを取り除くことはしない。
// StoreはUNREACHABLEを含むすべてのレコードを保存し、Handlerは受信者向けに
// 一覧取得と既読管理のAPIを提供する。
package notice
