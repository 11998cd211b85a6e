// Package enrich は参照先エンティティ・フォロワー・オンライン状態を外部サービスから取得する。
//
// アセンブラとフィードストアはClientインターフェースだけに依存する。
// 呼び出しはすべて失敗しうるため、呼び出し側はエラーを「そのバッチ要素を飛ばす」と解釈し、
// 消費ループを止めてはならない。
package enrich

import (
	"context"
	"time"
)

// Entity は参照先エンティティ（主に投稿）の要約。
type Entity struct {
	// ID はエンティティのID。
	ID int64 `json:"id"`
	// AuthorID はエンティティの所有者（投稿者）のID。
	AuthorID int64 `json:"author_id"`
	// Type はエンティティの種類（original, forward, quote, reply など）。
	Type string `json:"type"`
	// CreatedAt はエンティティの作成日時。
	CreatedAt time.Time `json:"created_at"`
}

// Pair は受信者と送信者の組。ブロック関係の照会に使う。
type Pair struct {
	// ReceiverID は通知の受信者。ブロックする側。
	ReceiverID int64 `json:"receiver_id"`
	// SenderID は通知の送信者。ブロックされる側。
	SenderID int64 `json:"sender_id"`
}

// Client は外部サービスへの問い合わせを抽象化する。
type Client interface {
	// FetchEntities はIDの一覧からエンティティの要約を取得する。見つからないIDは結果に含まれない。
	FetchEntities(ctx context.Context, ids []int64) (map[int64]Entity, error)
	// FetchFollowerPage はユーザーのフォロワーIDを1ページ分取得する。pageIndexは0始まり。
	FetchFollowerPage(ctx context.Context, userID int64, pageIndex, pageSize int) ([]int64, error)
	// FetchFollowerCount はユーザーのフォロワー数を取得する。
	FetchFollowerCount(ctx context.Context, userID int64) (int, error)
	// CheckOnline はユーザーごとのオンライン状態を取得する。
	CheckOnline(ctx context.Context, ids []int64) (map[int64]bool, error)
	// FetchContentIDsByAuthor は投稿者ごとの投稿IDを取得する。
	FetchContentIDsByAuthor(ctx context.Context, authorIDs []int64) (map[int64][]int64, error)
	// FetchRecentByFollower はユーザーがフォローしている投稿者の最近の投稿を新しい順に最大size件取得する。
	FetchRecentByFollower(ctx context.Context, userID int64, size int) ([]Entity, error)
	// BlockedPairs は受信者が送信者をブロックしている組を返す。
	BlockedPairs(ctx context.Context, pairs []Pair) (map[Pair]bool, error)
}
