// Package feed はユーザーごとのタイムライン（フィード）を保存する。
//
// フィードはユーザーごとのスコア付き集合で、メンバーは投稿ID、スコアは投稿日時の
// UNIXミリ秒。並び順は常にスコアの降順で、ランキングは行わない。
// 読み取りは集合が存在しない場合も空の一覧を返し、エラーにしない。
package feed

import (
	"context"
)

// Entry はフィードの1件。(RecipientID, ContentID) で一意になる。
type Entry struct {
	// RecipientID はフィードの持ち主。
	RecipientID int64 `json:"recipient_id"`
	// ContentID は投稿のID。
	ContentID int64 `json:"content_id"`
	// Score は投稿日時のUNIXミリ秒。
	Score int64 `json:"score"`
}

// Store はフィードの保存先。
type Store interface {
	// InitFeed はフィードが空の場合に限り、フォロー中の投稿者の最近の投稿で埋める。
	InitFeed(ctx context.Context, userID int64) error
	// AddOne は1件を追加する。既に存在する場合はスコアを更新する。
	AddOne(ctx context.Context, entry Entry) error
	// AddBatch は複数件を追加する。1件の失敗はログに残し、残りの処理を続ける。
	AddBatch(ctx context.Context, entries []Entry) error
	// RemoveBatch は1人のフィードから複数の投稿を取り除く。1件の失敗は他に影響しない。
	RemoveBatch(ctx context.Context, recipientID int64, contentIDs []int64) error
	// RemoveEntries は複数人のフィードからそれぞれの投稿を取り除く。
	RemoveEntries(ctx context.Context, entries []Entry) error
	// GetPage はInitFeedの後、pageIndex番目（0始まり）のページを新しい順に返す。
	GetPage(ctx context.Context, recipientID int64, pageIndex int) ([]Entry, error)
	// GetPageByScore はスコアがbeforeScore未満のエントリを新しい順に最大1ページ分返す。
	GetPageByScore(ctx context.Context, recipientID int64, beforeScore int64) ([]Entry, error)
	// GetRange はスコアがstart以上end以下のエントリを新しい順に返す。
	GetRange(ctx context.Context, recipientID int64, start, end int64) ([]Entry, error)
}
