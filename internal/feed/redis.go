package feed

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ecodeclub/ekit/slice"
	"github.com/nao1215/chirpline/internal/enrich"
	"github.com/nao1215/chirpline/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RecentSource はフィードの初期化に使う投稿の取得元。
// enrich.Clientがこれを満たす。
type RecentSource interface {
	FetchRecentByFollower(ctx context.Context, userID int64, size int) ([]enrich.Entity, error)
}

// RedisStore はRedisのソート済み集合でフィードを保存するStore実装。
// キーは feed:{userId}。
type RedisStore struct {
	client       redis.Cmdable
	source       RecentSource
	pageSize     int
	backfillSize int
	l            logger.LoggerV1
	// outer は内部から呼ぶ操作の受け口。デコレータに包まれた場合はそのデコレータを指す。
	outer Store
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore は新しいRedisStoreを生成する。
func NewRedisStore(client redis.Cmdable, source RecentSource, pageSize, backfillSize int, l logger.LoggerV1) *RedisStore {
	s := &RedisStore{
		client:       client,
		source:       source,
		pageSize:     pageSize,
		backfillSize: backfillSize,
		l:            l,
	}
	s.outer = s
	return s
}

func (s *RedisStore) wrap(outer Store) {
	s.outer = outer
}

func (s *RedisStore) key(userID int64) string {
	return fmt.Sprintf("feed:%d", userID)
}

// InitFeed はフィードが空の場合にだけ投稿を補充する。
// スコアには投稿の作成日時を使うため、後からファンアウトされた投稿と正しく並ぶ。
func (s *RedisStore) InitFeed(ctx context.Context, userID int64) error {
	n, err := s.client.ZCard(ctx, s.key(userID)).Result()
	if err != nil {
		return fmt.Errorf("フィード件数の取得に失敗 (user=%d): %w", userID, err)
	}
	if n > 0 {
		return nil
	}

	recent, err := s.source.FetchRecentByFollower(ctx, userID, s.backfillSize)
	if err != nil {
		return fmt.Errorf("フィードの初期化に失敗 (user=%d): %w", userID, err)
	}
	if len(recent) == 0 {
		return nil
	}
	entries := slice.Map[enrich.Entity, Entry](recent, func(_ int, src enrich.Entity) Entry {
		return Entry{RecipientID: userID, ContentID: src.ID, Score: src.CreatedAt.UnixMilli()}
	})
	return s.outer.AddBatch(ctx, entries)
}

// AddOne は1件を追加する。
func (s *RedisStore) AddOne(ctx context.Context, entry Entry) error {
	err := s.client.ZAdd(ctx, s.key(entry.RecipientID), redis.Z{
		Score:  float64(entry.Score),
		Member: entry.ContentID,
	}).Err()
	if err != nil {
		return fmt.Errorf("フィードへの追加に失敗 (user=%d, content=%d): %w", entry.RecipientID, entry.ContentID, err)
	}
	return nil
}

// AddBatch はパイプラインで複数件を追加する。
// 各コマンドは独立して実行され、失敗したエントリだけをログに残す。
func (s *RedisStore) AddBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(entries))
	for _, e := range entries {
		cmds = append(cmds, pipe.ZAdd(ctx, s.key(e.RecipientID), redis.Z{
			Score:  float64(e.Score),
			Member: e.ContentID,
		}))
	}
	// 個々の失敗は下で1件ずつ記録する
	_, _ = pipe.Exec(ctx)
	for i, cmd := range cmds {
		if err := cmd.Err(); err != nil {
			s.l.Warn("フィードへの追加に失敗",
				logger.Int64("user_id", entries[i].RecipientID),
				logger.Int64("content_id", entries[i].ContentID),
				logger.Error(err))
		}
	}
	return nil
}

// RemoveBatch は1人のフィードから複数の投稿を取り除く。
func (s *RedisStore) RemoveBatch(ctx context.Context, recipientID int64, contentIDs []int64) error {
	entries := slice.Map[int64, Entry](contentIDs, func(_ int, id int64) Entry {
		return Entry{RecipientID: recipientID, ContentID: id}
	})
	return s.RemoveEntries(ctx, entries)
}

// RemoveEntries は複数人のフィードからそれぞれの投稿を取り除く。
func (s *RedisStore) RemoveEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(entries))
	for _, e := range entries {
		cmds = append(cmds, pipe.ZRem(ctx, s.key(e.RecipientID), e.ContentID))
	}
	_, _ = pipe.Exec(ctx)
	for i, cmd := range cmds {
		if err := cmd.Err(); err != nil {
			s.l.Warn("フィードからの削除に失敗",
				logger.Int64("user_id", entries[i].RecipientID),
				logger.Int64("content_id", entries[i].ContentID),
				logger.Error(err))
		}
	}
	return nil
}

// GetPage はフィードを初期化してからページを返す。
// 初期化に失敗しても既存のエントリの読み取りは続ける。
func (s *RedisStore) GetPage(ctx context.Context, recipientID int64, pageIndex int) ([]Entry, error) {
	if err := s.outer.InitFeed(ctx, recipientID); err != nil {
		s.l.Warn("フィードの初期化に失敗", logger.Int64("user_id", recipientID), logger.Error(err))
	}
	if pageIndex < 0 {
		pageIndex = 0
	}
	start := int64(pageIndex) * int64(s.pageSize)
	stop := start + int64(s.pageSize) - 1
	zs, err := s.client.ZRevRangeWithScores(ctx, s.key(recipientID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗 (user=%d, page=%d): %w", recipientID, pageIndex, err)
	}
	return s.toEntries(recipientID, zs), nil
}

// GetPageByScore はbeforeScore未満のエントリを返す。カーソル方式の「さらに読み込む」に使う。
func (s *RedisStore) GetPageByScore(ctx context.Context, recipientID int64, beforeScore int64) ([]Entry, error) {
	zs, err := s.client.ZRevRangeByScoreWithScores(ctx, s.key(recipientID), &redis.ZRangeBy{
		Max:   "(" + strconv.FormatInt(beforeScore, 10),
		Min:   "-inf",
		Count: int64(s.pageSize),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗 (user=%d, before=%d): %w", recipientID, beforeScore, err)
	}
	return s.toEntries(recipientID, zs), nil
}

// GetRange はstart以上end以下のエントリを返す。
func (s *RedisStore) GetRange(ctx context.Context, recipientID int64, start, end int64) ([]Entry, error) {
	if start > end {
		return []Entry{}, nil
	}
	zs, err := s.client.ZRevRangeByScoreWithScores(ctx, s.key(recipientID), &redis.ZRangeBy{
		Max: strconv.FormatInt(end, 10),
		Min: strconv.FormatInt(start, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗 (user=%d, range=%d-%d): %w", recipientID, start, end, err)
	}
	return s.toEntries(recipientID, zs), nil
}

// toEntries はRedisの結果をEntryに変換する。IDとして読めないメンバーは飛ばす。
func (s *RedisStore) toEntries(recipientID int64, zs []redis.Z) []Entry {
	res := make([]Entry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			s.l.Warn("不正なフィードのメンバー",
				logger.Int64("user_id", recipientID),
				logger.String("member", member))
			continue
		}
		res = append(res, Entry{RecipientID: recipientID, ContentID: id, Score: int64(z.Score)})
	}
	return res
}
