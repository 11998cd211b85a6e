package assembler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/ecodeclub/ekit/slice"
	"github.com/nao1215/chirpline/internal/feed"
	"github.com/nao1215/chirpline/pkg/event"
	"github.com/nao1215/chirpline/pkg/idgen"
	"github.com/nao1215/chirpline/pkg/logger"
)

// FollowerSource はフォロワーとオンライン状態を取得する。enrich.Clientがこれを満たす。
type FollowerSource interface {
	FetchFollowerCount(ctx context.Context, userID int64) (int, error)
	FetchFollowerPage(ctx context.Context, userID int64, pageIndex, pageSize int) ([]int64, error)
	CheckOnline(ctx context.Context, ids []int64) (map[int64]bool, error)
}

// FanoutConfig はFanoutの設定。
type FanoutConfig struct {
	// PublishTopic は投稿イベントのトピック。失敗したイベントの戻し先でもある。
	PublishTopic string
	// TweetedTopic はTWEETED通知の送信先。
	TweetedTopic string
	// PageSize はフォロワーを1回に取得する件数。1ページが1タスクになる。
	PageSize int
	// MaxRetry は再投入の上限回数。
	MaxRetry int
}

// Fanout は新規投稿をフォロワーのフィードに書き込み、オンラインのフォロワーにTWEETEDを通知する。
// 削除された投稿はフォロワーのフィードから取り除く。
type Fanout struct {
	followers FollowerSource
	feed      feed.Store
	pub       Publisher
	spawner   Spawner
	ids       idgen.Generator
	cfg       FanoutConfig
	retryer   retryer
	l         logger.LoggerV1
	now       func() time.Time
}

// NewFanout は新しいFanoutを生成する。
func NewFanout(cfg FanoutConfig, followers FollowerSource, store feed.Store, pub Publisher,
	spawner Spawner, ids idgen.Generator, l logger.LoggerV1) *Fanout {
	return &Fanout{
		followers: followers,
		feed:      store,
		pub:       pub,
		spawner:   spawner,
		ids:       ids,
		cfg:       cfg,
		retryer:   retryer{pub: pub, topic: cfg.PublishTopic, max: cfg.MaxRetry, l: l},
		l:         l,
		now:       time.Now,
	}
}

// Consume はsaramax.Funcとして1件の投稿イベントを処理する。
// ページごとのタスクを起動した時点で戻り、タスクの完了は待たない。
// 起動前に失敗した場合は封筒の再試行回数を増やして再投入する。
func (f *Fanout) Consume(ctx context.Context, msg *sarama.ConsumerMessage, env event.Envelope[event.Publish]) error {
	if err := f.dispatch(ctx, env.Body); err != nil {
		return retry(ctx, f.retryer, string(msg.Key), env, err)
	}
	return nil
}

// dispatch はフォロワー数からページ数を求め、ページごとにタスクを起動する。
func (f *Fanout) dispatch(ctx context.Context, p event.Publish) error {
	count, err := f.followers.FetchFollowerCount(ctx, p.PublisherID)
	if err != nil {
		return fmt.Errorf("フォロワー数の取得に失敗: %w", err)
	}
	pages := (count + f.cfg.PageSize - 1) / f.cfg.PageSize
	// コンシューマのセッションが終わってもタスクは続ける
	taskCtx := context.WithoutCancel(ctx)
	for page := range pages {
		f.spawner.Go(func() {
			f.fanoutPage(taskCtx, p, page)
		})
	}
	f.l.Debug("ファンアウトを開始",
		logger.Int64("publisher_id", p.PublisherID),
		logger.Int64("content_id", p.ContentID),
		logger.Int("followers", count),
		logger.Int("pages", pages))
	return nil
}

// fanoutPage は1ページ分のフォロワーを処理する。失敗はログに残して終える。
func (f *Fanout) fanoutPage(ctx context.Context, p event.Publish, page int) {
	followers, err := f.followers.FetchFollowerPage(ctx, p.PublisherID, page, f.cfg.PageSize)
	if err != nil {
		f.l.Error("フォロワー一覧の取得に失敗",
			logger.Int64("publisher_id", p.PublisherID),
			logger.Int("page", page),
			logger.Error(err))
		return
	}
	if len(followers) == 0 {
		return
	}

	entries := slice.Map[int64, feed.Entry](followers, func(_ int, follower int64) feed.Entry {
		return feed.Entry{RecipientID: follower, ContentID: p.ContentID, Score: p.Score}
	})
	if p.Deleted {
		if err := f.feed.RemoveEntries(ctx, entries); err != nil {
			f.l.Error("フィードからの削除に失敗", logger.Int64("content_id", p.ContentID), logger.Error(err))
		}
		return
	}
	if err := f.feed.AddBatch(ctx, entries); err != nil {
		f.l.Error("フィードへの追加に失敗", logger.Int64("content_id", p.ContentID), logger.Error(err))
	}

	online, err := f.followers.CheckOnline(ctx, followers)
	if err != nil {
		f.l.Error("オンライン状態の取得に失敗",
			logger.Int64("publisher_id", p.PublisherID),
			logger.Int("page", page),
			logger.Error(err))
		return
	}
	for _, follower := range followers {
		if !online[follower] {
			continue
		}
		f.spawner.Go(func() {
			f.notifyTweeted(ctx, p, follower)
		})
	}
}

// notifyTweeted はオンラインのフォロワーにTWEETED通知を送信する。
func (f *Fanout) notifyTweeted(ctx context.Context, p event.Publish, follower int64) {
	n := event.Notification{
		ID:         f.ids.Next(),
		SenderID:   p.PublisherID,
		ReceiverID: follower,
		EntityType: event.EntityTypeContent,
		SonEntity:  p.ContentID,
		Event:      event.NoticeEventTweeted,
		NoticeType: event.NoticeTypeSystem,
		Status:     event.StatusUnread,
		CreatedAt:  f.now(),
	}
	if err := f.pub.Publish(ctx, f.cfg.TweetedTopic, strconv.FormatInt(follower, 10), n); err != nil {
		f.l.Error("TWEETED通知の送信に失敗",
			logger.Int64("receiver_id", follower),
			logger.Int64("content_id", p.ContentID),
			logger.Error(err))
	}
}
