package assembler

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/ecodeclub/ekit/slice"
	"github.com/nao1215/chirpline/internal/feed"
	"github.com/nao1215/chirpline/pkg/event"
	"github.com/nao1215/chirpline/pkg/logger"
)

// ContentSource は投稿者ごとの投稿IDを取得する。enrich.Clientがこれを満たす。
type ContentSource interface {
	FetchContentIDsByAuthor(ctx context.Context, authorIDs []int64) (map[int64][]int64, error)
}

// Unfollow はフォロー解除（またはブロック）した相手の投稿をフィードから取り除く。
type Unfollow struct {
	contents ContentSource
	feed     feed.Store
	spawner  Spawner
	retryer  retryer
	l        logger.LoggerV1
}

// NewUnfollow は新しいUnfollowを生成する。topicは失敗したイベントの戻し先。
func NewUnfollow(topic string, maxRetry int, contents ContentSource, store feed.Store,
	pub Publisher, spawner Spawner, l logger.LoggerV1) *Unfollow {
	return &Unfollow{
		contents: contents,
		feed:     store,
		spawner:  spawner,
		retryer:  retryer{pub: pub, topic: topic, max: maxRetry, l: l},
		l:        l,
	}
}

// Consume はsaramax.BatchFuncとしてバッチを処理する。
// 投稿IDの取得に失敗した場合はバッチの全イベントを再投入する。
// 削除はイベントごとのタスクで行い、完了を待たずに戻る。
func (u *Unfollow) Consume(ctx context.Context, msgs []*sarama.ConsumerMessage, envs []event.Envelope[event.Relation]) error {
	targets := make([]event.Envelope[event.Relation], 0, len(envs))
	keys := make([]string, 0, len(envs))
	for i, env := range envs {
		if env.Body.Type == event.RelationFollowing {
			continue
		}
		targets = append(targets, env)
		keys = append(keys, string(msgs[i].Key))
	}
	if len(targets) == 0 {
		return nil
	}

	authors := slice.Map[event.Envelope[event.Relation], int64](targets, func(_ int, env event.Envelope[event.Relation]) int64 {
		return env.Body.ToID
	})
	byAuthor, err := u.contents.FetchContentIDsByAuthor(ctx, authors)
	if err != nil {
		cause := fmt.Errorf("投稿IDの取得に失敗: %w", err)
		var errs []error
		for i, env := range targets {
			if err := retry(ctx, u.retryer, keys[i], env, cause); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%d件の再投入に失敗: %w", len(errs), errs[0])
		}
		return nil
	}

	taskCtx := context.WithoutCancel(ctx)
	for i, env := range targets {
		contentIDs := byAuthor[env.Body.ToID]
		if len(contentIDs) == 0 {
			continue
		}
		key := keys[i]
		u.spawner.Go(func() {
			if err := u.feed.RemoveBatch(taskCtx, env.Body.FromID, contentIDs); err != nil {
				if err := retry(taskCtx, u.retryer, key, env, err); err != nil {
					u.l.Error("フィードからの削除の再投入に失敗",
						logger.Int64("user_id", env.Body.FromID),
						logger.Error(err))
				}
			}
		})
	}
	return nil
}
