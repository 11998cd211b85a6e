// Package assembler は生のドメインイベントを通知レコードやフィードのエントリに組み立てる。
//
// 4つのアセンブラはそれぞれ独立したコンシューマグループとして動く。
//   - Interaction: いいね・転送・引用・返信・メンションを通知にする
//   - Relationship: フォローを通知にする
//   - Fanout: 新規投稿をフォロワーのフィードに書き込み、オンラインのフォロワーにTWEETEDを通知する
//   - Unfollow: フォロー解除した相手の投稿をフィードから取り除く
//
// どのアセンブラもバッチを必ずコミットする。FanoutとUnfollowは失敗したイベントを
// 封筒の再試行回数を増やして元のトピックへ戻し、上限を超えたものは捨てる。
// ファンアウトのタスクはSpawner経由で起動し、完了を待たずにコミットする。
package assembler

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nao1215/chirpline/internal/notice"
	"github.com/nao1215/chirpline/pkg/event"
	"github.com/nao1215/chirpline/pkg/logger"
)

// Publisher はブローカーへメッセージを送信する。saramax.Producerがこれを満たす。
type Publisher interface {
	Publish(ctx context.Context, topic, key string, v any) error
}

// NoticeSaver は通知レコードを保存する。notice.Storeがこれを満たす。
type NoticeSaver interface {
	SaveBatch(ctx context.Context, records []event.Notification) error
}

// sink は組み立て済みの通知を配信可否判定・保存・送信する共通処理。
type sink struct {
	checker notice.BlockChecker
	// store はnilでもよい。その場合は保存しない。
	store NoticeSaver
	pub   Publisher
	topic string
	l     logger.LoggerV1
}

// deliver はレコードを判定し、すべて保存してから配信可能なものだけを送信する。
// 判定か送信に失敗した場合はそのバッチの残りの送信を中止してエラーを返す。
func (s *sink) deliver(ctx context.Context, records []event.Notification) error {
	if len(records) == 0 {
		return nil
	}
	filtered, err := notice.Filter(ctx, s.checker, records)
	if err != nil {
		return err
	}

	if s.store != nil {
		if err := s.store.SaveBatch(ctx, filtered); err != nil {
			s.l.Error("通知の保存に失敗", logger.Int("size", len(filtered)), logger.Error(err))
		}
	}

	for _, r := range notice.Reachable(filtered) {
		if err := s.pub.Publish(ctx, s.topic, receiverKey(r.ReceiverID), r); err != nil {
			return fmt.Errorf("通知の送信に失敗 (id=%d): %w", r.ID, err)
		}
	}
	return nil
}

// receiverKey は受信者IDをパーティションキーにする。同じ受信者の通知は同じパーティションに並ぶ。
func receiverKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// retryer は失敗したイベントを封筒の再試行回数付きで元のトピックへ戻す。
type retryer struct {
	pub   Publisher
	topic string
	max   int
	l     logger.LoggerV1
}

// retry はenvの再試行回数が上限未満なら1つ増やして再送信し、上限に達していれば捨てる。
func retry[T any](ctx context.Context, r retryer, key string, env event.Envelope[T], cause error) error {
	if env.RetryTimes >= r.max {
		r.l.Error("再試行回数の上限に達したためイベントを破棄",
			logger.String("topic", r.topic),
			logger.Int("retry_times", env.RetryTimes),
			logger.Any("body", env.Body),
			logger.Error(cause))
		return nil
	}
	r.l.Warn("イベントを再投入",
		logger.String("topic", r.topic),
		logger.Int("retry_times", env.RetryTimes+1),
		logger.Error(cause))
	if err := r.pub.Publish(ctx, r.topic, key, env.Retry()); err != nil {
		return fmt.Errorf("イベントの再投入に失敗: %w", err)
	}
	return nil
}
