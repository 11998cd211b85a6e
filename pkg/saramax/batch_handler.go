// Package saramax はsaramaのコンシューマグループとプロデューサを業務処理に繋ぐ共通部品を提供する。
//
// ハンドラはJSONのデコード、バッチの組み立て、オフセットのコミットを引き受け、
// 業務側は関数を1つ渡すだけでよい。オフセットは処理の成否に関わらずコミットする。
// 失敗したメッセージを再配送し続けるより、ログに残して先へ進むことを優先する。
package saramax

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"github.com/nao1215/chirpline/pkg/logger"
)

// BatchFunc はデコード済みのバッチを処理する業務関数。
// msgsとtsは同じ添字で対応する。
type BatchFunc[T any] func(ctx context.Context, msgs []*sarama.ConsumerMessage, ts []T) error

// BatchHandler はメッセージをバッチにまとめて業務関数に渡すConsumerGroupHandler。
type BatchHandler[T any] struct {
	// l はログ出力先。
	l logger.LoggerV1
	// fn はバッチを処理する業務関数。
	fn BatchFunc[T]
	// batchSize は1バッチの最大件数。
	batchSize int
	// batchWait はバッチが揃うまで待つ最大時間。
	batchWait time.Duration
}

// BatchOption はBatchHandlerの設定を変更する。
type BatchOption func(*batchOptions)

type batchOptions struct {
	size int
	wait time.Duration
}

// WithBatchSize は1バッチの最大件数を設定する。
func WithBatchSize(size int) BatchOption {
	return func(o *batchOptions) {
		if size > 0 {
			o.size = size
		}
	}
}

// WithBatchWait はバッチが揃うまで待つ最大時間を設定する。
func WithBatchWait(wait time.Duration) BatchOption {
	return func(o *batchOptions) {
		if wait > 0 {
			o.wait = wait
		}
	}
}

// NewBatchHandler は新しいBatchHandlerを生成する。
// 既定ではバッチは最大10件、待ち時間は1秒。
func NewBatchHandler[T any](l logger.LoggerV1, fn BatchFunc[T], opts ...BatchOption) *BatchHandler[T] {
	o := batchOptions{size: 10, wait: time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	return &BatchHandler[T]{l: l, fn: fn, batchSize: o.size, batchWait: o.wait}
}

func (h *BatchHandler[T]) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *BatchHandler[T]) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim はパーティションのメッセージをバッチ単位で処理する。
// デコードできないメッセージはログに残してコミットし、バッチには含めない。
func (h *BatchHandler[T]) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	msgsCh := claim.Messages()
	for {
		msgs := make([]*sarama.ConsumerMessage, 0, h.batchSize)
		ts := make([]T, 0, h.batchSize)
		timer := time.NewTimer(h.batchWait)
		full := false
		for !full {
			select {
			case <-session.Context().Done():
				// 未処理のメッセージはコミットせず、次のリバランス後に再配送させる
				timer.Stop()
				return nil
			case <-timer.C:
				full = true
			case msg, ok := <-msgsCh:
				if !ok {
					timer.Stop()
					h.flush(session, msgs, ts)
					return nil
				}
				var t T
				if err := json.Unmarshal(msg.Value, &t); err != nil {
					h.l.Error("メッセージのデシリアライズに失敗",
						logger.String("topic", msg.Topic),
						logger.Int32("partition", msg.Partition),
						logger.Int64("offset", msg.Offset),
						logger.Error(err))
					session.MarkMessage(msg, "")
					continue
				}
				msgs = append(msgs, msg)
				ts = append(ts, t)
				full = len(msgs) >= h.batchSize
			}
		}
		timer.Stop()
		h.flush(session, msgs, ts)
	}
}

// flush はバッチを業務関数に渡し、結果に関わらず全件をコミットする。
func (h *BatchHandler[T]) flush(session sarama.ConsumerGroupSession, msgs []*sarama.ConsumerMessage, ts []T) {
	if len(msgs) == 0 {
		return
	}
	if err := h.fn(session.Context(), msgs, ts); err != nil {
		h.l.Error("バッチ処理に失敗",
			logger.String("topic", msgs[0].Topic),
			logger.Int("size", len(msgs)),
			logger.Error(err))
	}
	for _, msg := range msgs {
		session.MarkMessage(msg, "")
	}
}
