package saramax

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"github.com/nao1215/chirpline/pkg/logger"
)

// Func はデコード済みの1メッセージを処理する業務関数。
type Func[T any] func(ctx context.Context, msg *sarama.ConsumerMessage, t T) error

// Handler はメッセージを1件ずつ業務関数に渡すConsumerGroupHandler。
type Handler[T any] struct {
	// l はログ出力先。
	l logger.LoggerV1
	// fn はメッセージを処理する業務関数。
	fn Func[T]
}

// NewHandler は新しいHandlerを生成する。
func NewHandler[T any](l logger.LoggerV1, fn Func[T]) *Handler[T] {
	return &Handler[T]{l: l, fn: fn}
}

func (h *Handler[T]) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *Handler[T]) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim はパーティションのメッセージを順に処理し、1件ごとにコミットする。
func (h *Handler[T]) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.handle(session, msg)
		}
	}
}

func (h *Handler[T]) handle(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) {
	defer session.MarkMessage(msg, "")

	var t T
	if err := json.Unmarshal(msg.Value, &t); err != nil {
		h.l.Error("メッセージのデシリアライズに失敗",
			logger.String("topic", msg.Topic),
			logger.Int32("partition", msg.Partition),
			logger.Int64("offset", msg.Offset),
			logger.Error(err))
		return
	}
	if err := h.fn(session.Context(), msg, t); err != nil {
		h.l.Error("メッセージ処理に失敗",
			logger.String("topic", msg.Topic),
			logger.Int32("partition", msg.Partition),
			logger.Int64("offset", msg.Offset),
			logger.Error(err))
	}
}
