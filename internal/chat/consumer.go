package chat

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/nao1215/chirpline/pkg/event"
	"github.com/nao1215/chirpline/pkg/logger"
)

// Saver はチャットメッセージをまとめて保存する。
type Saver interface {
	SaveBatch(ctx context.Context, chats []event.Chat) error
}

// Consumer はチャットトピックのバッチを保存する。
type Consumer struct {
	store Saver
	l     logger.LoggerV1
}

// NewConsumer は新しいConsumerを生成する。
func NewConsumer(store Saver, l logger.LoggerV1) *Consumer {
	return &Consumer{store: store, l: l}
}

// Consume はバッチを保存する。保存に失敗したバッチも再配送しない。
func (c *Consumer) Consume(ctx context.Context, _ []*sarama.ConsumerMessage, chats []event.Chat) error {
	if err := c.store.SaveBatch(ctx, chats); err != nil {
		c.l.Error("チャットメッセージの保存に失敗", logger.Int("size", len(chats)), logger.Error(err))
	}
	return nil
}
