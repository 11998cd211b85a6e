// Package chat はWebSocketで受け取ったチャットメッセージの中継と保存を行う。
//
// 送信されたメッセージはブローカーのチャットトピックへ流して保存させ、同時に
// 受信者の配信チャネルへ {"CHAT":[...]} として送る。
package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nao1215/chirpline/pkg/event"
	"github.com/nao1215/chirpline/pkg/idgen"
	"github.com/nao1215/chirpline/pkg/logger"
)

// ErrInvalidMessage はメッセージの受信者または本文が不正であることを表す。
var ErrInvalidMessage = errors.New("チャットメッセージが不正です")

// Publisher はブローカーへメッセージを送信する。
type Publisher interface {
	Publish(ctx context.Context, topic, key string, v any) error
}

// PayloadPublisher はユーザーの配信チャネルへペイロードを送信する。
type PayloadPublisher interface {
	PublishPayload(ctx context.Context, userID int64, payload event.Payload) error
}

// Service はチャットメッセージを中継する。
type Service struct {
	topic    string
	ids      idgen.Generator
	pub      Publisher
	channels PayloadPublisher
	now      func() time.Time
	l        logger.LoggerV1
}

// NewService は新しいServiceを生成する。
func NewService(topic string, ids idgen.Generator, pub Publisher, channels PayloadPublisher, l logger.LoggerV1) *Service {
	return &Service{
		topic:    topic,
		ids:      ids,
		pub:      pub,
		channels: channels,
		now:      time.Now,
		l:        l,
	}
}

// Send はIDと送信日時を割り当てたメッセージをチャットトピックへ送り、受信者へ配信する。
// 配信チャネルへの送信失敗はログに残すだけで、保存されたメッセージは後から履歴で取得できる。
func (s *Service) Send(ctx context.Context, chat event.Chat) (event.Chat, error) {
	if chat.ReceiverID <= 0 || chat.Content == "" {
		return event.Chat{}, ErrInvalidMessage
	}
	chat.ID = s.ids.Next()
	chat.CreatedAt = s.now()

	if err := s.pub.Publish(ctx, s.topic, strconv.FormatInt(chat.ReceiverID, 10), chat); err != nil {
		return event.Chat{}, fmt.Errorf("チャットメッセージの送信に失敗: %w", err)
	}

	p, err := event.NewPayload(event.KindChat, []event.Chat{chat})
	if err != nil {
		return event.Chat{}, err
	}
	if err := s.channels.PublishPayload(ctx, chat.ReceiverID, p); err != nil {
		s.l.Warn("チャットメッセージの配信に失敗",
			logger.Int64("chat_id", chat.ID),
			logger.Int64("receiver_id", chat.ReceiverID),
			logger.Error(err))
	}
	return chat, nil
}
