package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nao1215/chirpline/pkg/event"
	"github.com/nao1215/chirpline/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisSubscriber はRedis Pub/Subで配信チャネルを購読する。
type RedisSubscriber struct {
	client *redis.Client
	prefix string
	l      logger.LoggerV1
}

var _ Subscriber = (*RedisSubscriber)(nil)

// NewRedisSubscriber は新しいRedisSubscriberを生成する。チャネル名は prefix+ユーザーID。
func NewRedisSubscriber(client *redis.Client, prefix string, l logger.LoggerV1) *RedisSubscriber {
	return &RedisSubscriber{client: client, prefix: prefix, l: l}
}

// Subscribe は購読の確立を待ってから受信ゴルーチンを起動する。
func (s *RedisSubscriber) Subscribe(ctx context.Context, userID int64, handler func([]byte)) (func() error, error) {
	channel := s.prefix + strconv.FormatInt(userID, 10)
	ps := s.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("チャネル %s の購読に失敗: %w", channel, err)
	}

	ch := ps.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
		s.l.Debug("受信ゴルーチンを終了", logger.String("channel", channel))
	}()
	return ps.Close, nil
}

// ChannelPublisher はユーザーの配信チャネルへペイロードを送信する。
type ChannelPublisher struct {
	client redis.Cmdable
	prefix string
}

// NewChannelPublisher は新しいChannelPublisherを生成する。
func NewChannelPublisher(client redis.Cmdable, prefix string) *ChannelPublisher {
	return &ChannelPublisher{client: client, prefix: prefix}
}

// PublishPayload はuserIDの配信チャネルにペイロードを送信する。
// 購読者がいない場合も成功として扱う。
func (p *ChannelPublisher) PublishPayload(ctx context.Context, userID int64, payload event.Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ペイロードのシリアライズに失敗: %w", err)
	}
	channel := p.prefix + strconv.FormatInt(userID, 10)
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("チャネル %s への送信に失敗: %w", channel, err)
	}
	return nil
}
