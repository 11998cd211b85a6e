package saramax

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
)

// NewConfig はこのシステムで使うsaramaの共通設定を生成する。
// SyncProducerの要件としてSuccessesの返却を有効にする。
func NewConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	return cfg
}

// Producer はJSONにシリアライズしたメッセージを同期送信するプロデューサ。
type Producer struct {
	// p は送信に使うsaramaのSyncProducer。
	p sarama.SyncProducer
}

// NewProducer は既存のSyncProducerからProducerを生成する。
func NewProducer(p sarama.SyncProducer) *Producer {
	return &Producer{p: p}
}

// Dial はブローカーに接続してProducerを生成する。
func Dial(addrs []string, cfg *sarama.Config) (*Producer, error) {
	p, err := sarama.NewSyncProducer(addrs, cfg)
	if err != nil {
		return nil, fmt.Errorf("プロデューサの生成に失敗: %w", err)
	}
	return NewProducer(p), nil
}

// Publish はvをJSONにシリアライズしてtopicへ送信する。
// keyが空でなければパーティションキーとして使う。
func (p *Producer) Publish(ctx context.Context, topic, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("メッセージのシリアライズに失敗: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(data),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	if _, _, err := p.p.SendMessage(msg); err != nil {
		return fmt.Errorf("メッセージの送信に失敗 (topic=%s): %w", topic, err)
	}
	return nil
}

// Close はプロデューサを閉じる。
func (p *Producer) Close() error {
	return p.p.Close()
}
