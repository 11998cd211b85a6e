// Package delivery は通知トピックに流れた通知レコードを受信者の配信チャネルへ送る。
package delivery

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/nao1215/chirpline/pkg/event"
	"github.com/nao1215/chirpline/pkg/logger"
)

// PayloadPublisher はユーザーの配信チャネルへペイロードを送信する。
type PayloadPublisher interface {
	PublishPayload(ctx context.Context, userID int64, payload event.Payload) error
}

// Dispatcher は通知レコードのバッチを受信者ごとにまとめて配信する。
type Dispatcher struct {
	topics   []string
	channels PayloadPublisher
	l        logger.LoggerV1
}

// NewDispatcher は新しいDispatcherを生成する。topicsは購読する通知トピック。
func NewDispatcher(topics []string, channels PayloadPublisher, l logger.LoggerV1) *Dispatcher {
	return &Dispatcher{topics: topics, channels: channels, l: l}
}

// Topics は購読するトピックを返す。
func (d *Dispatcher) Topics() []string {
	return d.topics
}

// Consume はバッチを受信者ごとに {"NOTICE":[...]} にまとめて送信する。
// 受信者ごとの送信失敗はログに残し、他の受信者への送信は続ける。
func (d *Dispatcher) Consume(ctx context.Context, _ []*sarama.ConsumerMessage, notices []event.Notification) error {
	for _, g := range groupByReceiver(notices) {
		p, err := event.NewPayload(event.KindNotice, g.records)
		if err != nil {
			d.l.Error("通知ペイロードの生成に失敗", logger.Int64("receiver_id", g.receiverID), logger.Error(err))
			continue
		}
		if err := d.channels.PublishPayload(ctx, g.receiverID, p); err != nil {
			d.l.Warn("通知の配信に失敗",
				logger.Int64("receiver_id", g.receiverID),
				logger.Int("size", len(g.records)),
				logger.Error(err))
		}
	}
	return nil
}

type receiverGroup struct {
	receiverID int64
	records    []event.Notification
}

// groupByReceiver は受信者ごとにレコードをまとめる。受信者の並びと各受信者内の並びはバッチ内の順序を保つ。
// UNREACHABLEのレコードは配信しない。
func groupByReceiver(notices []event.Notification) []receiverGroup {
	index := make(map[int64]int)
	var groups []receiverGroup
	for _, n := range notices {
		if n.Status == event.StatusUnreachable {
			continue
		}
		i, ok := index[n.ReceiverID]
		if !ok {
			i = len(groups)
			index[n.ReceiverID] = i
			groups = append(groups, receiverGroup{receiverID: n.ReceiverID})
		}
		groups[i].records = append(groups[i].records, n)
	}
	return groups
}
