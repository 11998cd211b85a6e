package assembler

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/nao1215/chirpline/internal/notice"
	"github.com/nao1215/chirpline/pkg/event"
	"github.com/nao1215/chirpline/pkg/idgen"
	"github.com/nao1215/chirpline/pkg/logger"
)

// Relationship はフォローのイベントを通知に組み立てる。
// 受信者はフォローされた側、参照先はフォローした側のユーザー。
type Relationship struct {
	ids  idgen.Generator
	sink *sink
	now  func() time.Time
}

// NewRelationship は新しいRelationshipを生成する。
func NewRelationship(noticeTopic string, checker notice.BlockChecker, store NoticeSaver,
	pub Publisher, ids idgen.Generator, l logger.LoggerV1) *Relationship {
	return &Relationship{
		ids:  ids,
		sink: &sink{checker: checker, store: store, pub: pub, topic: noticeTopic, l: l},
		now:  time.Now,
	}
}

// Consume はsaramax.BatchFuncとしてバッチを処理する。
func (a *Relationship) Consume(ctx context.Context, _ []*sarama.ConsumerMessage, actions []event.Action) error {
	now := a.now()
	records := make([]event.Notification, 0, len(actions))
	for _, act := range actions {
		if act.IsUndo() || act.Target == act.Operator {
			continue
		}
		records = append(records, event.Notification{
			ID:         a.ids.Next(),
			SenderID:   act.Operator,
			ReceiverID: act.Target,
			EntityType: event.EntityTypeUser,
			SonEntity:  act.Operator,
			Event:      event.NoticeEventFollow,
			NoticeType: event.NoticeTypeUser,
			Status:     event.StatusUnread,
			CreatedAt:  now,
		})
	}
	return a.sink.deliver(ctx, records)
}
