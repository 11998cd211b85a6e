package assembler

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/IBM/sarama"
	"github.com/nao1215/chirpline/internal/enrich"
	"github.com/nao1215/chirpline/internal/notice"
	"github.com/nao1215/chirpline/pkg/event"
	"github.com/nao1215/chirpline/pkg/idgen"
	"github.com/nao1215/chirpline/pkg/logger"
)

// EntityFetcher は参照先エンティティの要約を取得する。
type EntityFetcher interface {
	FetchEntities(ctx context.Context, ids []int64) (map[int64]enrich.Entity, error)
}

// Interaction はいいね・転送・引用・返信・メンションのイベントを通知に組み立てる。
type Interaction struct {
	// events はトピック名から通知イベントへの対応。
	events   map[string]event.NoticeEvent
	entities EntityFetcher
	ids      idgen.Generator
	sink     *sink
	l        logger.LoggerV1
	now      func() time.Time
}

// NewInteraction は新しいInteractionを生成する。
// eventsは購読するトピック名と、そのトピックのイベントが表す通知イベントの対応。
func NewInteraction(events map[string]event.NoticeEvent, noticeTopic string, entities EntityFetcher,
	checker notice.BlockChecker, store NoticeSaver, pub Publisher, ids idgen.Generator, l logger.LoggerV1) *Interaction {
	return &Interaction{
		events:   events,
		entities: entities,
		ids:      ids,
		sink:     &sink{checker: checker, store: store, pub: pub, topic: noticeTopic, l: l},
		l:        l,
		now:      time.Now,
	}
}

// Topics は購読するトピック名を名前順に返す。
func (a *Interaction) Topics() []string {
	return slices.Sorted(maps.Keys(a.events))
}

// Consume はsaramax.BatchFuncとしてバッチを処理する。
// msgsとactionsは同じ添字で対応する。
func (a *Interaction) Consume(ctx context.Context, msgs []*sarama.ConsumerMessage, actions []event.Action) error {
	records, err := a.assemble(ctx, msgs, actions)
	if err != nil {
		return err
	}
	return a.sink.deliver(ctx, records)
}

// assemble は生のイベントを通知レコードにする。
// 取り消し操作、トピックが不明なもの、受信者が解決できないもの、自分宛てのものは落とす。
func (a *Interaction) assemble(ctx context.Context, msgs []*sarama.ConsumerMessage, actions []event.Action) ([]event.Notification, error) {
	lookup := make([]int64, 0, len(actions))
	for _, act := range actions {
		if act.Receiver == nil && !act.IsUndo() {
			lookup = append(lookup, act.Target)
		}
	}
	entities := map[int64]enrich.Entity{}
	if len(lookup) > 0 {
		var err error
		entities, err = a.entities.FetchEntities(ctx, lookup)
		if err != nil {
			return nil, fmt.Errorf("参照先エンティティの取得に失敗: %w", err)
		}
	}

	now := a.now()
	records := make([]event.Notification, 0, len(actions))
	for i, act := range actions {
		if act.IsUndo() {
			continue
		}
		ev, ok := a.events[msgs[i].Topic]
		if !ok {
			a.l.Warn("未知のトピックのイベントを破棄", logger.String("topic", msgs[i].Topic))
			continue
		}

		var receiver int64
		if act.Receiver != nil {
			receiver = *act.Receiver
		} else {
			entity, found := entities[act.Target]
			if !found {
				a.l.Debug("参照先エンティティが見つからない", logger.Int64("target", act.Target))
				continue
			}
			receiver = entity.AuthorID
		}
		if receiver == act.Operator {
			continue
		}

		records = append(records, event.Notification{
			ID:         a.ids.Next(),
			SenderID:   act.Operator,
			ReceiverID: receiver,
			EntityType: event.EntityTypeContent,
			SonEntity:  act.Target,
			Event:      ev,
			NoticeType: event.NoticeTypeUser,
			Status:     event.StatusUnread,
			CreatedAt:  now,
		})
	}
	return records, nil
}
