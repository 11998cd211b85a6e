package feed

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// InstrumentedStore はStoreの呼び出しを計数するデコレータ。
type InstrumentedStore struct {
	Store
	entries *prometheus.CounterVec
	inits   *prometheus.CounterVec
	reads   *prometheus.CounterVec
}

// wrapper は内部の補充処理もデコレータ経由で呼ばせるためのフック。
type wrapper interface {
	wrap(outer Store)
}

// NewInstrumentedStore はstoreを計数付きで包む。カウンタはregに登録する。
// GetPageが内部で行う初期化と補充もこのデコレータで計数される。
func NewInstrumentedStore(store Store, reg prometheus.Registerer) *InstrumentedStore {
	s := &InstrumentedStore{
		Store: store,
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chirpline",
			Subsystem: "feed",
			Name:      "entries_total",
			Help:      "フィードへ追加・削除を要求したエントリ数",
		}, []string{"op"}),
		inits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chirpline",
			Subsystem: "feed",
			Name:      "init_total",
			Help:      "フィード初期化の呼び出し回数",
		}, []string{"result"}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chirpline",
			Subsystem: "feed",
			Name:      "reads_total",
			Help:      "フィードの読み取り回数",
		}, []string{"kind"}),
	}
	reg.MustRegister(s.entries, s.inits, s.reads)
	if w, ok := store.(wrapper); ok {
		w.wrap(s)
	}
	return s
}

func (s *InstrumentedStore) InitFeed(ctx context.Context, userID int64) error {
	err := s.Store.InitFeed(ctx, userID)
	s.inits.WithLabelValues(result(err)).Inc()
	return err
}

func (s *InstrumentedStore) AddOne(ctx context.Context, entry Entry) error {
	s.entries.WithLabelValues("add").Inc()
	return s.Store.AddOne(ctx, entry)
}

func (s *InstrumentedStore) AddBatch(ctx context.Context, entries []Entry) error {
	s.entries.WithLabelValues("add").Add(float64(len(entries)))
	return s.Store.AddBatch(ctx, entries)
}

func (s *InstrumentedStore) RemoveBatch(ctx context.Context, recipientID int64, contentIDs []int64) error {
	s.entries.WithLabelValues("remove").Add(float64(len(contentIDs)))
	return s.Store.RemoveBatch(ctx, recipientID, contentIDs)
}

func (s *InstrumentedStore) RemoveEntries(ctx context.Context, entries []Entry) error {
	s.entries.WithLabelValues("remove").Add(float64(len(entries)))
	return s.Store.RemoveEntries(ctx, entries)
}

func (s *InstrumentedStore) GetPage(ctx context.Context, recipientID int64, pageIndex int) ([]Entry, error) {
	s.reads.WithLabelValues("page").Inc()
	return s.Store.GetPage(ctx, recipientID, pageIndex)
}

func (s *InstrumentedStore) GetPageByScore(ctx context.Context, recipientID int64, beforeScore int64) ([]Entry, error) {
	s.reads.WithLabelValues("score").Inc()
	return s.Store.GetPageByScore(ctx, recipientID, beforeScore)
}

func (s *InstrumentedStore) GetRange(ctx context.Context, recipientID int64, start, end int64) ([]Entry, error) {
	s.reads.WithLabelValues("range").Inc()
	return s.Store.GetRange(ctx, recipientID, start, end)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
