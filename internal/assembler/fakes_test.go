package assembler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nao1215/chirpline/internal/enrich"
	"github.com/nao1215/chirpline/internal/feed"
	"github.com/nao1215/chirpline/pkg/event"
)

// published は送信されたメッセージの記録。
type published struct {
	topic string
	key   string
	v     any
}

// fakePublisher は送信内容を記録するPublisher。
type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, topic, key string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic: topic, key: key, v: v})
	return nil
}

func (f *fakePublisher) byTopic(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []published
	for _, m := range f.msgs {
		if m.topic == topic {
			res = append(res, m)
		}
	}
	return res
}

// fakeEnrich は外部サービスを代用する。
type fakeEnrich struct {
	entities   map[int64]enrich.Entity
	blocked    map[enrich.Pair]bool
	followers  []int64
	online     map[int64]bool
	byAuthor   map[int64][]int64
	countErr   error
	entityErr  error
	blockErr   error
	contentErr error
	entityReqs atomic.Int32
}

func (f *fakeEnrich) FetchEntities(_ context.Context, ids []int64) (map[int64]enrich.Entity, error) {
	f.entityReqs.Add(1)
	if f.entityErr != nil {
		return nil, f.entityErr
	}
	res := make(map[int64]enrich.Entity)
	for _, id := range ids {
		if e, ok := f.entities[id]; ok {
			res[id] = e
		}
	}
	return res, nil
}

func (f *fakeEnrich) BlockedPairs(_ context.Context, pairs []enrich.Pair) (map[enrich.Pair]bool, error) {
	if f.blockErr != nil {
		return nil, f.blockErr
	}
	res := make(map[enrich.Pair]bool)
	for _, p := range pairs {
		if f.blocked[p] {
			res[p] = true
		}
	}
	return res, nil
}

func (f *fakeEnrich) FetchFollowerCount(_ context.Context, _ int64) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.followers), nil
}

func (f *fakeEnrich) FetchFollowerPage(_ context.Context, _ int64, pageIndex, pageSize int) ([]int64, error) {
	start := pageIndex * pageSize
	if start >= len(f.followers) {
		return nil, nil
	}
	end := min(start+pageSize, len(f.followers))
	return f.followers[start:end], nil
}

func (f *fakeEnrich) CheckOnline(_ context.Context, ids []int64) (map[int64]bool, error) {
	res := make(map[int64]bool, len(ids))
	for _, id := range ids {
		res[id] = f.online[id]
	}
	return res, nil
}

func (f *fakeEnrich) FetchContentIDsByAuthor(_ context.Context, authorIDs []int64) (map[int64][]int64, error) {
	if f.contentErr != nil {
		return nil, f.contentErr
	}
	res := make(map[int64][]int64)
	for _, id := range authorIDs {
		if ids, ok := f.byAuthor[id]; ok {
			res[id] = ids
		}
	}
	return res, nil
}

// fakeFeed は呼び出しを記録するfeed.Store。
type fakeFeed struct {
	feed.Store
	mu        sync.Mutex
	added     map[feed.Entry]int
	removed   []feed.Entry
	removeErr error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{added: make(map[feed.Entry]int)}
}

func (f *fakeFeed) AddBatch(_ context.Context, entries []feed.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		f.added[e]++
	}
	return nil
}

func (f *fakeFeed) RemoveBatch(_ context.Context, recipientID int64, contentIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	for _, id := range contentIDs {
		f.removed = append(f.removed, feed.Entry{RecipientID: recipientID, ContentID: id})
	}
	return nil
}

func (f *fakeFeed) RemoveEntries(_ context.Context, entries []feed.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, entries...)
	return nil
}

// waitSpawner は起動したタスクの数を数え、完了を待てるSpawner。
type waitSpawner struct {
	wg    sync.WaitGroup
	count atomic.Int32
}

func (s *waitSpawner) Go(task func()) {
	s.count.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		task()
	}()
}

// seqIDs は1から順にIDを払い出すidgen.Generator。
type seqIDs struct {
	n atomic.Int64
}

func (s *seqIDs) Next() int64 {
	return s.n.Add(1)
}

// fakeSaver は保存されたレコードを記録するNoticeSaver。
type fakeSaver struct {
	mu    sync.Mutex
	saved []event.Notification
	err   error
}

func (f *fakeSaver) SaveBatch(_ context.Context, records []event.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, records...)
	return nil
}
