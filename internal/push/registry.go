// Package push はWebSocketによるリアルタイム配信を提供する。
//
// ユーザーごとに配信チャネル（Redis Pub/Sub）を1つだけ購読し、そのユーザーの
// 開いているセッションすべてへ届いたペイロードを書き込む。購読はシャード化した
// Registryで管理し、最初のセッションで作成、最後のセッションの切断で解除する。
package push

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/nao1215/chirpline/pkg/logger"
)

// DefaultShards はRegistryのシャード数の既定値。
const DefaultShards = 32

// Subscriber はユーザーごとの配信チャネルを購読する。
type Subscriber interface {
	// Subscribe はuserIDの配信チャネルを購読し、届いたメッセージをhandlerに渡す。
	// 戻り値の関数で購読を解除する。
	Subscribe(ctx context.Context, userID int64, handler func([]byte)) (func() error, error)
}

type shard struct {
	mu   sync.Mutex
	subs map[int64]*Subscription
}

// Registry はユーザーIDから購読への対応を管理する。
// 同じシャード内の作成・参加・解除はシャードのロックで直列化される。
type Registry struct {
	shards     []*shard
	subscriber Subscriber
	l          logger.LoggerV1
}

// NewRegistry は新しいRegistryを生成する。shardsが0以下の場合はDefaultShardsを使う。
func NewRegistry(subscriber Subscriber, shards int, l logger.LoggerV1) *Registry {
	if shards <= 0 {
		shards = DefaultShards
	}
	r := &Registry{
		shards:     make([]*shard, shards),
		subscriber: subscriber,
		l:          l,
	}
	for i := range r.shards {
		r.shards[i] = &shard{subs: make(map[int64]*Subscription)}
	}
	return r
}

func (r *Registry) shardFor(userID int64) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(userID, 10)))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Open はセッションをユーザーの購読に参加させる。購読がなければ作成して配信チャネルを購読する。
// 購読に失敗した場合は何も登録しない。
func (r *Registry) Open(ctx context.Context, userID int64, c Conn) error {
	sh := r.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sub, ok := sh.subs[userID]; ok {
		sub.add(c)
		return nil
	}

	sub := newSubscription(userID, r.l)
	sub.add(c)
	unsubscribe, err := r.subscriber.Subscribe(ctx, userID, sub.OnMessage)
	if err != nil {
		return fmt.Errorf("配信チャネルの購読に失敗: %w", err)
	}
	sub.unsubscribe = unsubscribe
	sh.subs[userID] = sub
	r.l.Debug("配信チャネルを購読", logger.Int64("user_id", userID))
	return nil
}

// Close はセッションを購読から外す。最後のセッションだった場合は購読を解除する。
// 未登録のユーザーやセッションに対しては何もしない。
func (r *Registry) Close(userID int64, sessionID string) {
	sh := r.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sub, ok := sh.subs[userID]
	if !ok {
		return
	}
	if sub.remove(sessionID) > 0 {
		return
	}
	delete(sh.subs, userID)
	r.release(sub)
}

// Shutdown はすべての購読を解除する。
func (r *Registry) Shutdown() {
	for _, sh := range r.shards {
		sh.mu.Lock()
		for userID, sub := range sh.subs {
			delete(sh.subs, userID)
			r.release(sub)
		}
		sh.mu.Unlock()
	}
}

func (r *Registry) release(sub *Subscription) {
	if sub.unsubscribe == nil {
		return
	}
	if err := sub.unsubscribe(); err != nil {
		r.l.Warn("配信チャネルの購読解除に失敗", logger.Int64("user_id", sub.userID), logger.Error(err))
		return
	}
	r.l.Debug("配信チャネルの購読を解除", logger.Int64("user_id", sub.userID))
}

// Subscriptions は購読中のユーザー数を返す。
func (r *Registry) Subscriptions() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.Lock()
		n += len(sh.subs)
		sh.mu.Unlock()
	}
	return n
}

// Sessions はユーザーの開いているセッション数を返す。
func (r *Registry) Sessions(userID int64) int {
	sh := r.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sub, ok := sh.subs[userID]
	if !ok {
		return 0
	}
	return sub.Len()
}
