package saramax

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/nao1215/chirpline/pkg/logger"
)

// retryBackoff はConsumeがエラーを返した後に再開するまでの待ち時間。
const retryBackoff = time.Second

// GroupFactory はコンシューマグループのメンバーを1つ生成する。
// saramaのクライアントはメンバー間で共有できないため、ワーカーごとに呼び出す。
type GroupFactory func() (sarama.ConsumerGroup, error)

// NewGroupFactory はブローカーに接続するGroupFactoryを返す。
func NewGroupFactory(addrs []string, groupID string, cfg *sarama.Config) GroupFactory {
	return func() (sarama.ConsumerGroup, error) {
		return sarama.NewConsumerGroup(addrs, groupID, cfg)
	}
}

// Group は同じコンシューマグループに属する複数のワーカーを束ねて起動・停止する。
// ワーカーの数だけパーティションが並列に処理される。
type Group struct {
	// name はログに出すグループ名。
	name string
	// factory はメンバーを生成する関数。
	factory GroupFactory
	// topics は購読するトピック。
	topics []string
	// workers は起動するメンバー数。
	workers int
	// handler はメッセージを処理するハンドラ。
	handler sarama.ConsumerGroupHandler
	// l はログ出力先。
	l logger.LoggerV1

	// members は起動済みのメンバー。
	members []sarama.ConsumerGroup
	// cancel はワーカーのループを停止するキャンセル関数。
	cancel context.CancelFunc
	// wg はワーカーの終了を待つ。
	wg sync.WaitGroup
}

// NewGroup は新しいGroupを生成する。起動はStartで行う。
func NewGroup(name string, factory GroupFactory, topics []string, workers int,
	handler sarama.ConsumerGroupHandler, l logger.LoggerV1) *Group {
	if workers <= 0 {
		workers = 1
	}
	return &Group{
		name:    name,
		factory: factory,
		topics:  topics,
		workers: workers,
		handler: handler,
		l:       l,
	}
}

// Start はワーカーを起動する。メンバーの生成に失敗した場合は
// 生成済みのメンバーを閉じてエラーを返す。
func (g *Group) Start(ctx context.Context) error {
	members := make([]sarama.ConsumerGroup, 0, g.workers)
	for i := 0; i < g.workers; i++ {
		cg, err := g.factory()
		if err != nil {
			for _, m := range members {
				_ = m.Close()
			}
			return fmt.Errorf("コンシューマグループ %s の生成に失敗: %w", g.name, err)
		}
		members = append(members, cg)
	}
	g.members = members

	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	for i, cg := range members {
		g.wg.Add(1)
		go g.loop(ctx, i, cg)
	}
	g.l.Info("コンシューマグループを起動しました",
		logger.String("group", g.name),
		logger.Int("workers", g.workers),
		logger.Any("topics", g.topics))
	return nil
}

// loop はリバランスのたびにConsumeを呼び直す。
func (g *Group) loop(ctx context.Context, worker int, cg sarama.ConsumerGroup) {
	defer g.wg.Done()
	for {
		if err := cg.Consume(ctx, g.topics, g.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			g.l.Error("消費ループでエラーが発生",
				logger.String("group", g.name),
				logger.Int("worker", worker),
				logger.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryBackoff):
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Stop はワーカーを停止し、すべてのメンバーを閉じる。
func (g *Group) Stop() error {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()

	var errs []error
	for _, m := range g.members {
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	g.members = nil
	g.l.Info("コンシューマグループを停止しました", logger.String("group", g.name))
	return errors.Join(errs...)
}
