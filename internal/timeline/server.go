// Package timeline はフィードの書き込みと読み出しを担うサービスを組み立てる。
//
// 新規投稿をフォロワーのフィードへファンアウトし、フォロー解除された投稿者の
// 投稿をフィードから取り除く。フィードの読み出しAPIもこのサービスが提供する。
package timeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/chirpline/internal/assembler"
	"github.com/nao1215/chirpline/internal/enrich"
	"github.com/nao1215/chirpline/internal/feed"
	"github.com/nao1215/chirpline/pkg/config"
	"github.com/nao1215/chirpline/pkg/event"
	"github.com/nao1215/chirpline/pkg/idgen"
	"github.com/nao1215/chirpline/pkg/logger"
	"github.com/nao1215/chirpline/pkg/middleware"
	"github.com/nao1215/chirpline/pkg/saramax"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const serviceName = "timeline"

const shutdownTimeout = 10 * time.Second

// Deps はServerが使う外部接続。
type Deps struct {
	// Producer はTWEETED通知と再投入の送信に使う。
	Producer *saramax.Producer
	// Redis はフィードの保存先。
	Redis *redis.Client
	// Enrich はエンティティサービスのクライアント。
	Enrich enrich.Client
	// IDs はTWEETED通知のID生成器。
	IDs idgen.Generator
	// Groups はコンシューマグループのメンバーを生成する。引数はグループID。
	Groups func(groupID string) saramax.GroupFactory
}

// Server はtimelineサービス。
type Server struct {
	cfg    *config.Config
	deps   Deps
	router *gin.Engine
	groups []*saramax.Group
	l      logger.LoggerV1
}

// Open は設定に従って外部へ接続し、Serverを生成する。
func Open(_ context.Context, cfg *config.Config, l logger.LoggerV1) (*Server, error) {
	ids, err := idgen.NewSnowflake(cfg.Snowflake.TimelineNode)
	if err != nil {
		return nil, err
	}
	kcfg := saramax.NewConfig(cfg.Kafka.ClientID)
	producer, err := saramax.Dial(cfg.Kafka.Brokers, kcfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	return New(cfg, Deps{
		Producer: producer,
		Redis:    rdb,
		Enrich:   enrich.NewHTTPClient(cfg.Services.ChirperURL, cfg.Services.UserURL, cfg.Services.AuthURL, cfg.Services.Timeout),
		IDs:      ids,
		Groups: func(groupID string) saramax.GroupFactory {
			return saramax.NewGroupFactory(cfg.Kafka.Brokers, groupID, kcfg)
		},
	}, l), nil
}

// New は接続済みの依存からServerを組み立てる。コンシューマはRunで起動する。
func New(cfg *config.Config, deps Deps, l logger.LoggerV1) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store := feed.NewInstrumentedStore(
		feed.NewRedisStore(deps.Redis, deps.Enrich, cfg.Feed.PageSize, cfg.Feed.BackfillSize, l), reg)
	spawner := assembler.NewGoSpawner(l)

	fanout := assembler.NewFanout(assembler.FanoutConfig{
		PublishTopic: cfg.Topics.Publish,
		TweetedTopic: cfg.Topics.Tweeted,
		PageSize:     cfg.Feed.FollowerPageSize,
		MaxRetry:     cfg.Feed.MaxRetry,
	}, deps.Enrich, store, deps.Producer, spawner, deps.IDs, l)
	unfollow := assembler.NewUnfollow(cfg.Topics.Unfollow, cfg.Feed.MaxRetry, deps.Enrich, store, deps.Producer, spawner, l)

	s := &Server{cfg: cfg, deps: deps, l: l}
	if deps.Groups != nil {
		workers := cfg.Kafka.Workers
		s.groups = []*saramax.Group{
			saramax.NewGroup("fanout", deps.Groups("timeline-fanout"), []string{cfg.Topics.Publish}, workers,
				saramax.NewHandler[event.Envelope[event.Publish]](l, fanout.Consume), l),
			saramax.NewGroup("unfollow", deps.Groups("timeline-unfollow"), []string{cfg.Topics.Unfollow}, workers,
				saramax.NewBatchHandler(l, unfollow.Consume,
					saramax.WithBatchSize(cfg.Kafka.BatchSize),
					saramax.WithBatchWait(cfg.Kafka.BatchWait)), l),
		}
	}

	router := gin.New()
	router.Use(middleware.Recovery(l))
	router.Use(middleware.AccessLog(gin.DefaultWriter))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.Metrics(reg, "chirpline", serviceName))

	api := router.Group("/api/v1")
	api.Use(middleware.JWTAuth(cfg.JWT.Secret))
	{
		feed.NewHandler(store, l).RegisterRoutes(api)
	}

	// ヘルスチェック
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	s.router = router
	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はコンシューマとHTTPサーバーを起動し、ctxが取り消されるまで動き続ける。
func (s *Server) Run(ctx context.Context) error {
	for _, g := range s.groups {
		if err := g.Start(ctx); err != nil {
			s.stopGroups()
			return errors.Join(err, s.close())
		}
	}

	srv := &http.Server{
		Addr:              ":" + s.cfg.Server.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s.l.Info("timelineサービスを起動します", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err := eg.Wait()

	s.stopGroups()
	return errors.Join(err, s.close())
}

func (s *Server) stopGroups() {
	for _, g := range s.groups {
		if err := g.Stop(); err != nil {
			s.l.Warn("コンシューマグループの停止に失敗", logger.Error(err))
		}
	}
}

func (s *Server) close() error {
	var errs []error
	if s.deps.Producer != nil {
		errs = append(errs, s.deps.Producer.Close())
	}
	if s.deps.Redis != nil {
		errs = append(errs, s.deps.Redis.Close())
	}
	return errors.Join(errs...)
}
