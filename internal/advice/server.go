// Package advice は通知とリアルタイム配信を担うサービスを組み立てる。
//
// いいね等の操作イベントとフォローイベントを通知に組み立てて保存・送信し、
// 通知トピックとチャットを受信者のWebSocketセッションへ届ける。
// 通知APIと会話履歴APIもこのサービスが提供する。
package advice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/chirpline/internal/assembler"
	"github.com/nao1215/chirpline/internal/chat"
	"github.com/nao1215/chirpline/internal/delivery"
	"github.com/nao1215/chirpline/internal/enrich"
	"github.com/nao1215/chirpline/internal/notice"
	"github.com/nao1215/chirpline/internal/push"
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

// serviceName はメトリクスとヘルスチェックに出すサービス名。
const serviceName = "advice"

// shutdownTimeout はHTTPサーバーの停止を待つ最大時間。
const shutdownTimeout = 10 * time.Second

// Deps はServerが使う外部接続。
type Deps struct {
	// Producer はブローカーへの送信に使う。
	Producer *saramax.Producer
	// Redis は配信チャネルのPub/Subに使う。
	Redis *redis.Client
	// Notices は通知ストア。
	Notices *notice.Store
	// Chats はチャットストア。
	Chats *chat.Store
	// Enrich はエンティティサービスのクライアント。
	Enrich enrich.Client
	// IDs は通知とチャットのID生成器。
	IDs idgen.Generator
	// Groups はコンシューマグループのメンバーを生成する。引数はグループID。
	Groups func(groupID string) saramax.GroupFactory
}

// Server はadviceサービス。
type Server struct {
	cfg      *config.Config
	deps     Deps
	router   *gin.Engine
	registry *push.Registry
	groups   []*saramax.Group
	l        logger.LoggerV1
}

// Open は設定に従って外部へ接続し、Serverを生成する。
func Open(ctx context.Context, cfg *config.Config, l logger.LoggerV1) (*Server, error) {
	ids, err := idgen.NewSnowflake(cfg.Snowflake.AdviceNode)
	if err != nil {
		return nil, err
	}
	kcfg := saramax.NewConfig(cfg.Kafka.ClientID)
	producer, err := saramax.Dial(cfg.Kafka.Brokers, kcfg)
	if err != nil {
		return nil, err
	}
	notices, err := notice.OpenStore(ctx, cfg.Database.NotificationDSN, l)
	if err != nil {
		producer.Close()
		return nil, err
	}
	chats, err := chat.OpenStore(ctx, cfg.Database.ChatDSN, l)
	if err != nil {
		producer.Close()
		notices.Close()
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
		Notices:  notices,
		Chats:    chats,
		Enrich:   enrich.NewHTTPClient(cfg.Services.ChirperURL, cfg.Services.UserURL, cfg.Services.AuthURL, cfg.Services.Timeout),
		IDs:      ids,
		Groups: func(groupID string) saramax.GroupFactory {
			return saramax.NewGroupFactory(cfg.Kafka.Brokers, groupID, kcfg)
		},
	}, l), nil
}

// New は接続済みの依存からServerを組み立てる。コンシューマはRunで起動する。
func New(cfg *config.Config, deps Deps, l logger.LoggerV1) *Server {
	topics := cfg.Topics
	channels := push.NewChannelPublisher(deps.Redis, cfg.Redis.ChannelPrefix)

	interaction := assembler.NewInteraction(map[string]event.NoticeEvent{
		topics.Like:      event.NoticeEventLike,
		topics.Forward:   event.NoticeEventForward,
		topics.Quote:     event.NoticeEventQuote,
		topics.Reply:     event.NoticeEventReply,
		topics.Mentioned: event.NoticeEventMentioned,
	}, topics.Notice, deps.Enrich, deps.Enrich, deps.Notices, deps.Producer, deps.IDs, l)
	relationship := assembler.NewRelationship(topics.Notice, deps.Enrich, deps.Notices, deps.Producer, deps.IDs, l)
	dispatcher := delivery.NewDispatcher([]string{topics.Notice, topics.Tweeted}, channels, l)
	chatService := chat.NewService(topics.Chat, deps.IDs, deps.Producer, channels, l)
	chatConsumer := chat.NewConsumer(deps.Chats, l)

	batch := []saramax.BatchOption{
		saramax.WithBatchSize(cfg.Kafka.BatchSize),
		saramax.WithBatchWait(cfg.Kafka.BatchWait),
	}
	workers := cfg.Kafka.Workers

	s := &Server{
		cfg:      cfg,
		deps:     deps,
		registry: push.NewRegistry(push.NewRedisSubscriber(deps.Redis, cfg.Redis.ChannelPrefix, l), cfg.Push.Shards, l),
		l:        l,
	}
	if deps.Groups != nil {
		s.groups = []*saramax.Group{
			saramax.NewGroup("interaction", deps.Groups("advice-interaction"), interaction.Topics(), workers,
				saramax.NewBatchHandler(l, interaction.Consume, batch...), l),
			saramax.NewGroup("relationship", deps.Groups("advice-relationship"), []string{topics.Follow}, workers,
				saramax.NewBatchHandler(l, relationship.Consume, batch...), l),
			saramax.NewGroup("delivery", deps.Groups("advice-delivery"), dispatcher.Topics(), workers,
				saramax.NewBatchHandler(l, dispatcher.Consume, batch...), l),
			saramax.NewGroup("chat", deps.Groups("advice-chat"), []string{topics.Chat}, workers,
				saramax.NewBatchHandler(l, chatConsumer.Consume, batch...), l),
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	router := gin.New()
	router.Use(middleware.Recovery(l))
	router.Use(middleware.AccessLog(gin.DefaultWriter))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.Metrics(reg, "chirpline", serviceName))

	auth := middleware.JWTAuth(cfg.JWT.Secret)
	api := router.Group("/api/v1")
	api.Use(auth)
	{
		notice.NewHandler(deps.Notices, l).RegisterRoutes(api)
		chat.NewHandler(deps.Chats, l).RegisterRoutes(api)
	}

	push.NewHandler(push.HandlerConfig{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		ConnectTopic:    topics.Connect,
		DisconnectTopic: topics.Disconnect,
		ReadDeadline:    cfg.Push.ReadDeadline,
		WriteTimeout:    cfg.Push.WriteTimeout,
	}, s.registry, chatService, deps.Producer, l).RegisterRoutes(router.Group("", auth))

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
// 停止時はHTTPサーバー、コンシューマ、購読、外部接続の順に閉じる。
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
		s.l.Info("adviceサービスを起動します", logger.String("addr", srv.Addr))
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
	s.registry.Shutdown()
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
	if s.deps.Notices != nil {
		errs = append(errs, s.deps.Notices.Close())
	}
	if s.deps.Chats != nil {
		errs = append(errs, s.deps.Chats.Close())
	}
	if s.deps.Redis != nil {
		errs = append(errs, s.deps.Redis.Close())
	}
	return errors.Join(errs...)
}
