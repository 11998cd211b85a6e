package push

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nao1215/chirpline/pkg/event"
	"github.com/nao1215/chirpline/pkg/logger"
	"github.com/nao1215/chirpline/pkg/middleware"
)

const (
	// Heartbeat はクライアントが送るハートビートのフレーム。同じ文字列を返す。
	Heartbeat = "HEARTBEAT"

	defaultReadDeadline = 90 * time.Second
	defaultWriteTimeout = 10 * time.Second
	readLimit           = int64(4 << 10)
)

// ChatSender はクライアントから受け取ったチャットメッセージを送信する。
type ChatSender interface {
	Send(ctx context.Context, chat event.Chat) (event.Chat, error)
}

// EventPublisher はブローカーへイベントを送信する。
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, v any) error
}

// HandlerConfig はWebSocketハンドラの設定。
type HandlerConfig struct {
	// AllowedOrigins はハンドシェイクを許可するオリジン。
	AllowedOrigins []string
	// ConnectTopic は接続イベントの送信先。空なら送信しない。
	ConnectTopic string
	// DisconnectTopic は切断イベントの送信先。空なら送信しない。
	DisconnectTopic string
	// ReadDeadline はフレームが届かなくなってから切断するまでの時間。
	ReadDeadline time.Duration
	// WriteTimeout は1フレームの書き込みタイムアウト。
	WriteTimeout time.Duration
}

// Handler はWebSocketのハンドシェイクと読み取りループを担う。
type Handler struct {
	registry *Registry
	chats    ChatSender
	pub      EventPublisher
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	l        logger.LoggerV1
}

// NewHandler は新しいHandlerを生成する。
func NewHandler(cfg HandlerConfig, registry *Registry, chats ChatSender, pub EventPublisher, l logger.LoggerV1) *Handler {
	if cfg.ReadDeadline <= 0 {
		cfg.ReadDeadline = defaultReadDeadline
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Handler{
		registry: registry,
		chats:    chats,
		pub:      pub,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: middleware.AllowOrigin(cfg.AllowedOrigins),
		},
		l: l,
	}
}

// RegisterRoutes はWebSocketのエンドポイントを登録する。認証ミドルウェアは呼び出し側で適用する。
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "認証が必要です"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.l.Warn("WebSocketへのアップグレードに失敗", logger.Int64("user_id", userID), logger.Error(err))
		return
	}

	// ハイジャック後はリクエストのコンテキストがハンドラの終了で取り消される
	ctx := context.WithoutCancel(c.Request.Context())
	sess := NewSession(userID, conn, h.cfg.WriteTimeout)
	if err := h.registry.Open(ctx, userID, sess); err != nil {
		h.l.Error("セッションの登録に失敗", logger.Int64("user_id", userID), logger.Error(err))
		_ = sess.Close()
		return
	}
	h.l.Info("WebSocketに接続",
		logger.Int64("user_id", userID),
		logger.String("session_id", sess.ID()))
	h.publishPresence(ctx, h.cfg.ConnectTopic, sess)

	go h.readLoop(ctx, sess, conn)
}

func (h *Handler) readLoop(ctx context.Context, sess *Session, conn *websocket.Conn) {
	defer func() {
		h.registry.Close(sess.UserID(), sess.ID())
		_ = sess.Close()
		h.publishPresence(ctx, h.cfg.DisconnectTopic, sess)
		h.l.Info("WebSocketを切断",
			logger.Int64("user_id", sess.UserID()),
			logger.String("session_id", sess.ID()))
	}()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.ReadDeadline))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.l.Warn("WebSocketの読み取りに失敗", logger.String("session_id", sess.ID()), logger.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadDeadline))

		if strings.TrimSpace(string(data)) == Heartbeat {
			if err := sess.Write([]byte(Heartbeat)); err != nil {
				h.l.Warn("ハートビートの応答に失敗", logger.String("session_id", sess.ID()), logger.Error(err))
				return
			}
			continue
		}
		h.handleChat(ctx, sess, data)
	}
}

// handleChat はクライアントのチャットメッセージを送信し、送信結果を送信者のセッションへ返す。
// 送信者IDはクライアントの申告ではなく認証済みのユーザーIDを使う。
func (h *Handler) handleChat(ctx context.Context, sess *Session, data []byte) {
	chat, err := event.DecodeData[event.Chat](data)
	if err != nil {
		h.l.Warn("チャットメッセージのデコードに失敗", logger.String("session_id", sess.ID()), logger.Error(err))
		return
	}
	chat.SenderID = sess.UserID()

	sent, err := h.chats.Send(ctx, *chat)
	if err != nil {
		h.l.Error("チャットメッセージの送信に失敗",
			logger.Int64("sender_id", chat.SenderID),
			logger.Int64("receiver_id", chat.ReceiverID),
			logger.Error(err))
		return
	}
	frame, err := chatStrategy{}.frame([]event.Chat{sent})
	if err != nil {
		h.l.Error("チャットフレームの生成に失敗", logger.Error(err))
		return
	}
	if err := sess.Write(frame); err != nil {
		h.l.Warn("チャットメッセージの応答に失敗", logger.String("session_id", sess.ID()), logger.Error(err))
	}
}

func (h *Handler) publishPresence(ctx context.Context, topic string, sess *Session) {
	if topic == "" || h.pub == nil {
		return
	}
	p := event.Presence{UserID: sess.UserID(), SessionID: sess.ID(), At: time.Now()}
	if err := h.pub.Publish(ctx, topic, strconv.FormatInt(sess.UserID(), 10), p); err != nil {
		h.l.Warn("接続イベントの送信に失敗",
			logger.String("topic", topic),
			logger.Int64("user_id", sess.UserID()),
			logger.Error(err))
	}
}
