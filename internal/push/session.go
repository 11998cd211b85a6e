package push

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn は配信先の1セッション。
type Conn interface {
	// ID はセッションの識別子。
	ID() string
	// IsOpen はセッションに書き込めるかを返す。
	IsOpen() bool
	// Write はテキストフレームを1つ書き込む。
	Write(data []byte) error
}

// Session はWebSocket接続をConnとして扱う。
// gorilla/websocketは書き込みの並行呼び出しを許さないため、書き込みを直列化する。
type Session struct {
	id           string
	userID       int64
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	closed       atomic.Bool
}

var _ Conn = (*Session)(nil)

// NewSession は新しいSessionを生成する。
func NewSession(userID int64, conn *websocket.Conn, writeTimeout time.Duration) *Session {
	return &Session{
		id:           uuid.NewString(),
		userID:       userID,
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (s *Session) ID() string {
	return s.id
}

// UserID はセッションの持ち主を返す。
func (s *Session) UserID() int64 {
	return s.userID
}

func (s *Session) IsOpen() bool {
	return !s.closed.Load()
}

// Write は書き込みタイムアウト付きでテキストフレームを書き込む。
func (s *Session) Write(data []byte) error {
	if !s.IsOpen() {
		return fmt.Errorf("セッションは閉じられています: %s", s.id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("WebSocketへの書き込みに失敗: %w", err)
	}
	return nil
}

// Close は接続を閉じる。2回目以降の呼び出しは何もしない。
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}
