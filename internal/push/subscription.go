package push

import (
	"sync"

	"github.com/nao1215/chirpline/pkg/event"
	"github.com/nao1215/chirpline/pkg/logger"
)

// Subscription は1ユーザーの配信チャネルの購読と、そのユーザーの開いているセッションの集合。
type Subscription struct {
	userID int64
	l      logger.LoggerV1

	mu       sync.Mutex
	sessions map[string]Conn

	// unsubscribe は配信チャネルの購読を解除する。Registryが設定する。
	unsubscribe func() error
}

func newSubscription(userID int64, l logger.LoggerV1) *Subscription {
	return &Subscription{
		userID:   userID,
		l:        l,
		sessions: make(map[string]Conn),
	}
}

// UserID は購読しているユーザーを返す。
func (s *Subscription) UserID() int64 {
	return s.userID
}

func (s *Subscription) add(c Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[c.ID()] = c
}

// remove はセッションを取り除き、残りのセッション数を返す。
func (s *Subscription) remove(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return len(s.sessions)
}

// Len はセッション数を返す。
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Subscription) snapshot() []Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]Conn, 0, len(s.sessions))
	for _, c := range s.sessions {
		res = append(res, c)
	}
	return res
}

// OnMessage は配信チャネルから届いたペイロードを種類ごとの方式でセッションへ配信する。
// デコードできないペイロードはログに残して捨てる。
func (s *Subscription) OnMessage(data []byte) {
	p, err := event.DecodePayload(data)
	if err != nil {
		s.l.Warn("配信ペイロードを破棄", logger.Int64("user_id", s.userID), logger.Error(err))
		return
	}
	sessions := s.snapshot()
	if len(sessions) == 0 {
		return
	}

	for kind := range p {
		switch kind {
		case event.KindNotice:
			notices, err := event.List[event.Notification](p, kind)
			if err != nil {
				s.l.Warn("通知の読み取りに失敗", logger.Int64("user_id", s.userID), logger.Error(err))
				continue
			}
			if len(notices) > 0 {
				noticeStrategy{}.send(sessions, notices, s.l)
			}
		case event.KindChat:
			chats, err := event.List[event.Chat](p, kind)
			if err != nil {
				s.l.Warn("チャットの読み取りに失敗", logger.Int64("user_id", s.userID), logger.Error(err))
				continue
			}
			if len(chats) > 0 {
				chatStrategy{}.send(sessions, chats, s.l)
			}
		default:
			s.l.Warn("未知の種類のペイロード", logger.String("kind", string(kind)))
		}
	}
}
