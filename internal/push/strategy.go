package push

import (
	"encoding/json"
	"fmt"

	"github.com/nao1215/chirpline/pkg/event"
	"github.com/nao1215/chirpline/pkg/logger"
)

// chatStrategy はチャットメッセージを {"CHAT":[...]} のフレームで配信する。
type chatStrategy struct{}

func (chatStrategy) frame(chats []event.Chat) ([]byte, error) {
	return encodeFrame(event.KindChat, chats)
}

func (st chatStrategy) send(sessions []Conn, chats []event.Chat, l logger.LoggerV1) {
	data, err := st.frame(chats)
	if err != nil {
		l.Error("チャットフレームの生成に失敗", logger.Error(err))
		return
	}
	writeAll(sessions, data, event.KindChat, l)
}

// noticeStrategy は通知レコードを {"NOTICE":[...]} のフレームで配信する。
type noticeStrategy struct{}

func (noticeStrategy) frame(notices []event.Notification) ([]byte, error) {
	return encodeFrame(event.KindNotice, notices)
}

func (st noticeStrategy) send(sessions []Conn, notices []event.Notification, l logger.LoggerV1) {
	data, err := st.frame(notices)
	if err != nil {
		l.Error("通知フレームの生成に失敗", logger.Error(err))
		return
	}
	writeAll(sessions, data, event.KindNotice, l)
}

func encodeFrame[T any](kind event.PayloadKind, records []T) ([]byte, error) {
	p, err := event.NewPayload(kind, records)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%sフレームのシリアライズに失敗: %w", kind, err)
	}
	return data, nil
}

// writeAll は開いているセッションすべてにフレームを書き込む。
// 閉じたセッションは書き込み直前に確認して飛ばし、1つのセッションの失敗は他に影響させない。
func writeAll(sessions []Conn, data []byte, kind event.PayloadKind, l logger.LoggerV1) {
	for _, sess := range sessions {
		if !sess.IsOpen() {
			continue
		}
		if err := sess.Write(data); err != nil {
			l.Warn("セッションへの配信に失敗",
				logger.String("session_id", sess.ID()),
				logger.String("kind", string(kind)),
				logger.Error(err))
		}
	}
}
