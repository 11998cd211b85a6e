package assembler

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/nao1215/chirpline/internal/enrich"
	"github.com/nao1215/chirpline/pkg/event"
	"github.com/nao1215/chirpline/pkg/logger"
)

const (
	likeTopic    = "site-message-like"
	forwardTopic = "site-message-forward"
	mentionTopic = "site-message-mentioned"
	noticeTopic  = "site-message-notice"
)

// newTestInteraction はテスト用のInteractionを構築する。
func newTestInteraction(en *fakeEnrich, saver NoticeSaver, pub *fakePublisher) *Interaction {
	events := map[string]event.NoticeEvent{
		likeTopic:    event.NoticeEventLike,
		forwardTopic: event.NoticeEventForward,
		mentionTopic: event.NoticeEventMentioned,
	}
	return NewInteraction(events, noticeTopic, en, en, saver, pub, &seqIDs{}, logger.NewNopLogger())
}

// batch はトピック名の並びからコンシューマのメッセージを作る。
func batch(topics ...string) []*sarama.ConsumerMessage {
	msgs := make([]*sarama.ConsumerMessage, len(topics))
	for i, topic := range topics {
		msgs[i] = &sarama.ConsumerMessage{Topic: topic, Offset: int64(i)}
	}
	return msgs
}

// sentNotices は通知トピックへ送信されたレコードを取り出す。
func sentNotices(t *testing.T, pub *fakePublisher) []event.Notification {
	t.Helper()
	var res []event.Notification
	for _, m := range pub.byTopic(noticeTopic) {
		n, ok := m.v.(event.Notification)
		if !ok {
			t.Fatalf("送信された値の型 = %T, want event.Notification", m.v)
		}
		res = append(res, n)
	}
	return res
}

func ptr(v int64) *int64 { return &v }

// TestInteraction はインタラクションの組み立てを検証する。
func TestInteraction(t *testing.T) {
	t.Parallel()

	entities := map[int64]enrich.Entity{
		500: {ID: 500, AuthorID: 2},
		501: {ID: 501, AuthorID: 1},
	}

	t.Run("転送トピックのイベントはFORWARDになり、重複配送は別IDの通知になること", func(t *testing.T) {
		t.Parallel()
		en := &fakeEnrich{entities: entities}
		pub := &fakePublisher{}
		saver := &fakeSaver{}
		a := newTestInteraction(en, saver, pub)

		actions := []event.Action{
			{ActionType: "forward", Operation: event.OperationInsert, Operator: 1, Target: 500},
			{ActionType: "forward", Operation: event.OperationInsert, Operator: 1, Target: 500},
		}
		if err := a.Consume(t.Context(), batch(forwardTopic, forwardTopic), actions); err != nil {
			t.Fatalf("Consume()でエラーが発生: %v", err)
		}

		got := sentNotices(t, pub)
		if len(got) != 2 {
			t.Fatalf("送信件数 = %d, want 2", len(got))
		}
		if got[0].ID == got[1].ID {
			t.Errorf("重複配送のIDが同じ: %d", got[0].ID)
		}
		for _, n := range got {
			if n.Event != event.NoticeEventForward {
				t.Errorf("Event = %s, want %s", n.Event, event.NoticeEventForward)
			}
			if n.ReceiverID != 2 || n.SenderID != 1 || n.SonEntity != 500 {
				t.Errorf("通知の宛先が不正: %+v", n)
			}
			if n.EntityType != event.EntityTypeContent || n.NoticeType != event.NoticeTypeUser || n.Status != event.StatusUnread {
				t.Errorf("通知の種類が不正: %+v", n)
			}
			if n.CreatedAt.IsZero() {
				t.Error("CreatedAtが設定されていない")
			}
		}
		if pub.msgs[0].key != "2" {
			t.Errorf("パーティションキー = %q, want %q", pub.msgs[0].key, "2")
		}
		if len(saver.saved) != 2 {
			t.Errorf("保存件数 = %d, want 2", len(saver.saved))
		}
	})

	t.Run("自分宛て・不明なエンティティ・取り消し操作は通知しないこと", func(t *testing.T) {
		t.Parallel()
		en := &fakeEnrich{entities: entities}
		pub := &fakePublisher{}
		a := newTestInteraction(en, nil, pub)

		actions := []event.Action{
			// 自分の投稿へのいいね
			{Operation: event.OperationIncrement, Operator: 1, Target: 501},
			// 存在しない投稿
			{Operation: event.OperationIncrement, Operator: 1, Target: 999},
			// いいねの取り消し
			{Operation: event.OperationDecrement, Operator: 1, Target: 500},
			// 自分へのメンション
			{Operation: event.OperationInsert, Operator: 3, Target: 500, Receiver: ptr(3)},
			// 通知されるもの
			{Operation: event.OperationIncrement, Operator: 3, Target: 500},
		}
		topics := []string{likeTopic, likeTopic, likeTopic, mentionTopic, likeTopic}
		if err := a.Consume(t.Context(), batch(topics...), actions); err != nil {
			t.Fatalf("Consume()でエラーが発生: %v", err)
		}

		got := sentNotices(t, pub)
		if len(got) != 1 {
			t.Fatalf("送信件数 = %d, want 1: %+v", len(got), got)
		}
		if got[0].SenderID != 3 || got[0].ReceiverID != 2 || got[0].Event != event.NoticeEventLike {
			t.Errorf("通知の内容が不正: %+v", got[0])
		}
		for _, n := range got {
			if n.SenderID == n.ReceiverID {
				t.Errorf("自分宛ての通知が送信された: %+v", n)
			}
		}
	})

	t.Run("受信者が指定されたイベントはエンティティを問い合わせないこと", func(t *testing.T) {
		t.Parallel()
		en := &fakeEnrich{entities: entities}
		pub := &fakePublisher{}
		a := newTestInteraction(en, nil, pub)

		actions := []event.Action{{Operation: event.OperationInsert, Operator: 1, Target: 500, Receiver: ptr(7)}}
		if err := a.Consume(t.Context(), batch(mentionTopic), actions); err != nil {
			t.Fatalf("Consume()でエラーが発生: %v", err)
		}
		if n := en.entityReqs.Load(); n != 0 {
			t.Errorf("エンティティの問い合わせ回数 = %d, want 0", n)
		}
		got := sentNotices(t, pub)
		if len(got) != 1 || got[0].ReceiverID != 7 || got[0].Event != event.NoticeEventMentioned {
			t.Errorf("送信内容 = %+v, want 受信者7のMENTIONED", got)
		}
	})

	t.Run("ブロックされた通知は保存されるが送信されないこと", func(t *testing.T) {
		t.Parallel()
		en := &fakeEnrich{entities: entities, blocked: map[enrich.Pair]bool{{ReceiverID: 2, SenderID: 1}: true}}
		pub := &fakePublisher{}
		saver := &fakeSaver{}
		a := newTestInteraction(en, saver, pub)

		actions := []event.Action{
			{Operation: event.OperationIncrement, Operator: 1, Target: 500},
			{Operation: event.OperationIncrement, Operator: 3, Target: 500},
		}
		if err := a.Consume(t.Context(), batch(likeTopic, likeTopic), actions); err != nil {
			t.Fatalf("Consume()でエラーが発生: %v", err)
		}

		got := sentNotices(t, pub)
		if len(got) != 1 || got[0].SenderID != 3 {
			t.Errorf("送信内容 = %+v, want 送信者3の通知のみ", got)
		}
		if len(saver.saved) != 2 {
			t.Fatalf("保存件数 = %d, want 2", len(saver.saved))
		}
		if saver.saved[0].Status != event.StatusUnreachable {
			t.Errorf("保存されたStatus = %s, want %s", saver.saved[0].Status, event.StatusUnreachable)
		}
	})

	t.Run("依存サービスのエラーではバッチ全体を送信しないこと", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name string
			en   *fakeEnrich
		}{
			{name: "エンティティの取得に失敗", en: &fakeEnrich{entities: entities, entityErr: errors.New("chirper down")}},
			{name: "ブロック関係の取得に失敗", en: &fakeEnrich{entities: entities, blockErr: errors.New("user down")}},
		}
		for _, tt := range tests {
			pub := &fakePublisher{}
			a := newTestInteraction(tt.en, nil, pub)
			actions := []event.Action{{Operation: event.OperationIncrement, Operator: 3, Target: 500}}
			if err := a.Consume(t.Context(), batch(likeTopic), actions); err == nil {
				t.Errorf("%s: Consume()がエラーを返すべきだが、nilが返った", tt.name)
			}
			if len(pub.msgs) != 0 {
				t.Errorf("%s: 送信件数 = %d, want 0", tt.name, len(pub.msgs))
			}
		}
	})

	t.Run("保存に失敗しても送信は続けること", func(t *testing.T) {
		t.Parallel()
		en := &fakeEnrich{entities: entities}
		pub := &fakePublisher{}
		a := newTestInteraction(en, &fakeSaver{err: errors.New("disk full")}, pub)

		actions := []event.Action{{Operation: event.OperationIncrement, Operator: 3, Target: 500}}
		if err := a.Consume(t.Context(), batch(likeTopic), actions); err != nil {
			t.Fatalf("Consume()でエラーが発生: %v", err)
		}
		if len(sentNotices(t, pub)) != 1 {
			t.Errorf("送信件数 = %d, want 1", len(pub.msgs))
		}
	})
}

// TestInteraction_Topics は購読トピックが名前順に返ることを検証する。
func TestInteraction_Topics(t *testing.T) {
	t.Parallel()

	a := newTestInteraction(&fakeEnrich{}, nil, &fakePublisher{})
	got := a.Topics()
	want := []string{forwardTopic, likeTopic, mentionTopic}
	if len(got) != len(want) {
		t.Fatalf("Topics() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Topics()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

// TestRelationship はフォロー通知の組み立てを検証する。
func TestRelationship(t *testing.T) {
	t.Parallel()

	en := &fakeEnrich{}
	pub := &fakePublisher{}
	saver := &fakeSaver{}
	a := NewRelationship(noticeTopic, en, saver, pub, &seqIDs{}, logger.NewNopLogger())

	actions := []event.Action{
		{ActionType: "follow", Operation: event.OperationInsert, Operator: 1, Target: 2},
		// 自分自身のフォロー
		{ActionType: "follow", Operation: event.OperationInsert, Operator: 3, Target: 3},
		// フォロー解除
		{ActionType: "follow", Operation: event.OperationDelete, Operator: 4, Target: 2},
	}
	if err := a.Consume(t.Context(), nil, actions); err != nil {
		t.Fatalf("Consume()でエラーが発生: %v", err)
	}

	got := sentNotices(t, pub)
	if len(got) != 1 {
		t.Fatalf("送信件数 = %d, want 1", len(got))
	}
	n := got[0]
	if n.ReceiverID != 2 || n.SenderID != 1 || n.SonEntity != 1 {
		t.Errorf("通知の宛先が不正: %+v", n)
	}
	if n.Event != event.NoticeEventFollow || n.EntityType != event.EntityTypeUser {
		t.Errorf("通知の種類が不正: %+v", n)
	}
	if len(saver.saved) != 1 {
		t.Errorf("保存件数 = %d, want 1", len(saver.saved))
	}
}

// TestRelationship_Blocked はブロックされた相手へのフォロー通知が保存だけされ送信されないことを検証する。
func TestRelationship_Blocked(t *testing.T) {
	t.Parallel()

	en := &fakeEnrich{blocked: map[enrich.Pair]bool{{ReceiverID: 2, SenderID: 1}: true}}
	pub := &fakePublisher{}
	saver := &fakeSaver{}
	a := NewRelationship(noticeTopic, en, saver, pub, &seqIDs{}, logger.NewNopLogger())

	actions := []event.Action{
		{ActionType: "follow", Operation: event.OperationInsert, Operator: 1, Target: 2},
		{ActionType: "follow", Operation: event.OperationInsert, Operator: 5, Target: 2},
	}
	if err := a.Consume(t.Context(), nil, actions); err != nil {
		t.Fatalf("Consume()でエラーが発生: %v", err)
	}

	got := sentNotices(t, pub)
	if len(got) != 1 || got[0].SenderID != 5 {
		t.Fatalf("送信 = %+v, want 送信者5の1件のみ", got)
	}
	if len(saver.saved) != 2 {
		t.Fatalf("保存件数 = %d, want 2", len(saver.saved))
	}
	for _, n := range saver.saved {
		want := event.StatusUnread
		if n.SenderID == 1 {
			want = event.StatusUnreachable
		}
		if n.Status != want {
			t.Errorf("送信者%dのStatus = %v, want %v", n.SenderID, n.Status, want)
		}
	}
}
