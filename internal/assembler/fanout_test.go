package assembler

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/nao1215/chirpline/internal/feed"
	"github.com/nao1215/chirpline/pkg/event"
	"github.com/nao1215/chirpline/pkg/logger"
)

const (
	publishTopic  = "publish"
	tweetedTopic  = "site-message-tweeted"
	unfollowTopic = "unfollow"
)

// newTestFanout はテスト用のFanoutを構築する。
func newTestFanout(en *fakeEnrich, store *fakeFeed, pub *fakePublisher, sp Spawner) *Fanout {
	cfg := FanoutConfig{PublishTopic: publishTopic, TweetedTopic: tweetedTopic, PageSize: 500, MaxRetry: 3}
	return NewFanout(cfg, en, store, pub, sp, &seqIDs{}, logger.NewNopLogger())
}

// followerIDs は1からnまでのユーザーIDを返す。
func followerIDs(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids
}

// TestFanout は新規投稿のファンアウトを検証する。
func TestFanout(t *testing.T) {
	t.Parallel()

	publish := event.Publish{PublisherID: 9000, ContentID: 77, Score: 1_700_000_000_000}
	msg := &sarama.ConsumerMessage{Topic: publishTopic, Key: []byte("9000")}

	t.Run("1500人のフォロワーは3ページのタスクになり、全員に1件ずつ書き込まれること", func(t *testing.T) {
		t.Parallel()
		en := &fakeEnrich{followers: followerIDs(1500)}
		store := newFakeFeed()
		pub := &fakePublisher{}
		sp := &waitSpawner{}
		f := newTestFanout(en, store, pub, sp)

		if err := f.Consume(t.Context(), msg, event.NewEnvelope(publish)); err != nil {
			t.Fatalf("Consume()でエラーが発生: %v", err)
		}
		sp.wg.Wait()

		if n := sp.count.Load(); n != 3 {
			t.Errorf("タスク数 = %d, want 3", n)
		}
		if len(store.added) != 1500 {
			t.Fatalf("書き込まれたエントリ数 = %d, want 1500", len(store.added))
		}
		for e, n := range store.added {
			if n != 1 {
				t.Errorf("%+v の書き込み回数 = %d, want 1", e, n)
			}
			if e.ContentID != 77 || e.Score != publish.Score {
				t.Errorf("エントリの内容が不正: %+v", e)
			}
		}
		if len(pub.msgs) != 0 {
			t.Errorf("オンラインのフォロワーがいないのに送信された: %d件", len(pub.msgs))
		}
	})

	t.Run("オンラインのフォロワーにだけTWEETEDを通知すること", func(t *testing.T) {
		t.Parallel()
		en := &fakeEnrich{followers: followerIDs(4), online: map[int64]bool{2: true, 4: true}}
		pub := &fakePublisher{}
		sp := &waitSpawner{}
		f := newTestFanout(en, newFakeFeed(), pub, sp)

		if err := f.Consume(t.Context(), msg, event.NewEnvelope(publish)); err != nil {
			t.Fatalf("Consume()でエラーが発生: %v", err)
		}
		sp.wg.Wait()

		got := pub.byTopic(tweetedTopic)
		if len(got) != 2 {
			t.Fatalf("TWEETEDの件数 = %d, want 2", len(got))
		}
		receivers := map[int64]bool{}
		for _, m := range got {
			n := m.v.(event.Notification)
			receivers[n.ReceiverID] = true
			if n.Event != event.NoticeEventTweeted || n.NoticeType != event.NoticeTypeSystem {
				t.Errorf("通知の種類が不正: %+v", n)
			}
			if n.SenderID != 9000 || n.SonEntity != 77 || n.EntityType != event.EntityTypeContent {
				t.Errorf("通知の内容が不正: %+v", n)
			}
		}
		if !receivers[2] || !receivers[4] {
			t.Errorf("受信者 = %v, want 2と4", receivers)
		}
	})

	t.Run("削除された投稿はフォロワーのフィードから取り除くこと", func(t *testing.T) {
		t.Parallel()
		en := &fakeEnrich{followers: followerIDs(3), online: map[int64]bool{1: true}}
		store := newFakeFeed()
		pub := &fakePublisher{}
		sp := &waitSpawner{}
		f := newTestFanout(en, store, pub, sp)

		deleted := publish
		deleted.Deleted = true
		if err := f.Consume(t.Context(), msg, event.NewEnvelope(deleted)); err != nil {
			t.Fatalf("Consume()でエラーが発生: %v", err)
		}
		sp.wg.Wait()

		if len(store.removed) != 3 || len(store.added) != 0 {
			t.Errorf("削除 = %d件, 追加 = %d件, want 3, 0", len(store.removed), len(store.added))
		}
		if len(pub.msgs) != 0 {
			t.Errorf("削除時に通知が送信された: %d件", len(pub.msgs))
		}
	})

	t.Run("起動前の失敗は再試行回数を増やして再投入し、上限で破棄すること", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name      string
			retry     int
			wantRetry []int
		}{
			{name: "初回の失敗", retry: 0, wantRetry: []int{1}},
			{name: "上限未満", retry: 2, wantRetry: []int{3}},
			{name: "上限到達", retry: 3, wantRetry: nil},
		}
		for _, tt := range tests {
			en := &fakeEnrich{countErr: errors.New("user down")}
			pub := &fakePublisher{}
			sp := &waitSpawner{}
			f := newTestFanout(en, newFakeFeed(), pub, sp)

			env := event.Envelope[event.Publish]{Body: publish, RetryTimes: tt.retry}
			if err := f.Consume(t.Context(), msg, env); err != nil {
				t.Fatalf("%s: Consume()でエラーが発生: %v", tt.name, err)
			}

			got := pub.byTopic(publishTopic)
			if len(got) != len(tt.wantRetry) {
				t.Fatalf("%s: 再投入件数 = %d, want %d", tt.name, len(got), len(tt.wantRetry))
			}
			for i, m := range got {
				re := m.v.(event.Envelope[event.Publish])
				if re.RetryTimes != tt.wantRetry[i] || re.Body != publish {
					t.Errorf("%s: 再投入された封筒 = %+v", tt.name, re)
				}
				if m.key != "9000" {
					t.Errorf("%s: キー = %q, want %q", tt.name, m.key, "9000")
				}
			}
			if n := sp.count.Load(); n != 0 {
				t.Errorf("%s: タスク数 = %d, want 0", tt.name, n)
			}
		}
	})

	t.Run("再投入の送信に失敗した場合はエラーを返すこと", func(t *testing.T) {
		t.Parallel()
		en := &fakeEnrich{countErr: errors.New("user down")}
		pub := &fakePublisher{err: errors.New("broker down")}
		f := newTestFanout(en, newFakeFeed(), pub, &waitSpawner{})

		if err := f.Consume(t.Context(), msg, event.NewEnvelope(publish)); err == nil {
			t.Fatal("Consume()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestUnfollow はフォロー解除によるフィードからの削除を検証する。
func TestUnfollow(t *testing.T) {
	t.Parallel()

	msgs := []*sarama.ConsumerMessage{
		{Topic: unfollowTopic, Key: []byte("1")},
		{Topic: unfollowTopic, Key: []byte("2")},
		{Topic: unfollowTopic, Key: []byte("3")},
	}
	envs := []event.Envelope[event.Relation]{
		event.NewEnvelope(event.Relation{FromID: 1, ToID: 10, Type: event.RelationUnfollowed}),
		event.NewEnvelope(event.Relation{FromID: 2, ToID: 20, Type: event.RelationBlock}),
		event.NewEnvelope(event.Relation{FromID: 3, ToID: 10, Type: event.RelationFollowing}),
	}

	t.Run("解除した相手の投稿をフィードから取り除くこと", func(t *testing.T) {
		t.Parallel()
		en := &fakeEnrich{byAuthor: map[int64][]int64{10: {100, 101}, 20: {200}}}
		store := newFakeFeed()
		sp := &waitSpawner{}
		u := NewUnfollow(unfollowTopic, 3, en, store, &fakePublisher{}, sp, logger.NewNopLogger())

		if err := u.Consume(t.Context(), msgs, envs); err != nil {
			t.Fatalf("Consume()でエラーが発生: %v", err)
		}
		sp.wg.Wait()

		want := map[feed.Entry]bool{
			{RecipientID: 1, ContentID: 100}: true,
			{RecipientID: 1, ContentID: 101}: true,
			{RecipientID: 2, ContentID: 200}: true,
		}
		if len(store.removed) != len(want) {
			t.Fatalf("削除件数 = %d, want %d: %v", len(store.removed), len(want), store.removed)
		}
		for _, e := range store.removed {
			if !want[e] {
				t.Errorf("想定外の削除: %+v", e)
			}
		}
	})

	t.Run("投稿IDの取得に失敗した場合は全件を再投入すること", func(t *testing.T) {
		t.Parallel()
		en := &fakeEnrich{contentErr: errors.New("chirper down")}
		pub := &fakePublisher{}
		u := NewUnfollow(unfollowTopic, 3, en, newFakeFeed(), pub, &waitSpawner{}, logger.NewNopLogger())

		if err := u.Consume(t.Context(), msgs, envs); err != nil {
			t.Fatalf("Consume()でエラーが発生: %v", err)
		}
		got := pub.byTopic(unfollowTopic)
		// フォロー開始のイベントは対象外
		if len(got) != 2 {
			t.Fatalf("再投入件数 = %d, want 2", len(got))
		}
		if got[0].key != "1" || got[1].key != "2" {
			t.Errorf("キー = [%q %q], want [1 2]", got[0].key, got[1].key)
		}
		if re := got[0].v.(event.Envelope[event.Relation]); re.RetryTimes != 1 {
			t.Errorf("RetryTimes = %d, want 1", re.RetryTimes)
		}
	})

	t.Run("フィードからの削除に失敗したイベントを再投入すること", func(t *testing.T) {
		t.Parallel()
		en := &fakeEnrich{byAuthor: map[int64][]int64{10: {100}}}
		store := newFakeFeed()
		store.removeErr = errors.New("redis down")
		pub := &fakePublisher{}
		sp := &waitSpawner{}
		u := NewUnfollow(unfollowTopic, 3, en, store, pub, sp, logger.NewNopLogger())

		if err := u.Consume(t.Context(), msgs[:1], envs[:1]); err != nil {
			t.Fatalf("Consume()でエラーが発生: %v", err)
		}
		sp.wg.Wait()

		got := pub.byTopic(unfollowTopic)
		if len(got) != 1 {
			t.Fatalf("再投入件数 = %d, want 1", len(got))
		}
	})
}
