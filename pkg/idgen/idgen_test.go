package idgen

import (
	"sync"
	"testing"
)

// TestSnowflake はSnowflakeが一意かつ単調増加のIDを払い出すことを検証する。
func TestSnowflake(t *testing.T) {
	t.Parallel()

	t.Run("連続して生成したIDが単調増加すること", func(t *testing.T) {
		t.Parallel()

		gen, err := NewSnowflake(1)
		if err != nil {
			t.Fatalf("NewSnowflake()でエラーが発生: %v", err)
		}

		prev := gen.Next()
		for i := 0; i < 1000; i++ {
			id := gen.Next()
			if id <= prev {
				t.Fatalf("ID %d が直前のID %d 以下", id, prev)
			}
			prev = id
		}
	})

	t.Run("並行に生成しても重複しないこと", func(t *testing.T) {
		t.Parallel()

		gen, err := NewSnowflake(2)
		if err != nil {
			t.Fatalf("NewSnowflake()でエラーが発生: %v", err)
		}

		const workers, perWorker = 8, 500
		var (
			mu   sync.Mutex
			seen = make(map[int64]struct{}, workers*perWorker)
			wg   sync.WaitGroup
		)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					id := gen.Next()
					mu.Lock()
					seen[id] = struct{}{}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if len(seen) != workers*perWorker {
			t.Errorf("一意なID数 = %d, want %d", len(seen), workers*perWorker)
		}
	})

	t.Run("範囲外のノード番号でエラーが返ること", func(t *testing.T) {
		t.Parallel()

		if _, err := NewSnowflake(4096); err == nil {
			t.Fatal("NewSnowflake()がエラーを返すべきだが、nilが返った")
		}
	})
}
