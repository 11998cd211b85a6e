package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nao1215/chirpline/pkg/idgen"
)

// TestDefault は既定値が設定されていることを検証する。
func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()

	if cfg.Kafka.Workers != 4 {
		t.Errorf("Kafka.Workers = %d, want 4", cfg.Kafka.Workers)
	}
	if cfg.Feed.BackfillSize != 1000 {
		t.Errorf("Feed.BackfillSize = %d, want 1000", cfg.Feed.BackfillSize)
	}
	if cfg.Feed.FollowerPageSize != 500 {
		t.Errorf("Feed.FollowerPageSize = %d, want 500", cfg.Feed.FollowerPageSize)
	}
	if cfg.Services.Timeout != 5*time.Second {
		t.Errorf("Services.Timeout = %v, want 5s", cfg.Services.Timeout)
	}
	if cfg.Redis.ChannelPrefix != "site-message-user-" {
		t.Errorf("Redis.ChannelPrefix = %q, want %q", cfg.Redis.ChannelPrefix, "site-message-user-")
	}
	if cfg.Snowflake.AdviceNode == cfg.Snowflake.TimelineNode {
		t.Errorf("Snowflake.AdviceNode = %d, TimelineNode = %d, want 異なる値", cfg.Snowflake.AdviceNode, cfg.Snowflake.TimelineNode)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("既定値の検証でエラーが発生: %v", err)
	}
}

// TestDefault_SnowflakeNodes は既定のノード番号で2つのサービスが同時にIDを払い出しても重複しないことを検証する。
func TestDefault_SnowflakeNodes(t *testing.T) {
	t.Parallel()

	cfg := Default()
	advice, err := idgen.NewSnowflake(cfg.Snowflake.AdviceNode)
	if err != nil {
		t.Fatalf("NewSnowflake(advice)でエラーが発生: %v", err)
	}
	timeline, err := idgen.NewSnowflake(cfg.Snowflake.TimelineNode)
	if err != nil {
		t.Fatalf("NewSnowflake(timeline)でエラーが発生: %v", err)
	}

	seen := make(map[int64]struct{}, 2000)
	for range 1000 {
		for _, id := range []int64{advice.Next(), timeline.Next()} {
			if _, ok := seen[id]; ok {
				t.Fatalf("IDが重複した: %d", id)
			}
			seen[id] = struct{}{}
		}
	}
}

// TestLoad は設定ファイルと環境変数による上書きを検証する。
// t.Setenvを使うため並列実行しない。
func TestLoad(t *testing.T) {
	t.Run("YAMLファイルの値で上書きされること", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		yaml := "kafka:\n  workers: 8\n  batch_wait: 250ms\nfeed:\n  page_size: 50\n"
		if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
			t.Fatalf("設定ファイルの書き込みに失敗: %v", err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if cfg.Kafka.Workers != 8 {
			t.Errorf("Kafka.Workers = %d, want 8", cfg.Kafka.Workers)
		}
		if cfg.Kafka.BatchWait != 250*time.Millisecond {
			t.Errorf("Kafka.BatchWait = %v, want 250ms", cfg.Kafka.BatchWait)
		}
		if cfg.Feed.PageSize != 50 {
			t.Errorf("Feed.PageSize = %d, want 50", cfg.Feed.PageSize)
		}
		// ファイルにないキーは既定値のまま
		if cfg.Feed.MaxRetry != 3 {
			t.Errorf("Feed.MaxRetry = %d, want 3", cfg.Feed.MaxRetry)
		}
	})

	t.Run("環境変数の値で上書きされること", func(t *testing.T) {
		t.Setenv("CHIRP_REDIS_ADDR", "redis:6380")
		t.Setenv("CHIRP_FEED_MAX_RETRY", "5")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if cfg.Redis.Addr != "redis:6380" {
			t.Errorf("Redis.Addr = %q, want %q", cfg.Redis.Addr, "redis:6380")
		}
		if cfg.Feed.MaxRetry != 5 {
			t.Errorf("Feed.MaxRetry = %d, want 5", cfg.Feed.MaxRetry)
		}
	})

	t.Run("存在しないファイルでエラーが返ること", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Fatal("Load()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestValidate は不正な設定値が検出されることを検証する。
func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "ブローカーが空", mutate: func(c *Config) { c.Kafka.Brokers = nil }},
		{name: "ワーカー数が0", mutate: func(c *Config) { c.Kafka.Workers = 0 }},
		{name: "ページサイズが負", mutate: func(c *Config) { c.Feed.PageSize = -1 }},
		{name: "フォロワーページサイズが0", mutate: func(c *Config) { c.Feed.FollowerPageSize = 0 }},
		{name: "シャード数が0", mutate: func(c *Config) { c.Push.Shards = 0 }},
		{name: "ノード番号が範囲外", mutate: func(c *Config) { c.Snowflake.TimelineNode = 1024 }},
		{name: "ノード番号がサービス間で重複", mutate: func(c *Config) { c.Snowflake.TimelineNode = c.Snowflake.AdviceNode }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate()がエラーを返すべきだが、nilが返った")
			}
		})
	}
}
