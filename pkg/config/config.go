// Package config はサービスの設定をviperで読み込む。
//
// すべてのキーに既定値を持ち、YAMLファイルと環境変数（接頭辞 CHIRP、
// 区切り文字 "." を "_" に置換）で上書きできる。
// 例: redis.addr は環境変数 CHIRP_REDIS_ADDR で上書きする。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix は設定を上書きする環境変数の接頭辞。
const envPrefix = "CHIRP"

// Config はadvice/timelineサービスで共有する設定。
type Config struct {
	// Server はHTTPサーバーの設定。
	Server ServerConfig `mapstructure:"server"`
	// Log はロガーの設定。
	Log LogConfig `mapstructure:"log"`
	// Kafka はブローカー接続とコンシューマの設定。
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Topics はトピック名の設定。
	Topics TopicConfig `mapstructure:"topics"`
	// Redis はフィードストアと配信チャネルの設定。
	Redis RedisConfig `mapstructure:"redis"`
	// Services は外部サービスの接続先。
	Services ServiceConfig `mapstructure:"services"`
	// Feed はフィードとファンアウトの設定。
	Feed FeedConfig `mapstructure:"feed"`
	// Push はWebSocketプッシュ層の設定。
	Push PushConfig `mapstructure:"push"`
	// Database はSQLiteの接続先。
	Database DatabaseConfig `mapstructure:"database"`
	// JWT は認証トークンの設定。
	JWT JWTConfig `mapstructure:"jwt"`
	// Snowflake はID生成器の設定。
	Snowflake SnowflakeConfig `mapstructure:"snowflake"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	// Port はリッスンポート。
	Port string `mapstructure:"port"`
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LogConfig はロガーの設定。
type LogConfig struct {
	// Level はログレベル（debug/info/warn/error）。
	Level string `mapstructure:"level"`
	// Development が有効な場合はコンソール向けの形式で出力する。
	Development bool `mapstructure:"development"`
}

// KafkaConfig はブローカー接続とコンシューマの設定。
type KafkaConfig struct {
	// Brokers はブローカーのアドレス一覧。
	Brokers []string `mapstructure:"brokers"`
	// ClientID はブローカーに名乗るクライアントID。
	ClientID string `mapstructure:"client_id"`
	// Workers はコンシューマグループごとの並列ワーカー数。
	Workers int `mapstructure:"workers"`
	// BatchSize は1バッチで処理する最大メッセージ数。
	BatchSize int `mapstructure:"batch_size"`
	// BatchWait はバッチが揃うまで待つ最大時間。
	BatchWait time.Duration `mapstructure:"batch_wait"`
}

// TopicConfig はトピック名の設定。
type TopicConfig struct {
	Like       string `mapstructure:"like"`
	Forward    string `mapstructure:"forward"`
	Quote      string `mapstructure:"quote"`
	Reply      string `mapstructure:"reply"`
	Mentioned  string `mapstructure:"mentioned"`
	Follow     string `mapstructure:"follow"`
	Publish    string `mapstructure:"publish"`
	Unfollow   string `mapstructure:"unfollow"`
	Notice     string `mapstructure:"notice"`
	Tweeted    string `mapstructure:"tweeted"`
	Chat       string `mapstructure:"chat"`
	Connect    string `mapstructure:"connect"`
	Disconnect string `mapstructure:"disconnect"`
}

// RedisConfig はRedisの接続設定。
type RedisConfig struct {
	// Addr はRedisのアドレス。
	Addr string `mapstructure:"addr"`
	// Password は認証パスワード。
	Password string `mapstructure:"password"`
	// DB は使用するデータベース番号。
	DB int `mapstructure:"db"`
	// ChannelPrefix はユーザーごとの配信チャネル名の接頭辞。
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// ServiceConfig は外部サービスの接続先。
type ServiceConfig struct {
	// ChirperURL はコンテンツサービスのベースURL。
	ChirperURL string `mapstructure:"chirper_url"`
	// UserURL はユーザーサービスのベースURL。
	UserURL string `mapstructure:"user_url"`
	// AuthURL は認証サービスのベースURL。
	AuthURL string `mapstructure:"auth_url"`
	// Timeout は1リクエストあたりのタイムアウト。
	Timeout time.Duration `mapstructure:"timeout"`
}

// FeedConfig はフィードとファンアウトの設定。
type FeedConfig struct {
	// PageSize はフィード取得の1ページあたりの件数。
	PageSize int `mapstructure:"page_size"`
	// BackfillSize は初回アクセス時に補填する最大件数。
	BackfillSize int `mapstructure:"backfill_size"`
	// FollowerPageSize はファンアウト時にフォロワーを取得する1ページあたりの件数。
	FollowerPageSize int `mapstructure:"follower_page_size"`
	// MaxRetry はファンアウト失敗時の最大再投入回数。
	MaxRetry int `mapstructure:"max_retry"`
}

// PushConfig はWebSocketプッシュ層の設定。
type PushConfig struct {
	// Shards は接続レジストリのシャード数。
	Shards int `mapstructure:"shards"`
	// ReadDeadline はハートビートが途絶えてから切断するまでの時間。
	ReadDeadline time.Duration `mapstructure:"read_deadline"`
	// WriteTimeout は1フレームの書き込みタイムアウト。
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig はSQLiteの接続先。
type DatabaseConfig struct {
	// NotificationDSN は通知ストアのDSN。
	NotificationDSN string `mapstructure:"notification_dsn"`
	// ChatDSN はチャットストアのDSN。
	ChatDSN string `mapstructure:"chat_dsn"`
}

// JWTConfig は認証トークンの設定。
type JWTConfig struct {
	// Secret は署名検証に使う共有シークレット。
	Secret string `mapstructure:"secret"`
}

// SnowflakeConfig はID生成器の設定。
// ノード番号(0〜1023)は全サービスの全レプリカで一意にする。
// 複数レプリカを動かす場合はレプリカごとに環境変数で上書きする。
type SnowflakeConfig struct {
	// AdviceNode はadviceサービスのノード番号。
	AdviceNode int64 `mapstructure:"advice_node"`
	// TimelineNode はtimelineサービスのノード番号。
	TimelineNode int64 `mapstructure:"timeline_node"`
}

// setDefaults はすべての設定キーに既定値を設定する。
// 既定値のないキーはAutomaticEnvでもUnmarshalに反映されないため、全キーを登録する。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.client_id", "chirpline")
	v.SetDefault("kafka.workers", 4)
	v.SetDefault("kafka.batch_size", 50)
	v.SetDefault("kafka.batch_wait", time.Second)

	v.SetDefault("topics.like", "site-message-like")
	v.SetDefault("topics.forward", "site-message-forward")
	v.SetDefault("topics.quote", "site-message-quote")
	v.SetDefault("topics.reply", "site-message-reply")
	v.SetDefault("topics.mentioned", "site-message-mentioned")
	v.SetDefault("topics.follow", "site-message-follow")
	v.SetDefault("topics.publish", "publish")
	v.SetDefault("topics.unfollow", "unfollow")
	v.SetDefault("topics.notice", "site-message-notice")
	v.SetDefault("topics.tweeted", "site-message-tweeted")
	v.SetDefault("topics.chat", "chat")
	v.SetDefault("topics.connect", "socket-connect")
	v.SetDefault("topics.disconnect", "socket-disconnect")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel_prefix", "site-message-user-")

	v.SetDefault("services.chirper_url", "http://localhost:8081")
	v.SetDefault("services.user_url", "http://localhost:8082")
	v.SetDefault("services.auth_url", "http://localhost:8083")
	v.SetDefault("services.timeout", 5*time.Second)

	v.SetDefault("feed.page_size", 20)
	v.SetDefault("feed.backfill_size", 1000)
	v.SetDefault("feed.follower_page_size", 500)
	v.SetDefault("feed.max_retry", 3)

	v.SetDefault("push.shards", 32)
	v.SetDefault("push.read_deadline", 90*time.Second)
	v.SetDefault("push.write_timeout", 10*time.Second)

	v.SetDefault("database.notification_dsn", "/data/notification.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	v.SetDefault("database.chat_dsn", "/data/chat.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")

	v.SetDefault("jwt.secret", "dev-secret-key")

	v.SetDefault("snowflake.advice_node", 1)
	v.SetDefault("snowflake.timeline_node", 2)
}

// Default は既定値のみから構築した設定を返す。
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// 既定値のみのUnmarshalは失敗しない
		panic(err)
	}
	return cfg
}

// Load は設定を読み込む。pathが空でなければYAMLファイルを読み込み、
// その後に環境変数の値で上書きする。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定のデコードに失敗: %w", err)
	}
	return &cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers が空です"))
	}
	if c.Kafka.Workers <= 0 {
		errs = append(errs, fmt.Errorf("kafka.workers は正の値が必要です: %d", c.Kafka.Workers))
	}
	if c.Kafka.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("kafka.batch_size は正の値が必要です: %d", c.Kafka.BatchSize))
	}
	if c.Feed.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("feed.page_size は正の値が必要です: %d", c.Feed.PageSize))
	}
	if c.Feed.FollowerPageSize <= 0 {
		errs = append(errs, fmt.Errorf("feed.follower_page_size は正の値が必要です: %d", c.Feed.FollowerPageSize))
	}
	if c.Feed.MaxRetry < 0 {
		errs = append(errs, fmt.Errorf("feed.max_retry は0以上が必要です: %d", c.Feed.MaxRetry))
	}
	if c.Push.Shards <= 0 {
		errs = append(errs, fmt.Errorf("push.shards は正の値が必要です: %d", c.Push.Shards))
	}
	for key, node := range map[string]int64{
		"snowflake.advice_node":   c.Snowflake.AdviceNode,
		"snowflake.timeline_node": c.Snowflake.TimelineNode,
	} {
		if node < 0 || node > 1023 {
			errs = append(errs, fmt.Errorf("%s は0〜1023の範囲が必要です: %d", key, node))
		}
	}
	if c.Snowflake.AdviceNode == c.Snowflake.TimelineNode {
		errs = append(errs, fmt.Errorf("snowflake のノード番号がサービス間で重複しています: %d", c.Snowflake.AdviceNode))
	}
	return errors.Join(errs...)
}
