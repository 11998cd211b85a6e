package chat

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/nao1215/chirpline/pkg/event"
	"github.com/nao1215/chirpline/pkg/logger"
	"github.com/nao1215/chirpline/pkg/migration"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// defaultHistoryLimit は会話履歴の既定の最大件数。
const defaultHistoryLimit = 50

// Store はチャットメッセージをSQLiteに保存する。
type Store struct {
	db *sql.DB
}

// OpenStore はDSNのSQLiteを開き、マイグレーションを適用したStoreを返す。
func OpenStore(ctx context.Context, dsn string, l logger.LoggerV1) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	s := NewStore(db)
	if err := s.Migrate(ctx, l); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore は接続済みのデータベースからStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate はチャットテーブルのマイグレーションを適用する。
func (s *Store) Migrate(ctx context.Context, l logger.LoggerV1) error {
	if err := migration.Run(ctx, s.db, migrationsFS, "migrations", l); err != nil {
		return fmt.Errorf("チャットストアのマイグレーションに失敗: %w", err)
	}
	return nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveBatch はメッセージをまとめて保存する。再配送された同じIDのメッセージは無視する。
func (s *Store) SaveBatch(ctx context.Context, chats []event.Chat) error {
	if len(chats) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO chats
		(id, sender_id, receiver_id, content, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("INSERT文の準備に失敗: %w", err)
	}
	defer stmt.Close()

	for _, c := range chats {
		if _, err := stmt.ExecContext(ctx, c.ID, c.SenderID, c.ReceiverID, c.Content, c.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("チャットの保存に失敗 (id=%d): %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return nil
}

// History は2人の間のメッセージを新しい順に返す。
// beforeIDが正の場合はそれより古いメッセージだけを返す。
func (s *Store) History(ctx context.Context, userID, peerID, beforeID int64, limit int) ([]event.Chat, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	query := `SELECT id, sender_id, receiver_id, content, created_at
		FROM chats
		WHERE ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))`
	args := []any{userID, peerID, peerID, userID}
	if beforeID > 0 {
		query += ` AND id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("会話履歴の取得に失敗: %w", err)
	}
	defer rows.Close()

	res := make([]event.Chat, 0)
	for rows.Next() {
		var c event.Chat
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.SenderID, &c.ReceiverID, &c.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("チャットの読み取りに失敗: %w", err)
		}
		c.CreatedAt = time.UnixMilli(createdAt)
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("チャットの読み取りに失敗: %w", err)
	}
	return res, nil
}
