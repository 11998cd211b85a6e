package notice

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/chirpline/pkg/event"
	"github.com/nao1215/chirpline/pkg/logger"
	"github.com/nao1215/chirpline/pkg/migration"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrNotFound は通知が存在しないことを表す。
	ErrNotFound = errors.New("通知が見つかりません")
	// ErrForbidden は他人の通知を操作しようとしたことを表す。
	ErrForbidden = errors.New("この通知を操作する権限がありません")
)

// defaultListLimit は一覧取得の既定の最大件数。
const defaultListLimit = 100

// Store は通知レコードをSQLiteに保存する。
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

// Migrate は通知テーブルのマイグレーションを適用する。
func (s *Store) Migrate(ctx context.Context, l logger.LoggerV1) error {
	if err := migration.Run(ctx, s.db, migrationsFS, "migrations", l); err != nil {
		return fmt.Errorf("通知ストアのマイグレーションに失敗: %w", err)
	}
	return nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveBatch はレコードをまとめて保存する。同じIDのレコードは上書きしない。
func (s *Store) SaveBatch(ctx context.Context, records []event.Notification) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO notifications
		(id, sender_id, receiver_id, entity_type, son_entity, event, notice_type, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("INSERT文の準備に失敗: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.SenderID, r.ReceiverID, string(r.EntityType), r.SonEntity,
			string(r.Event), string(r.NoticeType), string(r.Status), r.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("通知の保存に失敗 (id=%d): %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return nil
}

// List は受信者の通知を新しい順に返す。UNREACHABLEのレコードは含めない。
// limitが0以下の場合は既定の件数を使う。
func (s *Store) List(ctx context.Context, receiverID int64, limit int) ([]event.Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, sender_id, receiver_id, entity_type, son_entity, event, notice_type, status, created_at
		FROM notifications
		WHERE receiver_id = ? AND status != ?
		ORDER BY id DESC
		LIMIT ?`, receiverID, string(event.StatusUnreachable), limit)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	return scanNotifications(rows)
}

// ListUnread は受信者の未読通知を新しい順に返す。
func (s *Store) ListUnread(ctx context.Context, receiverID int64) ([]event.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, sender_id, receiver_id, entity_type, son_entity, event, notice_type, status, created_at
		FROM notifications
		WHERE receiver_id = ? AND status = ?
		ORDER BY id DESC`, receiverID, string(event.StatusUnread))
	if err != nil {
		return nil, fmt.Errorf("未読通知一覧の取得に失敗: %w", err)
	}
	return scanNotifications(rows)
}

// MarkRead は受信者の通知を既読にする。
// 通知が存在しない場合はErrNotFound、受信者が異なる場合はErrForbiddenを返す。
func (s *Store) MarkRead(ctx context.Context, receiverID, id int64) error {
	var owner int64
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT receiver_id, status FROM notifications WHERE id = ?`, id).Scan(&owner, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("通知の取得に失敗: %w", err)
	}
	// UNREACHABLEは受信者に見せていないため存在しないものとして扱う
	if event.Status(status) == event.StatusUnreachable {
		return ErrNotFound
	}
	if owner != receiverID {
		return ErrForbidden
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE notifications SET status = ? WHERE id = ? AND status = ?`,
		string(event.StatusRead), id, string(event.StatusUnread)); err != nil {
		return fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	return nil
}

// MarkAllRead は受信者の未読通知をすべて既読にし、更新した件数を返す。
func (s *Store) MarkAllRead(ctx context.Context, receiverID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET status = ? WHERE receiver_id = ? AND status = ?`,
		string(event.StatusRead), receiverID, string(event.StatusUnread))
	if err != nil {
		return 0, fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	return n, nil
}

// scanNotifications は検索結果を通知レコードに変換する。rowsは必ず閉じる。
func scanNotifications(rows *sql.Rows) ([]event.Notification, error) {
	defer rows.Close()

	res := make([]event.Notification, 0)
	for rows.Next() {
		var n event.Notification
		var entityType, ev, noticeType, status string
		var createdAt int64
		if err := rows.Scan(&n.ID, &n.SenderID, &n.ReceiverID, &entityType, &n.SonEntity,
			&ev, &noticeType, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("通知の読み取りに失敗: %w", err)
		}
		n.EntityType = event.EntityType(entityType)
		n.Event = event.NoticeEvent(ev)
		n.NoticeType = event.NoticeType(noticeType)
		n.Status = event.Status(status)
		n.CreatedAt = time.UnixMilli(createdAt)
		res = append(res, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("通知の読み取りに失敗: %w", err)
	}
	return res, nil
}
