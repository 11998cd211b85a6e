// Package migration はSQLiteデータベースのスキーマを版ごとに進める。
// 通知ストアとチャットストアが、それぞれ自身のデータベースとembedしたSQLで使う。
//
// SQLファイルは 000001_create_notices.up.sql のように「版_名前.up.sql」と名付ける。
// 適用した版は schema_migrations に名前と一緒に記録する。
package migration

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/nao1215/chirpline/pkg/logger"
)

const upSuffix = ".up.sql"

// ErrDuplicateVersion は同じ版のSQLファイルが複数ある場合に返る。
var ErrDuplicateVersion = errors.New("マイグレーションの版が重複しています")

// step は適用単位となる1つのSQLファイル。
type step struct {
	version int
	name    string
	file    string
}

// Migrator は1つのデータベースに対するマイグレーションを管理する。
type Migrator struct {
	db   *sql.DB
	fsys fs.FS
	dir  string
	l    logger.LoggerV1
}

// New はfsysのdir配下のSQLをdbへ適用するMigratorを生成する。
func New(db *sql.DB, fsys fs.FS, dir string, l logger.LoggerV1) *Migrator {
	return &Migrator{db: db, fsys: fsys, dir: dir, l: l}
}

// Run はNewで生成したMigratorのUpを呼ぶ。
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, dir string, l logger.LoggerV1) error {
	_, err := New(db, fsys, dir, l).Up(ctx)
	return err
}

// Up は未適用の版を小さい順に1つずつトランザクションで適用し、適用した数を返す。
// 途中で失敗した場合、それより前の版は適用済みのまま残る。
func (m *Migrator) Up(ctx context.Context) (int, error) {
	steps, err := m.steps()
	if err != nil {
		return 0, err
	}
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	current, err := m.Version(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, st := range steps {
		if st.version <= current {
			continue
		}
		if err := m.apply(ctx, st); err != nil {
			return applied, fmt.Errorf("マイグレーション %06d_%s の適用に失敗: %w", st.version, st.name, err)
		}
		applied++
		m.l.Info("マイグレーションを適用しました",
			logger.Int("version", st.version),
			logger.String("name", st.name))
	}
	return applied, nil
}

// Version は適用済みの最大の版を返す。未適用なら0。
func (m *Migrator) Version(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	var v sql.NullInt64
	if err := m.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("適用済みの版の取得に失敗: %w", err)
	}
	return int(v.Int64), nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("マイグレーション管理テーブルの作成に失敗: %w", err)
	}
	return nil
}

// steps はdir直下の *.up.sql を版の順に並べて返す。命名規則に合わないファイルは無視する。
func (m *Migrator) steps() ([]step, error) {
	files, err := fs.Glob(m.fsys, path.Join(m.dir, "*"+upSuffix))
	if err != nil {
		return nil, fmt.Errorf("マイグレーションファイルの列挙に失敗: %w", err)
	}

	steps := make([]step, 0, len(files))
	seen := make(map[int]string, len(files))
	for _, file := range files {
		prefix, name, ok := strings.Cut(strings.TrimSuffix(path.Base(file), upSuffix), "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			continue
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("%w: %s, %s", ErrDuplicateVersion, other, file)
		}
		seen[version] = file
		steps = append(steps, step{version: version, name: name, file: file})
	}
	slices.SortFunc(steps, func(a, b step) int { return cmp.Compare(a.version, b.version) })
	return steps, nil
}

func (m *Migrator) apply(ctx context.Context, st step) (err error) {
	ddl, err := fs.ReadFile(m.fsys, st.file)
	if err != nil {
		return fmt.Errorf("ファイルの読み込みに失敗: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, string(ddl)); err != nil {
		return fmt.Errorf("SQLの実行に失敗: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, st.version, st.name); err != nil {
		return fmt.Errorf("版の記録に失敗: %w", err)
	}
	return tx.Commit()
}
