package migration

import (
	"database/sql"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/nao1215/chirpline/pkg/logger"
	_ "modernc.org/sqlite"
)

// openTestDB はテスト用のインメモリSQLiteを開く。
// :memory: は接続ごとに別のデータベースになるため、接続数を1に制限する。
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRun はマイグレーションの適用順序と冪等性を検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"migrations/000002_add_index.up.sql":      {Data: []byte("CREATE INDEX idx_items_name ON items(name);")},
		"migrations/000001_create_items.up.sql":   {Data: []byte("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);")},
		"migrations/000001_create_items.down.sql": {Data: []byte("DROP TABLE items;")},
		"migrations/README.md":                    {Data: []byte("ignored")},
	}

	t.Run("バージョン順に適用され、2回目は何もしないこと", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		l := logger.NewNopLogger()

		if err := Run(t.Context(), db, fsys, "migrations", l); err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		if err := Run(t.Context(), db, fsys, "migrations", l); err != nil {
			t.Fatalf("2回目のRun()でエラーが発生: %v", err)
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
			t.Fatalf("適用済みバージョンの取得に失敗: %v", err)
		}
		if count != 2 {
			t.Errorf("適用済みバージョン数 = %d, want 2", count)
		}
		if _, err := db.Exec("INSERT INTO items (name) VALUES ('a')"); err != nil {
			t.Errorf("マイグレーション後のテーブルに書き込めない: %v", err)
		}
	})

	t.Run("不正なSQLでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		broken := fstest.MapFS{
			"migrations/000001_broken.up.sql": {Data: []byte("CREATE TABLE;")},
		}
		if err := Run(t.Context(), openTestDB(t), broken, "migrations", logger.NewNopLogger()); err == nil {
			t.Fatal("Run()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("既存の版より新しいファイルだけが後から適用されること", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		l := logger.NewNopLogger()
		first := fstest.MapFS{
			"migrations/000001_create_items.up.sql": fsys["migrations/000001_create_items.up.sql"],
		}
		if n, err := New(db, first, "migrations", l).Up(t.Context()); err != nil || n != 1 {
			t.Fatalf("Up() = %d, %v, want 1, nil", n, err)
		}

		m := New(db, fsys, "migrations", l)
		n, err := m.Up(t.Context())
		if err != nil {
			t.Fatalf("Up()でエラーが発生: %v", err)
		}
		if n != 1 {
			t.Errorf("適用数 = %d, want 1", n)
		}
		v, err := m.Version(t.Context())
		if err != nil {
			t.Fatalf("Version()でエラーが発生: %v", err)
		}
		if v != 2 {
			t.Errorf("Version() = %d, want 2", v)
		}
		var name string
		if err := db.QueryRow("SELECT name FROM schema_migrations WHERE version = 2").Scan(&name); err != nil {
			t.Fatalf("版の名前の取得に失敗: %v", err)
		}
		if name != "add_index" {
			t.Errorf("name = %q, want %q", name, "add_index")
		}
	})

	t.Run("同じ版のファイルが複数あるとエラーになること", func(t *testing.T) {
		t.Parallel()

		dup := fstest.MapFS{
			"migrations/000001_a.up.sql": {Data: []byte("CREATE TABLE a (id INTEGER);")},
			"migrations/000001_b.up.sql": {Data: []byte("CREATE TABLE b (id INTEGER);")},
		}
		err := Run(t.Context(), openTestDB(t), dup, "migrations", logger.NewNopLogger())
		if !errors.Is(err, ErrDuplicateVersion) {
			t.Errorf("Run() = %v, want ErrDuplicateVersion", err)
		}
	})

	t.Run("失敗した版は記録されず、前の版は残ること", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		partial := fstest.MapFS{
			"migrations/000001_create_items.up.sql": fsys["migrations/000001_create_items.up.sql"],
			"migrations/000002_broken.up.sql":       {Data: []byte("CREATE TABLE;")},
		}
		m := New(db, partial, "migrations", logger.NewNopLogger())
		n, err := m.Up(t.Context())
		if err == nil {
			t.Fatal("Up()がエラーを返すべきだが、nilが返った")
		}
		if n != 1 {
			t.Errorf("適用数 = %d, want 1", n)
		}
		if v, err := m.Version(t.Context()); err != nil || v != 1 {
			t.Errorf("Version() = %d, %v, want 1, nil", v, err)
		}
	})
}
