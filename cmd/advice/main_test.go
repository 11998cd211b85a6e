package main

import (
	"os"
	"path/filepath"
	"testing"
)

// TestRun は起動前に失敗した場合に終了コードを返すことを検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("kafka:\n  workers: 0\n"), 0o600); err != nil {
		t.Fatalf("設定ファイルの作成に失敗: %v", err)
	}

	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "不明なフラグは2を返す", args: []string{"-unknown"}, want: 2},
		{name: "存在しない設定ファイルは1を返す", args: []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, want: 1},
		{name: "検証に失敗する設定は1を返す", args: []string{"-config", invalid}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := run(tt.args); got != tt.want {
				t.Errorf("run(%v) = %d, want %d", tt.args, got, tt.want)
			}
		})
	}
}
