// adviceサービスのエントリポイント。
// 操作イベントとフォローイベントから通知を組み立てて保存し、
// WebSocketで接続中のユーザーへ通知とチャットを配信する。
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/chirpline/internal/advice"
	"github.com/nao1215/chirpline/pkg/config"
	"github.com/nao1215/chirpline/pkg/logger"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run はサービスを起動し、終了コードを返す。
func run(args []string) int {
	fs := flag.NewFlagSet("advice", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("CHIRP_CONFIG"), "設定ファイルのパス")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("設定の読み込みに失敗: %v", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("設定が不正です: %v", err)
		return 1
	}

	l, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Printf("ロガーの初期化に失敗: %v", err)
		return 1
	}
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := advice.Open(ctx, cfg, l)
	if err != nil {
		l.Error("adviceサーバーの初期化に失敗", logger.Error(err))
		return 1
	}
	if err := server.Run(ctx); err != nil {
		l.Error("adviceサービスが異常終了しました", logger.Error(err))
		return 1
	}
	l.Info("adviceサービスを停止しました")
	return 0
}
