package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger はzap.LoggerをLoggerV1として扱うアダプタ。
type ZapLogger struct {
	// l は出力先のzapロガー。
	l *zap.Logger
}

// NewZapLogger は既存のzap.LoggerからZapLoggerを生成する。
func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{l: l}
}

// New はログレベルと実行モードからプロセス用のZapLoggerを構築する。
// developmentがtrueの場合はコンソール向けの読みやすい形式で出力する。
func New(level string, development bool) (*ZapLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("ログレベルの解析に失敗: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("zapロガーの構築に失敗: %w", err)
	}
	return NewZapLogger(l), nil
}

func (z *ZapLogger) Debug(msg string, args ...Field) {
	z.l.Debug(msg, z.toZapFields(args)...)
}

func (z *ZapLogger) Info(msg string, args ...Field) {
	z.l.Info(msg, z.toZapFields(args)...)
}

func (z *ZapLogger) Warn(msg string, args ...Field) {
	z.l.Warn(msg, z.toZapFields(args)...)
}

func (z *ZapLogger) Error(msg string, args ...Field) {
	z.l.Error(msg, z.toZapFields(args)...)
}

// Sync はバッファされたログを書き出す。プロセス終了前に呼び出す。
func (z *ZapLogger) Sync() error {
	return z.l.Sync()
}

func (z *ZapLogger) toZapFields(args []Field) []zap.Field {
	res := make([]zap.Field, 0, len(args))
	for _, arg := range args {
		res = append(res, zap.Any(arg.Key, arg.Value))
	}
	return res
}
