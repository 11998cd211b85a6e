// Package logger はサービス全体で使用する構造化ロガーの抽象を提供する。
//
// 実装はzapをラップしたZapLoggerと、テスト用のNopLoggerの2種類。
// バックグラウンドで動作するコンシューマやWebSocketハンドラは
// すべてLoggerV1インターフェース経由でログを出力する。
package logger

// LoggerV1 は構造化ログ出力のインターフェース。
type LoggerV1 interface {
	Debug(msg string, args ...Field)
	Info(msg string, args ...Field)
	Warn(msg string, args ...Field)
	Error(msg string, args ...Field)
}

// Field はログに付与するキーと値の組。
type Field struct {
	// Key はフィールド名。
	Key string
	// Value はフィールドの値。
	Value any
}
