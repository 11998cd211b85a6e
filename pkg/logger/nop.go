package logger

// NopLogger は何も出力しないロガー。テストで使用する。
type NopLogger struct{}

// NewNopLogger は新しいNopLoggerを生成する。
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

func (n *NopLogger) Debug(msg string, args ...Field) {}

func (n *NopLogger) Info(msg string, args ...Field) {}

func (n *NopLogger) Warn(msg string, args ...Field) {}

func (n *NopLogger) Error(msg string, args ...Field) {}
