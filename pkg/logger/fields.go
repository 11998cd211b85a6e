package logger

// String は文字列のフィールドを生成する。
func String(key string, val string) Field {
	return Field{Key: key, Value: val}
}

// Int64 はint64のフィールドを生成する。
func Int64(key string, val int64) Field {
	return Field{Key: key, Value: val}
}

// Int32 はint32のフィールドを生成する。
func Int32(key string, val int32) Field {
	return Field{Key: key, Value: val}
}

// Int はintのフィールドを生成する。
func Int(key string, val int) Field {
	return Field{Key: key, Value: val}
}

// Bool は真偽値のフィールドを生成する。
func Bool(key string, b bool) Field {
	return Field{Key: key, Value: b}
}

// Any は任意の値のフィールドを生成する。
func Any(key string, val any) Field {
	return Field{Key: key, Value: val}
}

// Error はエラーを "error" キーのフィールドとして生成する。
func Error(err error) Field {
	return Field{Key: "error", Value: err}
}
