package middleware

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// redacted はアクセスログでトークンの代わりに出力する値。
const redacted = "REDACTED"

// AccessLog はgin.Logger相当のアクセスログをoutへ出力するGinミドルウェアを返す。
// WebSocket接続で使う token クエリの値はログに残さない。
func AccessLog(out io.Writer) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Output: out,
		Formatter: func(p gin.LogFormatterParams) string {
			return fmt.Sprintf("[GIN] %v | %3d | %13v | %15s | %-7s %#v\n%s",
				p.TimeStamp.Format("2006/01/02 - 15:04:05"),
				p.StatusCode,
				p.Latency,
				p.ClientIP,
				p.Method,
				redactToken(p.Path),
				p.ErrorMessage,
			)
		},
	})
}

// redactToken はパスのクエリ文字列に含まれる token の値を伏せる。
func redactToken(path string) string {
	base, rawQuery, found := strings.Cut(path, "?")
	if !found {
		return path
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		// 解釈できないクエリはそのまま出さない
		return base + "?" + redacted
	}
	if !query.Has(queryKeyToken) {
		return path
	}
	query.Set(queryKeyToken, redacted)
	return base + "?" + query.Encode()
}
