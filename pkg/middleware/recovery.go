package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/chirpline/pkg/logger"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニック発生時にスタックトレースをロガーに出力し、500エラーを返す。
func Recovery(l logger.LoggerV1) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				l.Error("ハンドラでパニックが発生",
					logger.String("method", c.Request.Method),
					logger.String("path", c.Request.URL.Path),
					logger.Any("panic", r),
					logger.String("stack", string(debug.Stack())))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "内部サーバーエラーが発生しました",
				})
			}
		}()
		c.Next()
	}
}
