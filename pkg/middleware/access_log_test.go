package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

// TestAccessLog はアクセスログからトークンが伏せられることを検証する。
func TestAccessLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    string
		want    string
		notWant string
	}{
		{name: "tokenクエリの値が伏せられること", path: "/ws?token=abc.def.ghi&x=1", want: "/ws?token=REDACTED&x=1", notWant: "abc.def.ghi"},
		{name: "tokenが無いクエリはそのまま出力されること", path: "/feed?page=2", want: "/feed?page=2"},
		{name: "クエリの無いパスはそのまま出力されること", path: "/health", want: "/health"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			router := gin.New()
			router.Use(AccessLog(&buf))
			router.GET("/*any", func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			got := buf.String()
			if !strings.Contains(got, tt.want) {
				t.Errorf("ログ = %q, want %q を含む", got, tt.want)
			}
			if tt.notWant != "" && strings.Contains(got, tt.notWant) {
				t.Errorf("ログ = %q, want %q を含まない", got, tt.notWant)
			}
		})
	}
}
