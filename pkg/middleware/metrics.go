package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はリクエストの応答時間と処理中リクエスト数を計測するGinミドルウェアを返す。
// ラベルにはURLではなくルートのパターンを使い、系列数の増加を防ぐ。
func Metrics(reg prometheus.Registerer, namespace, service string) gin.HandlerFunc {
	summary := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace:   namespace,
		Subsystem:   "http",
		Name:        "resp_time_ms",
		Help:        "HTTPリクエストの応答時間（ミリ秒）",
		ConstLabels: prometheus.Labels{"service": service},
		Objectives: map[float64]float64{
			0.5:  0.01,
			0.9:  0.01,
			0.99: 0.005,
		},
	}, []string{"method", "pattern", "status"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "http",
		Name:        "active_req",
		Help:        "処理中のHTTPリクエスト数",
		ConstLabels: prometheus.Labels{"service": service},
	})
	reg.MustRegister(summary, gauge)

	return func(c *gin.Context) {
		start := time.Now()
		gauge.Inc()
		defer func() {
			gauge.Dec()
			pattern := c.FullPath()
			if pattern == "" {
				pattern = "unknown"
			}
			summary.WithLabelValues(c.Request.Method, pattern, strconv.Itoa(c.Writer.Status())).
				Observe(float64(time.Since(start).Milliseconds()))
		}()
		c.Next()
	}
}
