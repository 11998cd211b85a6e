// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの検証、パニックリカバリ、CORS設定、
// Prometheusによるリクエスト計測など、advice/timelineの両サービスで共通して使用する。
package middleware
