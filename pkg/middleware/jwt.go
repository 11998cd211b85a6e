package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// issuer はこのシステムが発行するトークンの発行者名。
const issuer = "chirpline-auth"

// contextKeyUserID はGinコンテキストに認証済みユーザーIDを格納するキー。
const contextKeyUserID = "user_id"

// headerKeyUserID は認証済みユーザーIDをレスポンスに付与するHTTPヘッダーキー。
const headerKeyUserID = "X-User-ID"

// queryKeyToken はWebSocketのハンドシェイクでトークンを渡すクエリパラメータ名。
// ブラウザのWebSocket APIは任意のヘッダーを付与できないため、クエリでも受け付ける。
const queryKeyToken = "token"

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID int64 `json:"user_id"`
}

// GenerateJWT はユーザーIDからJWTトークンを生成する。
// 認証サービスとテストが呼び出す。
func GenerateJWT(secret string, userID int64) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// トークンはAuthorizationヘッダー（Bearer形式）、無ければ token クエリから取得する。
// 検証に成功した場合、コンテキストに "user_id" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, errMsg := extractToken(c)
		if errMsg != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMsg})
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid || claims.UserID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set(contextKeyUserID, claims.UserID)
		c.Header(headerKeyUserID, strconv.FormatInt(claims.UserID, 10))
		c.Next()
	}
}

// extractToken はリクエストからトークン文字列を取り出す。
// 取り出せない場合はエラーメッセージを返す。
func extractToken(c *gin.Context) (string, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if q := c.Query(queryKeyToken); q != "" {
			return q, ""
		}
		return "", "Authorizationヘッダーが必要です"
	}

	tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found {
		return "", "Bearer トークン形式が不正です"
	}
	return tokenString, ""
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されていない場合は0を返す。
func GetUserID(c *gin.Context) int64 {
	userID, _ := c.Get(contextKeyUserID)
	if id, ok := userID.(int64); ok {
		return id
	}
	return 0
}

// SetUserID はGinコンテキストにユーザーIDを設定する。
// JWTAuthの代わりに信頼済みの経路でユーザーを特定する場合とテストで使用する。
func SetUserID(c *gin.Context, userID int64) {
	c.Set(contextKeyUserID, userID)
}
