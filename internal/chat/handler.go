package chat

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/chirpline/pkg/logger"
	"github.com/nao1215/chirpline/pkg/middleware"
)

// Handler は会話履歴のAPIを提供する。
type Handler struct {
	store *Store
	l     logger.LoggerV1
}

// NewHandler は新しいHandlerを生成する。
func NewHandler(store *Store, l logger.LoggerV1) *Handler {
	return &Handler{store: store, l: l}
}

// RegisterRoutes は認証済みのルートグループに会話履歴APIを登録する。
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	// 相手との会話履歴取得
	rg.GET("/chats/:peer_id", h.handleHistory())
}

// handleHistory は認証済みユーザーと相手の会話を新しい順に返すハンドラ。
// before クエリより古いメッセージを limit 件まで返す。
func (h *Handler) handleHistory() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		peerID, err := strconv.ParseInt(c.Param("peer_id"), 10, 64)
		if err != nil || peerID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "peer_id が不正です"})
			return
		}
		before, err := strconv.ParseInt(c.DefaultQuery("before", "0"), 10, 64)
		if err != nil || before < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before が不正です"})
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit が不正です"})
			return
		}

		chats, err := h.store.History(c.Request.Context(), userID, peerID, before, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "会話履歴の取得に失敗しました"})
			h.l.Error("会話履歴取得エラー",
				logger.Int64("user_id", userID),
				logger.Int64("peer_id", peerID),
				logger.Error(err))
			return
		}
		c.JSON(http.StatusOK, chats)
	}
}
