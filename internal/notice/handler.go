package notice

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/chirpline/pkg/logger"
	"github.com/nao1215/chirpline/pkg/middleware"
)

// Handler は受信者向けの通知APIを提供する。
type Handler struct {
	// store は通知の保存先。
	store *Store
	// l はログ出力先。
	l logger.LoggerV1
}

// NewHandler は新しいHandlerを生成する。
func NewHandler(store *Store, l logger.LoggerV1) *Handler {
	return &Handler{store: store, l: l}
}

// RegisterRoutes は認証済みのルートグループに通知APIを登録する。
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	notifications := rg.Group("/notifications")
	{
		// 通知一覧取得
		notifications.GET("", h.handleList())
		// 未読通知一覧取得
		notifications.GET("/unread", h.handleListUnread())
		// 通知を既読にする
		notifications.PUT("/:id/read", h.handleMarkAsRead())
		// 全通知を既読にする
		notifications.PUT("/read-all", h.handleMarkAllAsRead())
	}
}

// handleList は認証済みユーザーの通知一覧を返すハンドラ。
// limit クエリで最大件数を指定できる。
func (h *Handler) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit が不正です"})
			return
		}

		notifications, err := h.store.List(c.Request.Context(), userID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			h.l.Error("通知一覧取得エラー", logger.Int64("user_id", userID), logger.Error(err))
			return
		}

		c.JSON(http.StatusOK, notifications)
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を返すハンドラ。
func (h *Handler) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notifications, err := h.store.ListUnread(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知一覧の取得に失敗しました"})
			h.l.Error("未読通知一覧取得エラー", logger.Int64("user_id", userID), logger.Error(err))
			return
		}

		c.JSON(http.StatusOK, notifications)
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
func (h *Handler) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "通知IDが不正です"})
			return
		}

		err = h.store.MarkRead(c.Request.Context(), userID, id)
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		case errors.Is(err, ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			h.l.Error("通知既読処理エラー", logger.Int64("id", id), logger.Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (h *Handler) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		n, err := h.store.MarkAllRead(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			h.l.Error("全通知既読処理エラー", logger.Int64("user_id", userID), logger.Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "全通知を既読にしました", "updated": n})
	}
}
