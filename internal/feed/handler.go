package feed

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/chirpline/pkg/logger"
	"github.com/nao1215/chirpline/pkg/middleware"
)

// Handler は認証済みユーザー自身のフィードを返すAPIを提供する。
type Handler struct {
	store Store
	l     logger.LoggerV1
}

// NewHandler は新しいHandlerを生成する。
func NewHandler(store Store, l logger.LoggerV1) *Handler {
	return &Handler{store: store, l: l}
}

// RegisterRoutes は認証済みのルートグループにフィードAPIを登録する。
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	feeds := rg.Group("/feed")
	{
		// ページ番号指定の取得
		feeds.GET("", h.handlePage())
		// スコア指定の続き取得
		feeds.GET("/before", h.handleBefore())
		// スコア範囲の取得
		feeds.GET("/range", h.handleRange())
	}
}

func (h *Handler) handlePage() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
		if err != nil || page < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "page が不正です"})
			return
		}

		entries, err := h.store.GetPage(c.Request.Context(), userID, page)
		if err != nil {
			h.fail(c, userID, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func (h *Handler) handleBefore() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		score, err := strconv.ParseInt(c.Query("score"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "score が不正です"})
			return
		}

		entries, err := h.store.GetPageByScore(c.Request.Context(), userID, score)
		if err != nil {
			h.fail(c, userID, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func (h *Handler) handleRange() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		start, err := strconv.ParseInt(c.Query("start"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start が不正です"})
			return
		}
		end, err := strconv.ParseInt(c.Query("end"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end が不正です"})
			return
		}

		entries, err := h.store.GetRange(c.Request.Context(), userID, start, end)
		if err != nil {
			h.fail(c, userID, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func requireUser(c *gin.Context) (int64, bool) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
		return 0, false
	}
	return userID, true
}

func (h *Handler) fail(c *gin.Context, userID int64, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": "フィードの取得に失敗しました"})
	h.l.Error("フィード取得エラー", logger.Int64("user_id", userID), logger.Error(err))
}
