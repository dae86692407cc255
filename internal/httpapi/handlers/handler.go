package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-chatdoc/internal/chat"
	"github.com/suPer8Hu/ai-chatdoc/internal/common"
	"github.com/suPer8Hu/ai-chatdoc/internal/document"
)

const defaultMaxUploadBytes = 10 << 20

type Handler struct {
	ChatSvc        *chat.Service
	DocSvc         *document.Service
	MaxUploadBytes int64
}

func NewHandler(chatSvc *chat.Service, docSvc *document.Service, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{ChatSvc: chatSvc, DocSvc: docSvc, MaxUploadBytes: maxUploadBytes}
}

func (h *Handler) Ping(c *gin.Context) {
	caps := h.ChatSvc.Capabilities()
	common.OK(c, gin.H{
		"pong":      true,
		"streaming": caps.Streaming,
	})
}

func (h *Handler) NoRoute(c *gin.Context) {
	common.Fail(c, http.StatusNotFound, 40400, "route not found")
}

func (h *Handler) NoMethod(c *gin.Context) {
	common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
}
