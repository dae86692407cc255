package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/ai-chatdoc/internal/ai"
	"github.com/suPer8Hu/ai-chatdoc/internal/apperr"
	"github.com/suPer8Hu/ai-chatdoc/internal/chat"
	"github.com/suPer8Hu/ai-chatdoc/internal/common"
	"github.com/suPer8Hu/ai-chatdoc/internal/tokens"
)

const heartbeatInterval = 15 * time.Second

type chatReq struct {
	Message string `json:"message" binding:"required,notblank"`
}

type historyChatReq struct {
	Message        string `json:"message" binding:"required,notblank"`
	ConversationID string `json:"conversation_id" binding:"max=128"`
}

type chatResp struct {
	Message        string         `json:"message"`
	ConversationID string         `json:"conversation_id"`
	Timestamp      time.Time      `json:"timestamp"`
	TokenUsage     *ai.Usage      `json:"token_usage,omitempty"`
	TokenReport    *tokens.Report `json:"token_report,omitempty"`
}

func toChatResp(r *chat.Reply) chatResp {
	return chatResp{
		Message:        r.Text,
		ConversationID: r.ConversationID,
		Timestamp:      r.Timestamp,
		TokenUsage:     r.Usage,
		TokenReport:    r.Report,
	}
}

func (h *Handler) Chat(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}
	reply, err := h.ChatSvc.Chat(c.Request.Context(), req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, toChatResp(reply))
}

func (h *Handler) ChatWithContext(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}
	reply, err := h.ChatSvc.ChatWithContext(c.Request.Context(), req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, toChatResp(reply))
}

func (h *Handler) ChatWithHistory(c *gin.Context) {
	var req historyChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}
	reply, err := h.ChatSvc.ChatWithHistory(c.Request.Context(), req.Message, req.ConversationID)
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, toChatResp(reply))
}

func (h *Handler) GetConversation(c *gin.Context) {
	id := c.Param("id")
	msgs, err := h.ChatSvc.History(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []ai.Message{}
	}
	common.OK(c, gin.H{
		"conversation_id": id,
		"messages":        msgs,
	})
}

func (h *Handler) ClearConversation(c *gin.Context) {
	id := c.Param("id")
	if err := h.ChatSvc.ClearConversation(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, gin.H{"conversation_id": id, "cleared": true})
}

func (h *Handler) ClearAllConversations(c *gin.Context) {
	if err := h.ChatSvc.ClearAll(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, gin.H{"cleared": true})
}

// ChatStream relays provider fragments as server-sent events. Errors found
// before the first byte use the normal JSON envelope.
func (h *Handler) ChatStream(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}

	ctx := c.Request.Context()
	stream, err := h.ChatSvc.ChatStream(ctx, req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	defer stream.Close()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		common.Fail(c, http.StatusInternalServerError, 50003, "streaming not supported")
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			// last-resort: send a simple error that won't break SSE framing
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	chunks := stream.Chunks()
	for {
		select {
		case delta, ok := <-chunks:
			if ok {
				writeJSON("chunk", gin.H{"type": "chunk", "delta": delta})
				continue
			}
			if err := stream.Err(); err != nil {
				ae := apperr.As(err)
				log.Ctx(ctx).Warn().Err(err).Msg("chat stream ended with error")
				writeJSON("error", gin.H{
					"type":    "error",
					"code":    ae.Code(),
					"message": ae.PublicMessage(),
				})
				return
			}
			writeJSON("done", gin.H{"type": "done"})
			return

		case <-ticker.C:
			writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})

		case <-ctx.Done():
			return
		}
	}
}
