package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-chatdoc/internal/apperr"
	"github.com/suPer8Hu/ai-chatdoc/internal/common"
	"github.com/suPer8Hu/ai-chatdoc/internal/document"
	"github.com/suPer8Hu/ai-chatdoc/internal/vectorindex"
)

type addTextReq struct {
	Filename string `json:"filename" binding:"required,notblank,max=255"`
	Content  string `json:"content" binding:"required,notblank"`
}

type ingestResp struct {
	DocumentID  string `json:"document_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	ChunkCount  int    `json:"chunk_count"`
	Message     string `json:"message"`
}

func toIngestResp(d *document.Document) ingestResp {
	return ingestResp{
		DocumentID:  d.ID,
		Filename:    d.Filename,
		ContentType: d.ContentType,
		ChunkCount:  d.ChunkCount,
		Message:     "document ingested",
	}
}

type documentResp struct {
	document.Summary
	Content string `json:"content"`
}

func (h *Handler) UploadDocument(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || c.Request.ContentLength > h.MaxUploadBytes {
			writeError(c, apperr.Field("file", "exceeds upload size limit"))
			return
		}
		writeError(c, apperr.Field("file", "is required"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		writeError(c, err)
		return
	}

	doc, err := h.DocSvc.Upload(c.Request.Context(), raw, fh.Filename, fh.Header.Get("Content-Type"))
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, toIngestResp(doc))
}

func (h *Handler) AddTextDocument(c *gin.Context) {
	var req addTextReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}
	doc, err := h.DocSvc.AddText(c.Request.Context(), req.Filename, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, toIngestResp(doc))
}

func (h *Handler) ListDocuments(c *gin.Context) {
	docs, err := h.DocSvc.List(c.Request.Context(), document.Filter{
		FilenameContains: c.Query("filename"),
		ContentType:      c.Query("content_type"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, gin.H{
		"documents": docs,
		"total":     len(docs),
	})
}

func (h *Handler) GetDocument(c *gin.Context) {
	doc, err := h.DocSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, documentResp{Summary: doc.Summary(), Content: doc.Content})
}

func (h *Handler) SearchDocument(c *gin.Context) {
	topK := 0
	if v := c.Query("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(c, apperr.Field("top_k", "must be an integer"))
			return
		}
		topK = n
	}

	id, query := c.Param("id"), c.Query("query")
	results, err := h.DocSvc.SearchInDocument(c.Request.Context(), id, query, topK)
	if err != nil {
		writeError(c, err)
		return
	}
	if results == nil {
		results = []vectorindex.Result{}
	}
	common.OK(c, gin.H{
		"document_id":  id,
		"query":        query,
		"result_count": len(results),
		"results":      results,
	})
}

func (h *Handler) DeleteDocument(c *gin.Context) {
	id := c.Param("id")
	if err := h.DocSvc.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, gin.H{
		"document_id": id,
		"deleted":     true,
		"deleted_at":  time.Now().UTC(),
	})
}
