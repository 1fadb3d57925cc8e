package handler

import (
	"net/http"
	"strconv"

	"github.com/brandpilot/backend/internal/domain"
	"github.com/brandpilot/backend/internal/service/guideline"
	"github.com/gin-gonic/gin"
)

type GuidelineHandler struct {
	index *guideline.Index
}

func NewGuidelineHandler(index *guideline.Index) *GuidelineHandler {
	return &GuidelineHandler{index: index}
}

type ingestRequest struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Source string `json:"source"`
	Text   string `json:"text" binding:"required"`
}

// Ingest stores a guideline document. Re-using an id replaces its chunks.
func (h *GuidelineHandler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chunks, err := h.index.Ingest(c.Request.Context(), domain.GuidelineDocument{
		ID:     req.ID,
		Title:  req.Title,
		Source: req.Source,
		Text:   req.Text,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	documentID := req.ID
	if len(chunks) > 0 {
		documentID = chunks[0].DocumentID
	}
	c.JSON(http.StatusCreated, gin.H{"document_id": documentID, "chunk_count": len(chunks), "chunks": chunks})
}

func (h *GuidelineHandler) List(c *gin.Context) {
	docs, err := h.index.ListDocuments()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	stats, err := h.index.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "stats": stats})
}

func (h *GuidelineHandler) Delete(c *gin.Context) {
	if err := h.index.DeleteDocument(c.Param("doc_id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "guideline deleted"})
}

func (h *GuidelineHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
		return
	}
	k, err := strconv.Atoi(c.DefaultQuery("k", strconv.Itoa(guideline.DefaultTopK)))
	if err != nil || k <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid k"})
		return
	}

	results, err := h.index.Search(c.Request.Context(), query, k)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}
