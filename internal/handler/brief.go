package handler

import (
	"io"
	"net/http"

	"github.com/brandpilot/backend/internal/service/briefsource"
	"github.com/gin-gonic/gin"
)

const maxBriefSize = 1 << 20

type BriefHandler struct {
	parser *briefsource.Parser
}

func NewBriefHandler(parser *briefsource.Parser) *BriefHandler {
	return &BriefHandler{parser: parser}
}

// Parse reads a brief from the raw request body (JSON, YAML or markdown with
// front matter).
func (h *BriefHandler) Parse(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBriefSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	brief, err := h.parser.Parse(string(body))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, brief)
}
