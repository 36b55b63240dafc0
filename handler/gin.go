package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-history-agent/internal/usecase"
)

// Register mounts the API on a gin router.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/chat", h.ginServe)
	r.GET("/history", h.ginServe)
	r.DELETE("/history", h.ginServe)
}

func (h *Handler) ginServe(c *gin.Context) {
	correlationID := correlationIDFrom(map[string]string{correlationHeader: c.GetHeader(correlationHeader)})

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		c.Header(correlationHeader, correlationID)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "body_too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "unreadable_body"})
		return
	}

	status, payload := h.serve(c.Request.Context(), correlationID, c.Request.Method, c.FullPath(), body)
	c.Header(correlationHeader, correlationID)
	c.JSON(status, payload)
}
