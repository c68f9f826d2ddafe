package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/celebrum-quant/internal/middleware"
	"github.com/irfndi/celebrum-quant/internal/utils"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case utils.IsInvalidInput(err):
		return http.StatusBadRequest
	case utils.IsUnsupported(err):
		return http.StatusUnprocessableEntity
	case utils.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error, message string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		middleware.RecordError(c, err, message)
	}
	c.JSON(status, gin.H{"error": message, "details": err.Error()})
}
