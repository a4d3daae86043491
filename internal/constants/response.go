package constants

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// Standard response field keys
const (
	ResponseFieldTotal   = "total"
	ResponseFieldSkip    = "skip"
	ResponseFieldLimit   = "limit"
	ResponseFieldData    = "data"
	ResponseFieldMessage = "message"
	ResponseFieldDetail  = "detail"
	ResponseFieldError   = "error"
	ResponseFieldSuccess = "success"
)

// Pagination query parameters and bounds
const (
	QueryParamSkip  = "skip"
	QueryParamLimit = "limit"

	DefaultSkip  = "0"
	DefaultLimit = "20"
	MaxLimit     = 100
)

// PaginationParams holds parsed skip/limit values
type PaginationParams struct {
	Skip  int
	Limit int
}

// ParsePaginationParams parses skip/limit query parameters with bounds
func ParsePaginationParams(c *gin.Context) PaginationParams {
	skipStr := c.DefaultQuery(QueryParamSkip, DefaultSkip)
	limitStr := c.DefaultQuery(QueryParamLimit, DefaultLimit)

	skip, _ := strconv.Atoi(skipStr)
	limit, _ := strconv.Atoi(limitStr)

	if skip < 0 {
		skip = 0
	}
	if limit < 1 {
		limit = 1
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	return PaginationParams{Skip: skip, Limit: limit}
}

// BuildErrorResponse builds the standard error envelope
func BuildErrorResponse(message, detail string) gin.H {
	return gin.H{
		ResponseFieldMessage: message,
		ResponseFieldDetail:  detail,
	}
}

// BuildSuccessResponse builds the standard success envelope
func BuildSuccessResponse(message string) gin.H {
	return gin.H{
		ResponseFieldSuccess: true,
		ResponseFieldMessage: message,
	}
}
