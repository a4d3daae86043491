package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrelhq/chatgate/internal/constants"
	apperrors "github.com/kestrelhq/chatgate/internal/errors"
	"github.com/kestrelhq/chatgate/internal/service"
	"github.com/kestrelhq/chatgate/pkg/validation"
)

// respondError renders a domain error with its mapped status. An upstream
// gateway error additionally relays the upstream body so clients see what
// the daemon actually said.
func respondError(c *gin.Context, err error) {
	var upstream *service.UpstreamError
	if errors.As(err, &upstream) {
		c.JSON(http.StatusBadGateway,
			constants.BuildErrorResponse(apperrors.GetErrorMessage(apperrors.ErrGatewayError), upstream.Body))
		return
	}

	c.JSON(apperrors.ToHTTPStatus(err),
		constants.BuildErrorResponse(apperrors.GetErrorMessage(err), ""))
}

// respondBindingError renders request binding failures as a 400 with a
// human-readable field message.
func respondBindingError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest,
		constants.BuildErrorResponse(constants.MsgBadRequest, validation.FormatBindingError(err)))
}
