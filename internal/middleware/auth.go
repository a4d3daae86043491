package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kestrelhq/chatgate/internal/constants"
	apperrors "github.com/kestrelhq/chatgate/internal/errors"
	"github.com/kestrelhq/chatgate/internal/model"
	"github.com/kestrelhq/chatgate/internal/service"
)

const ginKeyCurrentUser = "currentUser"

// AuthMiddleware guards routes with access-token authentication
type AuthMiddleware struct {
	sessions *service.SessionManager
}

func NewAuthMiddleware(sessions *service.SessionManager) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions}
}

// RequireActiveUser authenticates the request and loads the live user record
// into the gin context. The token comes from the Authorization header first,
// then the access_token cookie. Every token failure is the same 401 so a
// probe cannot distinguish expired from forged from revoked; an inactive
// account with an otherwise valid token gets a 400.
func (m *AuthMiddleware) RequireActiveUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
			return
		}

		user, err := m.sessions.Authenticate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, apperrors.ErrInactiveUser) {
				c.AbortWithStatusJSON(http.StatusBadRequest,
					constants.BuildErrorResponse(constants.MsgInactiveUser, ""))
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
			return
		}

		ctx := c.Request.Context()
		ctx = context.WithValue(ctx, constants.CtxKeyUserID, user.ID)
		ctx = context.WithValue(ctx, constants.CtxKeyUsername, user.Username)
		c.Request = c.Request.WithContext(ctx)
		c.Set(ginKeyCurrentUser, user)

		c.Next()
	}
}

// RequireAdmin allows only admin-role users through. Must run after
// RequireActiveUser in the chain.
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
			return
		}
		if !user.Role.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden,
				constants.BuildErrorResponse(constants.MsgForbidden, ""))
			return
		}
		c.Next()
	}
}

// CurrentUser returns the authenticated user stored by RequireActiveUser
func CurrentUser(c *gin.Context) (*model.User, bool) {
	value, exists := c.Get(ginKeyCurrentUser)
	if !exists {
		return nil, false
	}
	user, ok := value.(*model.User)
	return user, ok
}

func extractToken(c *gin.Context) string {
	header := c.GetHeader(constants.HeaderAuthorization)
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	if cookie, err := c.Cookie(constants.CookieAccessToken); err == nil {
		return cookie
	}
	return ""
}
