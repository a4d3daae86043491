package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrelhq/chatgate/internal/constants"
	"github.com/kestrelhq/chatgate/internal/dto"
	"github.com/kestrelhq/chatgate/internal/middleware"
	"github.com/kestrelhq/chatgate/internal/service"
)

// AuthHandler exposes the registration and session lifecycle endpoints
type AuthHandler struct {
	sessions     *service.SessionManager
	users        *service.UserService
	cookieSecure bool
	refreshTTL   int // seconds, cookie lifetime
	accessTTL    int
}

func NewAuthHandler(sessions *service.SessionManager, users *service.UserService, cookieSecure bool, accessTTLSeconds, refreshTTLSeconds int) *AuthHandler {
	return &AuthHandler{
		sessions:     sessions,
		users:        users,
		cookieSecure: cookieSecure,
		accessTTL:    accessTTLSeconds,
		refreshTTL:   refreshTTLSeconds,
	}
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	user, err := h.users.Register(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewUserResponse(user))
}

// Login handles POST /api/auth/login. On success the token pair is returned
// in the body and mirrored into HTTP-only cookies for browser clients.
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.UserLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	tokens, _, err := h.sessions.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	h.setSessionCookies(c, tokens)
	c.JSON(http.StatusOK, tokens)
}

// Refresh handles POST /api/auth/refresh. The refresh token is taken from
// the body when present, the cookie otherwise.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req dto.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		cookie, cErr := c.Cookie(constants.CookieRefreshToken)
		if cErr != nil || cookie == "" {
			respondBindingError(c, err)
			return
		}
		req.RefreshToken = cookie
	}

	tokens, _, err := h.sessions.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}

	h.setSessionCookies(c, tokens)
	c.JSON(http.StatusOK, tokens)
}

// Logout handles POST /api/auth/logout. Revokes every outstanding token for
// the caller and clears the session cookies.
func (h *AuthHandler) Logout(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	if err := h.sessions.Logout(c.Request.Context(), user.ID); err != nil {
		respondError(c, err)
		return
	}

	h.clearSessionCookies(c)
	c.JSON(http.StatusOK, constants.BuildSuccessResponse("Logged out"))
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}
	c.JSON(http.StatusOK, dto.NewUserResponse(user))
}

func (h *AuthHandler) setSessionCookies(c *gin.Context, tokens *dto.TokenResponse) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(constants.CookieAccessToken, tokens.AccessToken, h.accessTTL, "/", "", h.cookieSecure, true)
	c.SetCookie(constants.CookieRefreshToken, tokens.RefreshToken, h.refreshTTL, "/", "", h.cookieSecure, true)
}

func (h *AuthHandler) clearSessionCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(constants.CookieAccessToken, "", -1, "/", "", h.cookieSecure, true)
	c.SetCookie(constants.CookieRefreshToken, "", -1, "/", "", h.cookieSecure, true)
}
