package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrelhq/chatgate/internal/constants"
	"github.com/kestrelhq/chatgate/internal/dto"
	"github.com/kestrelhq/chatgate/internal/middleware"
	"github.com/kestrelhq/chatgate/internal/service"
)

// SettingsHandler exposes per-user preference CRUD
type SettingsHandler struct {
	settings *service.SettingsService
}

func NewSettingsHandler(settings *service.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// GetMySettings handles GET /api/user-settings/me, creating the row on
// first access
func (h *SettingsHandler) GetMySettings(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	settings, err := h.settings.GetOwn(c.Request.Context(), user)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewUserSettingsResponse(settings))
}

// UpdateMySettings handles PUT /api/user-settings/me
func (h *SettingsHandler) UpdateMySettings(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	var req dto.UpdateUserSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	settings, err := h.settings.UpdateOwn(c.Request.Context(), user, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewUserSettingsResponse(settings))
}

// GetUserSettings handles GET /api/user-settings/:id (admin or self)
func (h *SettingsHandler) GetUserSettings(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	settings, err := h.settings.GetForUser(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewUserSettingsResponse(settings))
}

// UpdateUserSettings handles PUT /api/user-settings/:id (admin or self)
func (h *SettingsHandler) UpdateUserSettings(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	var req dto.UpdateUserSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	settings, err := h.settings.UpdateForUser(c.Request.Context(), user, c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewUserSettingsResponse(settings))
}

// DeleteUserSettings handles DELETE /api/user-settings/:id (admin only)
func (h *SettingsHandler) DeleteUserSettings(c *gin.Context) {
	if err := h.settings.DeleteForUser(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, constants.BuildSuccessResponse("Settings deleted"))
}
