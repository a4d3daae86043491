package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrelhq/chatgate/internal/constants"
	"github.com/kestrelhq/chatgate/internal/dto"
	"github.com/kestrelhq/chatgate/internal/middleware"
	"github.com/kestrelhq/chatgate/internal/service"
)

// UserHandler exposes profile self-service and admin account management
type UserHandler struct {
	users *service.UserService
}

func NewUserHandler(users *service.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// UpdateProfile handles PATCH /api/users/me
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	var req dto.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	updated, err := h.users.UpdateProfile(c.Request.Context(), user.ID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewUserResponse(updated))
}

// ChangePassword handles PUT /api/users/me/password. Success revokes every
// existing session, so the client must log in again.
func (h *UserHandler) ChangePassword(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	var req dto.UpdatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	if err := h.users.ChangePassword(c.Request.Context(), user.ID, &req); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, constants.BuildSuccessResponse("Password updated"))
}

// DeleteUser handles DELETE /api/users/:id (admin). The account and all of
// its chats are removed.
func (h *UserHandler) DeleteUser(c *gin.Context) {
	actor, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	if err := h.users.DeleteUser(c.Request.Context(), actor.ID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, constants.BuildSuccessResponse("User deleted"))
}

// ListUsers handles GET /api/users (admin)
func (h *UserHandler) ListUsers(c *gin.Context) {
	params := constants.ParsePaginationParams(c)

	users, total, err := h.users.ListUsers(c.Request.Context(), params.Skip, params.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		out = append(out, dto.NewUserResponse(&users[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		constants.ResponseFieldTotal: total,
		constants.ResponseFieldData:  out,
		constants.ResponseFieldSkip:  params.Skip,
		constants.ResponseFieldLimit: params.Limit,
	})
}

// GetUser handles GET /api/users/:id (admin)
func (h *UserHandler) GetUser(c *gin.Context) {
	user, err := h.users.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewUserResponse(user))
}

// SetActive handles PUT /api/users/:id/active (admin). Deactivation also
// revokes the target's tokens.
func (h *UserHandler) SetActive(c *gin.Context) {
	actor, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	var req dto.SetUserActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	updated, err := h.users.SetActive(c.Request.Context(), actor.ID, c.Param("id"), *req.IsActive)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewUserResponse(updated))
}
