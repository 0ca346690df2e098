// Account HTTP handlers.
//
//   - POST /auth/register   (create an account)
//   - POST /auth/login      (exchange credentials for a bearer token)
//   - POST /auth/password   (change the caller's password)
//   - GET  /users           (every other registered user)
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RegisterRequest is the JSON payload for POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username" binding:"required" example:"alice"`
	Email    string `json:"email"    binding:"required" example:"alice@example.com"`
	Password string `json:"password" binding:"required" example:"correct horse battery"`
}

// LoginRequest is the JSON payload for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" binding:"required" example:"alice"`
	Password string `json:"password" binding:"required" example:"correct horse battery"`
}

// ChangePasswordRequest is the JSON payload for POST /auth/password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type" example:"Bearer"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserSummary is one entry of GET /users.
type UserSummary struct {
	Username    string `json:"username" example:"bob"`
	VisibleName string `json:"visible_name" example:"Bob"`
}

// UsersResponse lists registered users.
type UsersResponse struct {
	Users []UserSummary `json:"users"`
}

// Register godoc
// @ID          register
// @Summary     Register an account
// @Tags        Auth
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.RegisterRequest  true  "Account"
//
// @Success     201  {object} handlers.UserSummary
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     409  {object} handlers.ErrorResponse "Username taken"
// @Router      /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username, email and password required")
		return
	}
	a, err := h.acctSvc.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, UserSummary{Username: a.Username, VisibleName: a.VisibleName})
}

// Login godoc
// @ID          login
// @Summary     Obtain a bearer token
// @Tags        Auth
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.LoginRequest  true  "Credentials"
//
// @Success     200  {object} handlers.TokenResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Invalid credentials"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username and password required")
		return
	}
	tok, exp, err := h.acctSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, TokenResponse{Token: tok, TokenType: "Bearer", ExpiresAt: exp})
}

// ChangePassword godoc
// @ID          changePassword
// @Summary     Change password
// @Tags        Auth
// @Accept      json
// @Security    BearerAuth
//
// @Param       body  body  handlers.ChangePasswordRequest  true  "Old and new password"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Old password mismatch"
// @Router      /auth/password [post]
func (h *Handlers) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "old_password and new_password required")
		return
	}
	if err := h.acctSvc.ChangePassword(c.Request.Context(), userID(c), req.OldPassword, req.NewPassword); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}

// ListUsers godoc
// @ID          listUsers
// @Summary     List other users
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object} handlers.UsersResponse
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Router      /users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	accts, err := h.acctSvc.ListUsers(c.Request.Context(), userID(c))
	if err != nil {
		failService(c, err)
		return
	}
	out := make([]UserSummary, 0, len(accts))
	for _, a := range accts {
		out = append(out, UserSummary{Username: a.Username, VisibleName: a.VisibleName})
	}
	ok(c, http.StatusOK, UsersResponse{Users: out})
}
