// Profile HTTP handlers: visible name and profile picture.
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// VisibleNameRequest is the JSON payload for PUT /profile/visible-name.
type VisibleNameRequest struct {
	VisibleName string `json:"visible_name" binding:"required" example:"Alice L."`
}

// VisibleNameResponse reports a user's display name.
type VisibleNameResponse struct {
	Username    string `json:"username" example:"alice"`
	VisibleName string `json:"visible_name" example:"Alice L."`
}

// targetUser is ?username= when given, else the caller.
func targetUser(c *gin.Context) string {
	if u := strings.TrimSpace(c.Query("username")); u != "" {
		return u
	}
	return userID(c)
}

// GetVisibleName godoc
// @ID          getVisibleName
// @Summary     Get a visible name
// @Tags        Profile
// @Produce     json
// @Security    BearerAuth
//
// @Param       username  query  string  false "User (defaults to the caller)"
//
// @Success     200  {object} handlers.VisibleNameResponse
// @Failure     404  {object} handlers.ErrorResponse "Unknown user"
// @Router      /profile/visible-name [get]
func (h *Handlers) GetVisibleName(c *gin.Context) {
	u := targetUser(c)
	name, err := h.acctSvc.VisibleName(c.Request.Context(), u)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, VisibleNameResponse{Username: u, VisibleName: name})
}

// SetVisibleName godoc
// @ID          setVisibleName
// @Summary     Set the caller's visible name
// @Tags        Profile
// @Accept      json
// @Security    BearerAuth
//
// @Param       body  body  handlers.VisibleNameRequest  true  "New name"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /profile/visible-name [put]
func (h *Handlers) SetVisibleName(c *gin.Context) {
	var req VisibleNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "visible_name required")
		return
	}
	if err := h.acctSvc.SetVisibleName(c.Request.Context(), userID(c), req.VisibleName); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}

// GetPicture godoc
// @ID          getPicture
// @Summary     Get a profile picture
// @Tags        Profile
// @Produce     png,jpeg,gif
// @Security    BearerAuth
//
// @Param       username  query  string  false "User (defaults to the caller)"
//
// @Success     200  {file}   file
// @Failure     404  {object} handlers.ErrorResponse "No picture"
// @Router      /profile/picture [get]
func (h *Handlers) GetPicture(c *gin.Context) {
	data, contentType, err := h.acctSvc.Avatar(c.Request.Context(), targetUser(c))
	if err != nil {
		failService(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=60")
	c.Header("Content-Length", strconv.Itoa(len(data)))
	c.Data(http.StatusOK, contentType, data)
}

// SetPicture godoc
// @ID          setPicture
// @Summary     Upload the caller's profile picture
// @Description PNG and JPEG are scaled to fit 256x256; GIF is stored as-is.
// @Tags        Profile
// @Accept      png,jpeg,gif
// @Security    BearerAuth
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Unsupported image"
// @Failure     413  {object} handlers.ErrorResponse "Too large"
// @Router      /profile/picture [put]
func (h *Handlers) SetPicture(c *gin.Context) {
	data, read := readBody(c)
	if !read {
		return
	}
	if err := h.acctSvc.SetAvatar(c.Request.Context(), userID(c), data); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}

// DeletePicture godoc
// @ID          deletePicture
// @Summary     Remove the caller's profile picture
// @Tags        Profile
// @Security    BearerAuth
//
// @Success     204  {string} string "No Content"
// @Router      /profile/picture [delete]
func (h *Handlers) DeletePicture(c *gin.Context) {
	if err := h.acctSvc.DeleteAvatar(c.Request.Context(), userID(c)); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}
