// File HTTP handlers.
//
//   - PUT    /files?name=   (upload raw body, returns the file id)
//   - GET    /files/{id}    (download; 404 never existed, 410 deleted)
//   - DELETE /files/{id}    (tombstone; uploader only)
package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/utils"
)

// UploadResponse carries the id of a stored file.
type UploadResponse struct {
	FileID   uint   `json:"file_id" example:"3"`
	Filename string `json:"filename" example:"report.pdf"`
	Size     int64  `json:"size" example:"52311"`
}

// UploadFile godoc
// @ID          uploadFile
// @Summary     Upload an attachment
// @Description Stores the raw request body as a file. Reference the returned id in a message.
// @Tags        Files
// @Accept      octet-stream
// @Produce     json
// @Security    BearerAuth
//
// @Param       name  query  string  true  "File name"  example(report.pdf)
//
// @Success     201  {object} handlers.UploadResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     413  {object} handlers.ErrorResponse "Too large"
// @Failure     503  {object} handlers.ErrorResponse "Storage unavailable"
// @Router      /files [put]
func (h *Handlers) UploadFile(c *gin.Context) {
	content, read := readBody(c)
	if !read {
		return
	}
	f, err := h.fileSvc.Upload(c.Request.Context(), userID(c), c.Query("name"), content)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, UploadResponse{FileID: f.ID, Filename: f.Filename, Size: f.Size})
}

// DownloadFile godoc
// @ID          downloadFile
// @Summary     Download an attachment
// @Tags        Files
// @Produce     octet-stream
// @Security    BearerAuth
//
// @Param       id  path  int  true  "File ID"
//
// @Success     200  {file}   file
// @Failure     400  {object} handlers.ErrorResponse "Bad id"
// @Failure     404  {object} handlers.ErrorResponse "Never existed"
// @Failure     410  {object} handlers.ErrorResponse "Deleted"
// @Router      /files/{id} [get]
func (h *Handlers) DownloadFile(c *gin.Context) {
	id, valid := utils.ParseID(c.Param("id"))
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file id must be a positive integer")
		return
	}
	f, err := h.fileSvc.Download(c.Request.Context(), id)
	if err != nil {
		failService(c, err)
		return
	}

	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Filename}))
	c.Header("Content-Length", strconv.FormatInt(int64(len(f.Content)), 10))
	c.Data(http.StatusOK, mimetype.Detect(f.Content).String(), f.Content)
}

// DeleteFile godoc
// @ID          deleteFile
// @Summary     Delete an attachment
// @Description Tombstones the file. Messages keep reporting it as gone.
// @Tags        Files
// @Security    BearerAuth
//
// @Param       id  path  int  true  "File ID"
//
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Not the uploader"
// @Failure     404  {object} handlers.ErrorResponse "Never existed"
// @Failure     410  {object} handlers.ErrorResponse "Already deleted"
// @Router      /files/{id} [delete]
func (h *Handlers) DeleteFile(c *gin.Context) {
	id, valid := utils.ParseID(c.Param("id"))
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file id must be a positive integer")
		return
	}
	if err := h.fileSvc.Delete(c.Request.Context(), userID(c), id); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}

// readBody reads the whole request body. A body cut off by the router's
// size limit is answered with 413.
func readBody(c *gin.Context) ([]byte, bool) {
	data, err := io.ReadAll(c.Request.Body)
	if err == nil {
		return data, true
	}
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "body exceeds "+strconv.FormatInt(tooBig.Limit, 10)+" bytes")
		return nil, false
	}
	fail(c, http.StatusBadRequest, ErrCodeBadRequest, "could not read body")
	return nil, false
}
