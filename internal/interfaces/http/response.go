package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/equiprent/rental-workflow/internal/domain/errs"
)

// Response represents a standard JSON response
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorKind errs.Kind   `json:"error_kind,omitempty"`
}

// statusByKind maps error kinds to HTTP status codes
var statusByKind = map[errs.Kind]int{
	errs.KindValidation:              http.StatusBadRequest,
	errs.KindNotFound:                http.StatusNotFound,
	errs.KindInvalidTransition:       http.StatusConflict,
	errs.KindConflict:                http.StatusConflict,
	errs.KindAlreadyBilled:           http.StatusConflict,
	errs.KindIncompleteReport:        http.StatusUnprocessableEntity,
	errs.KindInvalidAmount:           http.StatusUnprocessableEntity,
	errs.KindCollaboratorRejected:    http.StatusUnprocessableEntity,
	errs.KindCollaboratorUnavailable: http.StatusBadGateway,
}

// StatusForError returns the HTTP status for an application error
func StatusForError(err error) int {
	if status, ok := statusByKind[errs.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

// respondError writes the envelope for err. Internal errors hide their detail.
func respondError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status := StatusForError(err)

	message := errs.MessageOf(err)
	if status == http.StatusInternalServerError {
		message = "internal error"
	}

	c.JSON(status, Response{
		Success:   false,
		Error:     message,
		ErrorKind: kind,
	})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success:   false,
		Error:     message,
		ErrorKind: errs.KindValidation,
	})
}

// parseID reads a positive int64 path parameter
func parseID(c *gin.Context, name string) (int64, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondBadRequest(c, "invalid "+name+": "+raw)
		return 0, false
	}
	return id, true
}

// bindJSON binds the body into req; an empty body leaves req at its zero value
func bindJSON(c *gin.Context, req interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}
