package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pdu-bridge/internal/bridgeerr"
)

// APIResponse is the standard API response wrapper.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta contains pagination metadata.
type Meta struct {
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// RespondOK sends a successful response with data.
func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

// RespondCreated sends a 201 response with data.
func RespondCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: data})
}

// RespondWithMeta sends a successful response with pagination metadata.
func RespondWithMeta(c *gin.Context, data interface{}, total int64, limit, offset int) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Meta:    &Meta{Total: total, Limit: limit, Offset: offset},
	})
}

// RespondError sends an error response.
func RespondError(c *gin.Context, status int, message string) {
	c.JSON(status, APIResponse{Success: false, Error: message})
}

func RespondBadRequest(c *gin.Context, message string) {
	RespondError(c, http.StatusBadRequest, message)
}

func RespondNotFound(c *gin.Context, message string) {
	RespondError(c, http.StatusNotFound, message)
}

func RespondInternalError(c *gin.Context, message string) {
	RespondError(c, http.StatusInternalServerError, message)
}

// RespondErr translates err's bridgeerr.ErrorKind (if any) into the
// status code and writes an error envelope.
// Errors with no recognized kind fall back to 500.
func RespondErr(c *gin.Context, err error) {
	kind, ok := bridgeerr.KindOf(err)
	if !ok {
		RespondInternalError(c, err.Error())
		return
	}
	RespondError(c, statusForKind(kind), err.Error())
}

func statusForKind(kind bridgeerr.ErrorKind) int {
	switch kind {
	case bridgeerr.KindConfigInvalid, bridgeerr.KindRuleInvalid:
		return http.StatusBadRequest
	case bridgeerr.KindForbidden:
		return http.StatusForbidden
	case bridgeerr.KindNotFound:
		return http.StatusNotFound
	case bridgeerr.KindConflict:
		return http.StatusConflict
	case bridgeerr.KindRequiresSerial:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
