package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
	"github.com/go-playground/validator/v10"
	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/types"
)

type ApiError struct {
	// Code is the HTTP status code
	Code int `json:"code"`
	// Message is the error message
	Message string `json:"message"`
}

func ApiErrorf(c *gin.Context, code int, format string, args ...interface{}) ApiError {
	ar := ApiError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
	c.AbortWithStatusJSON(code, ar)
	return ar
}

// ApiServiceError maps a service error to a status and a generic message.
// The cause is logged, never returned to the client.
func ApiServiceError(c *gin.Context, err error) ApiError {
	switch {
	case errors.Is(err, types.ErrInvalidParameter), errors.Is(err, types.ErrBadRequest):
		return ApiErrorf(c, http.StatusBadRequest, "invalid request")
	case errors.Is(err, types.ErrInvalidReference):
		return ApiErrorf(c, http.StatusBadRequest, "invalid reference")
	case errors.Is(err, types.ErrUnknownIdentity):
		return ApiErrorf(c, http.StatusUnauthorized, "not logged in")
	case errors.Is(err, types.ErrNotFound):
		return ApiErrorf(c, http.StatusNotFound, "not found")
	case errors.Is(err, types.ErrConflict):
		return ApiErrorf(c, http.StatusConflict, "please try again")
	case errors.Is(err, types.ErrStorageUnavailable):
		level.Error(global.Logger).Log("msg", "storage unavailable", "path", c.FullPath(), "err", err)
		return ApiErrorf(c, http.StatusServiceUnavailable, "service unavailable")
	default:
		level.Error(global.Logger).Log("msg", "request failed", "path", c.FullPath(), "err", err)
		return ApiErrorf(c, http.StatusInternalServerError, "internal error")
	}
}

func ValidatorErrorToUser(err validator.ValidationErrors) string {
	var errorMessages []string
	for _, err := range err {
		switch err.Tag() {
		case "required":
			errorMessages = append(errorMessages, fmt.Sprintf("%s is required", err.Field()))
		default:
			errorMessages = append(errorMessages, fmt.Sprintf("validation failed on field %s", err.Field()))
		}
	}
	return strings.Join(errorMessages, ". ")
}
