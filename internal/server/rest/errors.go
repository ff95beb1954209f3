package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/tokenkeeper/internal/common"
	"github.com/dmitrijs2005/tokenkeeper/internal/logging"
	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Timestamp  string `json:"timestamp"`
	Path       string `json:"path"`
	Method     string `json:"method"`
	Message    string `json:"message"`
	Error      string `json:"error"`
	Details    any    `json:"details,omitempty"`
}

type apiError struct {
	status  int
	code    string
	message string
}

var errorTable = []struct {
	target error
	apiError
}{
	{common.ErrUserAlreadyExists, apiError{http.StatusConflict, "DUPLICATE_USER", "User with this email already exists"}},
	{common.ErrUsernameConflict, apiError{http.StatusConflict, "USERNAME_CONFLICT", "Username is already taken"}},
	{common.ErrStorageConflict, apiError{http.StatusConflict, "DUPLICATE_RESOURCE", "Resource already exists"}},
	{common.ErrInvalidCredentials, apiError{http.StatusUnauthorized, "AUTHENTICATION_FAILED", "Invalid credentials"}},
	{common.ErrTokenExpired, apiError{http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired"}},
	{common.ErrInvalidToken, apiError{http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token"}},
	{common.ErrorUnauthorized, apiError{http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized"}},
}

var internalError = apiError{http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"}

func toAPIError(err error) apiError {
	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			return e.apiError
		}
	}
	return internalError
}

func writeAPIError(c *gin.Context, e apiError, details any) {
	c.AbortWithStatusJSON(e.status, ErrorResponse{
		StatusCode: e.status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Path:       c.Request.URL.Path,
		Method:     c.Request.Method,
		Message:    e.message,
		Error:      e.code,
		Details:    details,
	})
}

// writeError maps a service error to its response. 5xx are logged with the
// underlying error, which never reaches the client.
func writeError(c *gin.Context, log logging.Logger, err error) {
	e := toAPIError(err)
	ctx := c.Request.Context()
	if e.status >= http.StatusInternalServerError {
		log.Error(ctx, "request failed", "path", c.Request.URL.Path, "method", c.Request.Method, "error", err)
	} else {
		log.Warn(ctx, "request rejected", "path", c.Request.URL.Path, "method", c.Request.Method, "code", e.code)
	}
	writeAPIError(c, e, nil)
}

func writeValidationError(c *gin.Context, err error) {
	writeAPIError(c, apiError{http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed"}, err.Error())
}

func writeUnauthorized(c *gin.Context) {
	writeAPIError(c, apiError{http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized"}, nil)
}
