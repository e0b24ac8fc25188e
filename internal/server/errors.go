package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/lists"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/users"
	"github.com/gin-gonic/gin"
)

const messageTryAgain = "Something went wrong. Please try again."

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type errorMapping struct {
	kind   error
	status int
	reason string
}

// Order matters: a lists error wrapping a version conflict is reported as a conflict
// before its generic kind.
var errorMappings = []errorMapping{
	{kind: lists.ErrInvalidInput, status: http.StatusBadRequest, reason: "invalid_input"},
	{kind: lists.ErrGameNotInList, status: http.StatusConflict, reason: "game_not_in_list"},
	{kind: lists.ErrVersionConflict, status: http.StatusConflict, reason: "version_conflict"},
	{kind: lists.ErrLookup, status: http.StatusServiceUnavailable, reason: "lookup_failed"},
	{kind: lists.ErrWrite, status: http.StatusInternalServerError, reason: "write_failed"},
	{kind: lists.ErrDelete, status: http.StatusInternalServerError, reason: "delete_failed"},
	{kind: lists.ErrInitialization, status: http.StatusInternalServerError, reason: "initialization_failed"},

	{kind: users.ErrInvalidInput, status: http.StatusBadRequest, reason: "invalid_input"},
	{kind: users.ErrEmailTaken, status: http.StatusConflict, reason: "email_taken"},
	{kind: users.ErrInvalidCredentials, status: http.StatusUnauthorized, reason: "invalid_credentials"},
	{kind: users.ErrUnauthenticated, status: http.StatusUnauthorized, reason: "unauthorized"},
	{kind: users.ErrNotFound, status: http.StatusNotFound, reason: "not_found"},
	{kind: users.ErrProvisioning, status: http.StatusInternalServerError, reason: "initialization_failed"},
	{kind: users.ErrUnavailable, status: http.StatusServiceUnavailable, reason: "unavailable"},

	{kind: catalog.ErrInvalidID, status: http.StatusBadRequest, reason: "invalid_game_id"},
	{kind: catalog.ErrBadRequest, status: http.StatusBadRequest, reason: "invalid_request"},
	{kind: catalog.ErrNotFound, status: http.StatusNotFound, reason: "not_found"},
	{kind: catalog.ErrRateLimited, status: http.StatusTooManyRequests, reason: "rate_limited"},
	{kind: catalog.ErrServer, status: http.StatusBadGateway, reason: "catalog_unavailable"},
}

type codedError interface {
	Code() string
	Message() string
}

func describeError(err error) (int, errorBody) {
	body := errorBody{Error: "internal_error", Message: messageTryAgain}
	status := http.StatusInternalServerError
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.kind) {
			status = mapping.status
			body.Error = mapping.reason
			break
		}
	}
	var coded codedError
	if errors.As(err, &coded) {
		body.Code = coded.Code()
		if message := coded.Message(); message != "" {
			body.Message = message
		}
	}
	var catalogErr *catalog.Error
	if errors.As(err, &catalogErr) {
		body.Code = "catalog." + catalogErr.Op
	}
	return status, body
}

func (h *httpHandler) respondWithError(c *gin.Context, err error) {
	status, body := describeError(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, body)
}

func (h *httpHandler) abortWithError(c *gin.Context, err error) {
	status, body := describeError(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

func unauthorizedBody(message string) errorBody {
	return errorBody{Error: "unauthorized", Message: message}
}

func invalidRequestBody(message string) errorBody {
	return errorBody{Error: "invalid_request", Message: message}
}
