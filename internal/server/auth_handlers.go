package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/users"
	"github.com/gin-gonic/gin"
)

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type firebaseSignInRequest struct {
	IDToken string `json:"id_token"`
}

type sessionResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresAt   int64         `json:"expires_at"`
	User        users.Profile `json:"user"`
	Created     bool          `json:"created"`
}

func newSessionResponse(session users.SignedInSession) sessionResponse {
	return sessionResponse{
		AccessToken: session.Token,
		TokenType:   "Bearer",
		ExpiresAt:   session.ExpiresAt.Unix(),
		User:        session.User,
		Created:     session.Created,
	}
}

func (h *httpHandler) handleSignUp(c *gin.Context) {
	var request signUpRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, invalidRequestBody("request body must be JSON"))
		return
	}
	session, err := h.accounts.SignUp(c.Request.Context(), request.Email, request.Password, request.DisplayName)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newSessionResponse(session))
}

func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request signInRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, invalidRequestBody("request body must be JSON"))
		return
	}
	session, err := h.accounts.SignIn(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(session))
}

func (h *httpHandler) handleFirebaseSignIn(c *gin.Context) {
	var request firebaseSignInRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, invalidRequestBody("id_token is required"))
		return
	}
	session, err := h.accounts.SignInWithFirebase(c.Request.Context(), request.IDToken)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	status := http.StatusOK
	if session.Created {
		status = http.StatusCreated
	}
	c.JSON(status, newSessionResponse(session))
}

func (h *httpHandler) handleSignOut(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, unauthorizedBody("unauthorized"))
		return
	}
	if err := h.accounts.SignOut(c.Request.Context(), principal); err != nil {
		h.respondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, unauthorizedBody("unauthorized"))
		return
	}
	profile, err := h.accounts.CurrentUser(c.Request.Context(), principal.UserID)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}
