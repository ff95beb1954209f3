package rest

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/tokenkeeper/internal/common"
	"github.com/dmitrijs2005/tokenkeeper/internal/logging"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/services"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	auth   *services.AuthService
	tokens *services.TokenService
	log    logging.Logger
}

func NewHandler(a *services.AuthService, t *services.TokenService, log logging.Logger) *Handler {
	return &Handler{auth: a, tokens: t, log: log}
}

func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidationError(c, err)
		return
	}

	in := services.RegisterInput{
		Email:      req.Email,
		UserName:   req.UserName,
		Password:   req.Password,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Phone:      req.Phone,
		Street:     req.Street,
		Number:     req.Number,
		UnitNumber: req.UnitNumber,
		PostalCode: req.PostalCode,
		City:       req.City,
		Newsletter: req.Newsletter,
	}
	if req.DateOfBirth != "" {
		dob, err := time.Parse(time.DateOnly, req.DateOfBirth)
		if err != nil {
			writeValidationError(c, errors.New("dateOfBirth must be YYYY-MM-DD"))
			return
		}
		in.DateOfBirth = &dob
	}

	pair, err := h.auth.Register(c.Request.Context(), in)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, pair)
}

func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidationError(c, err)
		return
	}

	pair, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidationError(c, err)
		return
	}

	pair, err := h.tokens.Rotate(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Logout ends the session named by the optional refresh token in the body,
// or every session of the caller when the body is empty.
func (h *Handler) Logout(c *gin.Context) {
	id, ok := identityFrom(c)
	if !ok {
		writeUnauthorized(c)
		return
	}

	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeValidationError(c, err)
		return
	}

	var tokenID string
	if req.RefreshToken != "" {
		claims, err := h.tokens.ParseRefresh(req.RefreshToken)
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		if claims.Subject != id.UserID {
			writeError(c, h.log, common.ErrInvalidToken)
			return
		}
		tokenID = claims.TokenID
	}

	if err := h.auth.Logout(c.Request.Context(), id.UserID, tokenID); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Me(c *gin.Context) {
	id, ok := identityFrom(c)
	if !ok {
		writeUnauthorized(c)
		return
	}
	c.JSON(http.StatusOK, MeResponse{
		UserID:    id.UserID,
		UserName:  id.UserName,
		IssuedAt:  id.IssuedAt.Unix(),
		ExpiresAt: id.ExpiresAt.Unix(),
	})
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
