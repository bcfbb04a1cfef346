package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"token-collector/internal/collector"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// respondCollectorError maps collector failures onto HTTP statuses and codes
func respondCollectorError(c *gin.Context, err error) {
	var access *collector.AccessError
	var partial *collector.PartialWithdrawalError

	switch {
	case errors.As(err, &access):
		code := "not_master"
		if errors.Is(err, collector.ErrNotOwner) {
			code = "not_owner"
		}
		RespondError(c, http.StatusForbidden, code, err)
	case errors.Is(err, collector.ErrInvalidOwner):
		RespondError(c, http.StatusBadRequest, "invalid_owner", err)
	case errors.Is(err, collector.ErrInvalidAddress):
		RespondError(c, http.StatusBadRequest, "invalid_address", err)
	case errors.Is(err, collector.ErrAlreadyMaster):
		RespondError(c, http.StatusConflict, "already_master", err)
	case errors.Is(err, collector.ErrNotMaster):
		RespondError(c, http.StatusConflict, "not_master", err)
	case errors.Is(err, collector.ErrAlreadyRegistered):
		RespondError(c, http.StatusConflict, "already_registered", err)
	case errors.Is(err, collector.ErrNoAuthorizationGranted):
		RespondError(c, http.StatusUnprocessableEntity, "no_authorization_granted", err)
	case errors.Is(err, collector.ErrInsufficientAuthorization):
		RespondError(c, http.StatusUnprocessableEntity, "insufficient_authorization", err)
	case errors.As(err, &partial):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"error":  APIError{Message: err.Error(), Code: "partial_withdrawal"},
			"pulled": pullsView(partial.Pulled),
			"failed": partial.Failed.Hex(),
		})
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
