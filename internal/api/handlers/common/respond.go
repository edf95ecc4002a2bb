// Package common holds the response and request helpers shared by the
// public and admin handlers.
package common

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// StatusFor maps an error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domainerrors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domainerrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domainerrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domainerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domainerrors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domainerrors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err as an ErrorResponse. Internal errors are logged
// and replaced with a generic message.
func RespondError(c *gin.Context, logger *zap.Logger, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, entities.ErrorResponse{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
			Details: map[string]interface{}{"request_id": c.GetString("request_id")},
		})
		return
	}

	var de *domainerrors.DomainError
	if errors.As(err, &de) {
		c.JSON(status, entities.ErrorResponse{Code: de.Code, Message: de.Error(), Details: de.Details})
		return
	}
	c.JSON(status, entities.ErrorResponse{Code: http.StatusText(status), Message: err.Error()})
}

// BindJSON decodes the body into dst and writes a 400 on failure.
func BindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		details := map[string]interface{}{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details[strings.ToLower(fe.Field())] = fmt.Sprintf("failed on '%s'", fe.Tag())
			}
		} else {
			details["error"] = err.Error()
		}
		c.JSON(http.StatusBadRequest, entities.ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "Invalid request payload",
			Details: details,
		})
		return false
	}
	return true
}

// UUIDParam parses a path parameter and writes a 400 on failure.
func UUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, entities.ErrorResponse{
			Code:    "INVALID_ID",
			Message: fmt.Sprintf("%s must be a UUID", name),
		})
		return uuid.Nil, false
	}
	return id, true
}

// Page reads limit and offset query parameters.
func Page(c *gin.Context) (limit, offset int) {
	limit = intQuery(c, "limit", DefaultPageSize)
	offset = intQuery(c, "offset", 0)
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
