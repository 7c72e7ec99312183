package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/parlorhq/parlor/internal/service"
	"github.com/parlorhq/parlor/pkg/log"
	"github.com/parlorhq/parlor/pkg/response"
)

// respondServiceError maps a service error onto the HTTP response. The
// typed errors carry their caller-facing text; anything else is an
// internal failure and is logged rather than leaked.
func respondServiceError(c *gin.Context, err error) {
	var (
		permission    *service.PermissionError
		validation    *service.ValidationError
		unprocessable *service.UnprocessableError
		notFound      *service.NotFoundError
		conflict      *service.ConflictError
	)
	switch {
	case errors.Is(err, service.ErrContentRequired):
		response.BadRequest(c, err.Error())
	case errors.As(err, &permission):
		response.Forbidden(c, permission.Error())
	case errors.As(err, &validation):
		response.BadRequest(c, validation.Error())
	case errors.As(err, &unprocessable):
		response.UnprocessableEntity(c, unprocessable.Error())
	case errors.As(err, &notFound):
		response.NotFound(c, notFound.Error())
	case errors.As(err, &conflict):
		response.Conflict(c, conflict.Error())
	default:
		log.Ctx(c.Request.Context()).Error().Err(err).
			Str(log.FieldPath, c.FullPath()).
			Msg("request failed")
		response.InternalError(c, "Internal server error")
	}
}

// frameErrorText is the error-frame text for a service error. Typed
// errors surface their own text; internal failures surface a generic
// message so storage details never reach the socket.
func frameErrorText(err error) string {
	var (
		permission    *service.PermissionError
		validation    *service.ValidationError
		unprocessable *service.UnprocessableError
		notFound      *service.NotFoundError
		conflict      *service.ConflictError
	)
	switch {
	case errors.Is(err, service.ErrContentRequired),
		errors.As(err, &permission),
		errors.As(err, &validation),
		errors.As(err, &unprocessable),
		errors.As(err, &notFound),
		errors.As(err, &conflict):
		return err.Error()
	default:
		return "Internal server error"
	}
}
