package handlers

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/ai-chatdoc/internal/apperr"
	"github.com/suPer8Hu/ai-chatdoc/internal/common"
)

// writeError renders err in the response envelope. Internal causes are
// logged and never sent to the client.
func writeError(c *gin.Context, err error) {
	ae := apperr.As(err)

	logger := log.Ctx(c.Request.Context())
	switch ae.Kind {
	case apperr.KindInternal:
		logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	case apperr.KindProviderUnavailable, apperr.KindEmptyResponse:
		logger.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("provider failure")
	}

	if ae.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(ae.RetryAfter.Seconds()))))
	}
	if len(ae.Fields) > 0 {
		common.FailWithDetails(c, ae.HTTPStatus(), ae.Code(), ae.PublicMessage(), toDetails(ae.Fields))
		return
	}
	common.Fail(c, ae.HTTPStatus(), ae.Code(), ae.PublicMessage())
}

func toDetails(fields []apperr.FieldError) []common.FieldError {
	out := make([]common.FieldError, len(fields))
	for i, f := range fields {
		out[i] = common.FieldError{Field: f.Field, Message: f.Message}
	}
	return out
}

// bindError turns a gin binding failure into a validation error with one
// entry per rejected field.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Field("body", "invalid json")
	}
	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperr.FieldError{Field: fe.Field(), Message: ruleMessage(fe)})
	}
	return apperr.Validation(fields...)
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "notblank":
		return "must not be blank"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
