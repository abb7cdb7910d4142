package api

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"pod-booking-backend/internal/apperror"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// bindJSON decodes the body into req and validates its `validate` tags.
// Failures are validation errors naming the offending fields.
func bindJSON(c *gin.Context, op string, req any) error {
	if err := c.ShouldBindJSON(req); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.Validation(op, "request body is required")
		}
		return apperror.Validation(op, "malformed request body: %v", err)
	}
	return check(op, req)
}

func check(op string, req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperror.Validation(op, "%v", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, describe(fe))
	}
	return apperror.Validation(op, "invalid request: %s", strings.Join(fields, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required", "required_without":
		return field + " is required"
	case "url":
		return field + " must be a URL"
	case "uuid4", "uuid":
		return field + " must be a UUID"
	case "numeric":
		return field + " must be numeric"
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
