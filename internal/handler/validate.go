package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/relaydesk/channel-server/internal/errors"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest checks the shape of a decoded body. Semantic rules that
// depend on the message type are left to the service.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.ValidationError("Invalid request body")
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return apperrors.MissingRequired(fe.Field())
	case "oneof":
		return apperrors.InvalidInput(fe.Field(), fmt.Sprintf("must be one of %s", fe.Param()))
	case "uuid":
		return apperrors.InvalidInput(fe.Field(), "must be a UUID")
	case "max":
		return apperrors.InvalidInput(fe.Field(), fmt.Sprintf("must be at most %s characters", fe.Param()))
	default:
		return apperrors.InvalidInput(fe.Field(), fe.Tag())
	}
}
