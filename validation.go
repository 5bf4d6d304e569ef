package authflow

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	phonePattern  = regexp.MustCompile(`^\+?[1-9]\d{9,14}$`)
	digitsPattern = regexp.MustCompile(`^\d+$`)
)

// inputValidator wraps a validator.Validate configured with the flow's
// custom tags. validator.Validate caches struct metadata and is safe for
// concurrent use, so one instance is shared by every controller of an engine.
type inputValidator struct {
	validate *validator.Validate
	codeRule string
	codeLen  int
}

func newInputValidator(codeDigits int) *inputValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("intlphone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("digits", func(fl validator.FieldLevel) bool {
		return digitsPattern.MatchString(fl.Field().String())
	})

	return &inputValidator{
		validate: v,
		codeRule: fmt.Sprintf("len=%d,digits", codeDigits),
		codeLen:  codeDigits,
	}
}

// Credentials validates the credential set exactly as entered and returns a
// *ValidationError keyed by JSON field name, or nil.
func (iv *inputValidator) Credentials(c Credentials) error {
	err := iv.validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Fields: map[string]string{"": err.Error()}}
	}

	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		if _, seen := out.Fields[fe.Field()]; seen {
			continue
		}
		out.Fields[fe.Field()] = credentialMessage(fe.Field(), fe.Tag())
	}
	return out
}

// Code validates a one-time code: exact length first, then digits only.
func (iv *inputValidator) Code(code string) error {
	err := iv.validate.Var(code, iv.codeRule)
	if err == nil {
		return nil
	}

	msg := "OTP must contain only digits"
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 && fieldErrs[0].Tag() == "len" {
		msg = fmt.Sprintf("OTP must be %d digits", iv.codeLen)
	}
	return &ValidationError{Fields: map[string]string{FieldCode: msg}}
}

func credentialMessage(field, tag string) string {
	switch field {
	case FieldName:
		return "Name must be at least 2 characters"
	case FieldPhone:
		return "Please enter a valid phone number"
	case FieldEmail:
		return "Please enter a valid email address"
	default:
		return "invalid value (" + tag + ")"
	}
}
