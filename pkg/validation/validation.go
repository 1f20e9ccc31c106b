package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ha1tch/friendgraph/pkg/models"
)

// Validator interface defines record validation
type Validator interface {
	Validate(p *models.Person) (bool, []string)
}

// StructValidator validates records against their struct tags
type StructValidator struct {
	validate *validator.Validate
}

// NewStructValidator creates a validator with the directory's custom tags registered
func NewStructValidator() *StructValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields under their wire names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Registration only fails for an empty tag or a nil func
	_ = v.RegisterValidation("schooltype", func(fl validator.FieldLevel) bool {
		return models.SchoolType(fl.Field().String()).Valid()
	})

	return &StructValidator{validate: v}
}

// Validate validates a person, returning one message per failed rule
func (s *StructValidator) Validate(p *models.Person) (bool, []string) {
	if p == nil {
		return false, []string{"record is empty"}
	}

	err := s.validate.Struct(p)
	if err == nil {
		return true, nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return false, []string{err.Error()}
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return false, msgs
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("field %s: is required", field)
	case "email":
		return fmt.Sprintf("field %s: %q is not a valid email address", field, fe.Value())
	case "min":
		return fmt.Sprintf("field %s: must not be empty", field)
	case "schooltype":
		return fmt.Sprintf("field %s: %q is not a school type", field, fe.Value())
	default:
		return fmt.Sprintf("field %s: failed %s", field, fe.Tag())
	}
}

// NoOpValidator is a validator that always passes
type NoOpValidator struct{}

// NewNoOpValidator creates a no-op validator
func NewNoOpValidator() *NoOpValidator {
	return &NoOpValidator{}
}

// Validate always returns true
func (n *NoOpValidator) Validate(p *models.Person) (bool, []string) {
	return true, nil
}
