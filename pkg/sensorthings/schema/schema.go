// Package schema validates entity payloads before they are written.
//
// The schema of each entity kind is declared with validate struct tags on its
// payload type and evaluated with go-playground/validator. A payload is either
// fully conformant or rejected.
package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	sterrors "github.com/diwise/sensorthings-sync/pkg/sensorthings/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Violation describes a single field that did not satisfy the schema
type Violation struct {
	Field string
	Tag   string
	Param string
}

func (v Violation) String() string {
	if v.Param != "" {
		return fmt.Sprintf("%s: %s=%s", v.Field, v.Tag, v.Param)
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Tag)
}

type ValidationError struct {
	Type       string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return fmt.Sprintf("validation failed for %s", e.Type)
	}

	vs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		vs = append(vs, v.String())
	}

	return fmt.Sprintf("validation failed for %s (%s)", e.Type, strings.Join(vs, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == sterrors.ErrValidation
}

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// report fields by their json names so that violations match the wire format
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
	})

	return validate
}

// Validate reports whether the payload conforms to its schema
func Validate(payload any) bool {
	return Check(payload) == nil
}

// Check validates the payload and returns a *ValidationError describing every
// violated field, or nil if the payload conforms to its schema.
func Check(payload any) error {
	typeName := fmt.Sprintf("%T", payload)

	if payload == nil {
		return &ValidationError{Type: typeName, Violations: []Violation{{Field: "payload", Tag: "required"}}}
	}

	v := reflect.ValueOf(payload)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return &ValidationError{Type: typeName, Violations: []Violation{{Field: "payload", Tag: "required"}}}
		}
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return &ValidationError{Type: typeName, Violations: []Violation{{Field: "payload", Tag: "struct"}}}
	}

	err := getValidator().Struct(payload)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Type: typeName, Violations: []Violation{{Field: "payload", Tag: err.Error()}}}
	}

	result := &ValidationError{Type: typeName}
	for _, fe := range verrs {
		result.Violations = append(result.Violations, Violation{
			Field: trimRoot(fe.Namespace()),
			Tag:   fe.Tag(),
			Param: fe.Param(),
		})
	}

	return result
}

// trimRoot removes the struct type name from a validator namespace
func trimRoot(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}
