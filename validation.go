package apikit

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DataValidator checks incoming DTOs.
type DataValidator[D any] interface {
	Validate(ctx context.Context, items []D) error
}

// DataValidatorFunc adapts a function to DataValidator.
type DataValidatorFunc[D any] func(ctx context.Context, items []D) error

// Validate calls f.
func (f DataValidatorFunc[D]) Validate(ctx context.Context, items []D) error {
	return f(ctx, items)
}

// StructValidator validates DTOs with `validate` struct tags.
type StructValidator[D any] struct {
	validate *validator.Validate
}

// NewStructValidator creates a StructValidator. Field names in messages use JSON names.
func NewStructValidator[D any]() *StructValidator[D] {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(sf reflect.StructField) string {
		name := jsonName(sf)
		if name == "-" {
			return ""
		}
		if name == "" {
			return sf.Name
		}
		return name
	})
	return &StructValidator[D]{validate: v}
}

// Validate implements DataValidator. Every failing field becomes one message.
func (s *StructValidator[D]) Validate(ctx context.Context, items []D) error {
	var messages []Message
	for i, item := range items {
		if isNil(item) || !isStruct(item) {
			continue
		}
		err := s.validate.StructCtx(ctx, item)
		if err == nil {
			continue
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("failed to validate item %d: %w", i, err)
		}
		for _, fe := range verrs {
			messages = append(messages, validationMessage(i, len(items), fe))
		}
	}
	if len(messages) == 0 {
		return nil
	}
	return NewError(ErrValidation, messages[0].Message).WithMessages(messages...)
}

func validationMessage(index, total int, fe validator.FieldError) Message {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	text := fmt.Sprintf("%s failed on the '%s' rule", field, fe.Tag())
	if fe.Param() != "" {
		text = fmt.Sprintf("%s failed on the '%s=%s' rule", field, fe.Tag(), fe.Param())
	}
	if total > 1 {
		text = fmt.Sprintf("item %d: %s", index, text)
	}
	return Message{
		Message: text,
		Code:    "validation." + fe.Tag(),
		Type:    MessageError,
	}
}

func isStruct(v any) bool {
	t := reflect.TypeOf(v)
	if t == nil {
		return false
	}
	return indirectType(t).Kind() == reflect.Struct
}
