package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

const (
	MaxPromptLength = 1000
	MaxScriptLength = 20000
)

// CreateVisualizationRequest is the body of POST /visualizations.
type CreateVisualizationRequest struct {
	ConversationID string `json:"conversationId" validate:"required,max=255"`
	MessageID      string `json:"messageId" validate:"required,max=255"`
	Prompt         string `json:"prompt" validate:"required,max=1000"`
	Voice          string `json:"voice" validate:"omitempty,max=100,voice"`
}

// StageRequest is the optional body of a stage trigger. Every field is an
// override used only when the record lacks the value.
type StageRequest struct {
	Prompt        string  `json:"prompt" validate:"omitempty,max=1000"`
	Script        string  `json:"script" validate:"omitempty,max=20000"`
	Voice         string  `json:"voice" validate:"omitempty,max=100,voice"`
	AudioDuration float64 `json:"audioDuration" validate:"gte=0,lte=3600"`
}

// ValidationError lists the offending fields by their JSON name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Invalid builds a single-field ValidationError.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("voice", validateVoice)
	})
	return validate
}

// voice ids are provider identifiers, never free text.
func validateVoice(fl validator.FieldLevel) bool {
	for _, r := range fl.Field().String() {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// Normalize trims surrounding whitespace so blank values fail "required".
func (r *CreateVisualizationRequest) Normalize() {
	r.ConversationID = strings.TrimSpace(r.ConversationID)
	r.MessageID = strings.TrimSpace(r.MessageID)
	r.Prompt = strings.TrimSpace(r.Prompt)
	r.Voice = strings.TrimSpace(r.Voice)
}

func (r *StageRequest) Normalize() {
	r.Prompt = strings.TrimSpace(r.Prompt)
	r.Script = strings.TrimSpace(r.Script)
	r.Voice = strings.TrimSpace(r.Voice)
}

// Struct validates v and converts validator failures into a ValidationError.
func Struct(v interface{}) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = message(fe)
	}
	return &ValidationError{Fields: fields}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return "must be at most " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "voice":
		return "must contain only letters, digits, '-' and '_'"
	}
	return "is invalid"
}
