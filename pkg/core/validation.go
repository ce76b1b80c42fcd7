package core

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/mark3labs/mcp-go/mcp"
)

// MaxRetries bounds the number of retries a caller may request.
const MaxRetries = 5

// ValidationError represents a validation error for a request value
type ValidationError struct {
	Code     string
	Message  string
	Guidance string
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	if e.Guidance != "" {
		return fmt.Sprintf("%s: %s. %s", e.Code, e.Message, e.Guidance)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidateRetries checks that a retry count is within range
func ValidateRetries(retries int) error {
	if retries < 0 || retries > MaxRetries {
		return ValidationError{
			Code:     string(ErrInvalidParameter),
			Message:  fmt.Sprintf("retries must be between 0 and %d, got %d", MaxRetries, retries),
			Guidance: "Use a small non-negative retry count",
		}
	}
	return nil
}

// ParseRetries extracts and validates a retry count from a CallToolRequest
func ParseRetries(req mcp.CallToolRequest, key string, defaultRetries int) (int, error) {
	if key == "" {
		key = "retries"
	}

	retries := mcp.ParseInt(req, key, defaultRetries)
	if err := ValidateRetries(retries); err != nil {
		return 0, err
	}
	return retries, nil
}

// ParseRetriesWithLog parses a retry count and logs any errors
func ParseRetriesWithLog(req mcp.CallToolRequest, logger *slog.Logger, key string, defaultRetries int) (int, error) {
	retries, err := ParseRetries(req, key, defaultRetries)
	if err != nil {
		logger.Error("invalid retries", "error", err)
	}
	return retries, err
}

var (
	structValidator *validator.Validate
	translator      ut.Translator
	validatorOnce   sync.Once
)

func initValidator() {
	structValidator = validator.New(validator.WithRequiredStructEnabled())
	english := en.New()
	uni := ut.New(english, english)
	translator, _ = uni.GetTranslator("en")
	_ = enTranslations.RegisterDefaultTranslations(structValidator, translator)
}

// ValidateStruct checks v against its `validate` tags. Failures are joined
// into a single ValidationError with English messages.
func ValidateStruct(v any) error {
	validatorOnce.Do(initValidator)

	err := structValidator.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationError{Code: string(ErrInvalidInput), Message: err.Error()}
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fe.Translate(translator))
	}
	return ValidationError{
		Code:    string(ErrInvalidParameter),
		Message: strings.Join(msgs, "; "),
	}
}
