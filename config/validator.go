package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the global validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ConfigError represents a validation error for a specific field.
type ConfigError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of config errors.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// ValidateWithDetails performs struct validation plus the cross-field checks
// the tags cannot express, and returns detailed errors.
func ValidateWithDetails(cfg *Config) error {
	var details ValidationErrors

	if err := validate.Struct(cfg); err != nil {
		validationErrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		for _, fe := range validationErrors {
			details = append(details, ConfigError{
				Field:   fe.Namespace(),
				Message: formatValidationError(fe),
				Value:   fe.Value(),
			})
		}
	}

	details = append(details, crossFieldErrors(cfg)...)

	if len(details) > 0 {
		return details
	}
	return nil
}

// crossFieldErrors checks constraints that span config sections.
func crossFieldErrors(cfg *Config) ValidationErrors {
	var errs ValidationErrors

	if cfg.Storage.Type == "redis" && cfg.Storage.Redis.Address == "" {
		errs = append(errs, ConfigError{
			Field:   "Config.Storage.Redis.Address",
			Message: "required when storage.type is redis",
			Value:   cfg.Storage.Redis.Address,
		})
	}
	if cfg.Storage.Type == "badger" && cfg.Storage.Badger.Path == "" {
		errs = append(errs, ConfigError{
			Field:   "Config.Storage.Badger.Path",
			Message: "required when storage.type is badger",
			Value:   cfg.Storage.Badger.Path,
		})
	}
	if cfg.Embedding.Provider == "remote" && cfg.Embedding.Endpoint == "" {
		errs = append(errs, ConfigError{
			Field:   "Config.Embedding.Endpoint",
			Message: "required when embedding.provider is remote",
			Value:   cfg.Embedding.Endpoint,
		})
	}

	// Damping that cannot push a perfect score below the floor would let
	// superseded facts resurface.
	if cfg.Memory.CorrectionDamping >= cfg.Memory.RelevanceFloor && cfg.Memory.RelevanceFloor > 0 {
		errs = append(errs, ConfigError{
			Field:   "Config.Memory.CorrectionDamping",
			Message: fmt.Sprintf("must be below the relevance floor (%g)", cfg.Memory.RelevanceFloor),
			Value:   cfg.Memory.CorrectionDamping,
		})
	}

	return errs
}

// formatValidationError converts validator.FieldError to a human-readable message.
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
