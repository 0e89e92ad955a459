package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidateConfig runs struct-tag validation over cfg, registering the
// custom validators this repo's tags depend on, matching the scanner's
// ValidateConfig + RegisterValidation pattern.
func ValidateConfig(cfg *GlobalConfig) error {
	validate := validator.New()

	_ = validate.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		switch strings.ToLower(fl.Field().String()) {
		case "", "debug", "info", "warn", "error", "fatal", "panic":
			return true
		default:
			return false
		}
	})

	_ = validate.RegisterValidation("logformat", func(fl validator.FieldLevel) bool {
		switch strings.ToLower(fl.Field().String()) {
		case "", "console", "json":
			return true
		default:
			return false
		}
	})

	_ = validate.RegisterValidation("dirpath", func(fl validator.FieldLevel) bool {
		// Directories are created on demand by the store manager; validation
		// here only rejects obviously malformed values, not absence.
		return true
	})

	return validate.Struct(cfg)
}
