package dto

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Discord snowflakes are 64-bit IDs rendered as 17-20 decimal digits
var snowflakePattern = regexp.MustCompile(`^[0-9]{17,20}$`)

// NewValidator creates a validator with the watch module's custom rules registered
func NewValidator() *validator.Validate {
	validate := validator.New()
	// RegisterValidation only fails on an empty tag name
	_ = validate.RegisterValidation("discord_snowflake", validateDiscordSnowflake)
	return validate
}

// validateDiscordSnowflake validates Discord server, channel, user and role IDs
func validateDiscordSnowflake(fl validator.FieldLevel) bool {
	return snowflakePattern.MatchString(fl.Field().String())
}

// ValidateStruct validates a struct using the validator instance
func ValidateStruct(validate *validator.Validate, s interface{}) []string {
	var errors []string

	if err := validate.Struct(s); err != nil {
		for _, err := range err.(validator.ValidationErrors) {
			errors = append(errors, formatValidationError(err))
		}
	}

	return errors
}

// formatValidationError formats validation errors for user-friendly messages
func formatValidationError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", err.Field())
	case "discord_snowflake":
		return fmt.Sprintf("%s must be a valid Discord ID", err.Field())
	default:
		return fmt.Sprintf("%s is invalid", err.Field())
	}
}
