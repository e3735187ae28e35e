package validation

import (
	"fmt"
	"unicode"

	"livechat/internal/constants"
	"livechat/internal/errors"

	"github.com/google/uuid"
)

// ValidateConversationID checks that an externally supplied conversation
// identifier parses as a UUID before it reaches storage.
func ValidateConversationID(id string) error {
	if id == "" {
		return errors.New(errors.ErrCodeInvalidInput, "conversation ID cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return errors.New(errors.ErrCodeInvalidInput, "conversation ID is not a valid UUID")
	}
	return nil
}

// ValidateDisplayName bounds visitor display names and rejects control
// characters. Emptiness is allowed; callers substitute a default name.
func ValidateDisplayName(name string) error {
	if len(name) > constants.MaxDisplayNameLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("display name too long (max %d characters)", constants.MaxDisplayNameLength))
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return errors.New(errors.ErrCodeInvalidInput, "display name contains control characters")
		}
	}
	return nil
}

// ValidateCode checks the shape of a one-time login code: fixed width,
// digits only. Anything else is rejected before a hash lookup is made.
func ValidateCode(code string) error {
	if len(code) != constants.CodeDigits {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("code must be exactly %d digits", constants.CodeDigits))
	}
	for _, r := range code {
		if !unicode.IsDigit(r) {
			return errors.New(errors.ErrCodeInvalidInput, "code must contain only digits")
		}
	}
	return nil
}
