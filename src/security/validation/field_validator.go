package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var ErrValidationFailed = fmt.Errorf("validation failed")

const (
	DefaultMaxStringLength = 255
	MaxInstructionsLength  = 1024
	CURPLength             = 18
	CPFLength              = 11
	CLABELength            = 18
)

var (
	datePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	digitPattern = regexp.MustCompile(`[^0-9]`)
	alnumPattern = regexp.MustCompile(`[^A-Z0-9]`)

	// StrictPolicy strips all markup from free-text fields before they travel
	// to the provider or into logs.
	strictPolicy = bluemonday.StrictPolicy()
)

// ValidateStringNotEmpty checks if a string is not empty after trimming.
func ValidateStringNotEmpty(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrValidationFailed, fieldName)
	}
	return nil
}

// ValidateStringMaxLength checks if a string's UTF-8 character count is within max bounds.
func ValidateStringMaxLength(s string, maxLength int, fieldName string) error {
	if utf8.RuneCountInString(s) > maxLength {
		return fmt.Errorf("%w: %s exceeds maximum length of %d characters", ErrValidationFailed, fieldName, maxLength)
	}
	return nil
}

// ValidateEmail checks the basic shape of an email address.
func ValidateEmail(s string) error {
	if !emailPattern.MatchString(strings.TrimSpace(s)) {
		return fmt.Errorf("%w: invalid email address", ErrValidationFailed)
	}
	return nil
}

// ValidateDate checks for the YYYY-MM-DD format used by the provider.
func ValidateDate(s, fieldName string) error {
	if !datePattern.MatchString(s) {
		return fmt.Errorf("%w: %s must be in YYYY-MM-DD format", ErrValidationFailed, fieldName)
	}
	return nil
}

// SanitizePhone strips everything but digits from a phone number.
func SanitizePhone(s string) (string, error) {
	digits := digitPattern.ReplaceAllString(s, "")
	if digits == "" {
		return "", fmt.Errorf("%w: phone number must contain at least one digit", ErrValidationFailed)
	}
	return digits, nil
}

// NormalizeCURP uppercases and strips non-alphanumeric characters from a CURP,
// then enforces the 18-character provider requirement.
func NormalizeCURP(s string) (string, error) {
	cleaned := alnumPattern.ReplaceAllString(strings.ToUpper(s), "")
	if len(cleaned) != CURPLength {
		return "", fmt.Errorf("%w: CURP must have %d characters, got %d", ErrValidationFailed, CURPLength, len(cleaned))
	}
	return cleaned, nil
}

// NormalizeCPF strips non-digits from a Brazilian CPF and enforces 11 digits.
func NormalizeCPF(s string) (string, error) {
	digits := digitPattern.ReplaceAllString(s, "")
	if len(digits) != CPFLength {
		return "", fmt.Errorf("%w: CPF must have %d digits, got %d", ErrValidationFailed, CPFLength, len(digits))
	}
	return digits, nil
}

// ValidateCLABE enforces the 18-digit Mexican CLABE format.
func ValidateCLABE(s string) error {
	digits := digitPattern.ReplaceAllString(s, "")
	if len(digits) != CLABELength {
		return fmt.Errorf("%w: CLABE must have %d digits, got %d", ErrValidationFailed, CLABELength, len(digits))
	}
	return nil
}

// SanitizeFreeText strips any markup from user-entered free text.
func SanitizeFreeText(s string) string {
	return strings.TrimSpace(strictPolicy.Sanitize(s))
}
