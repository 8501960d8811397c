package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// EmailRegex validates email format
	EmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// MachineIDRegex allows plant identifiers like "M-12", "press_3" or "CNC.04"
	MachineIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.\-]*$`)
)

const (
	MaxMachineIDLength   = 64
	MaxReasonLength      = 200
	MaxCategoryLength    = 100
	MaxDescriptionLength = 4000
	MaxNotesLength       = 2000
)

// ValidateEmail validates email address
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > 254 {
		return fmt.Errorf("email is too long (max 254 characters)")
	}
	if !EmailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidateMachineID validates a machine identifier
func ValidateMachineID(machineID string) error {
	machineID = strings.TrimSpace(machineID)
	if machineID == "" {
		return fmt.Errorf("machine_id is required")
	}
	if len(machineID) > MaxMachineIDLength {
		return fmt.Errorf("machine_id is too long (max %d characters)", MaxMachineIDLength)
	}
	if !MachineIDRegex.MatchString(machineID) {
		return fmt.Errorf("invalid machine_id format")
	}
	return nil
}

// ValidateStringLength validates string length in runes
func ValidateStringLength(s string, min, max int, fieldName string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}

// ValidatePage checks pagination parameters against maxPerPage
func ValidatePage(page, perPage, maxPerPage int) error {
	if page < 1 {
		return fmt.Errorf("page must be >= 1")
	}
	if perPage < 1 {
		return fmt.Errorf("per_page must be >= 1")
	}
	if perPage > maxPerPage {
		return fmt.Errorf("per_page must be <= %d", maxPerPage)
	}
	return nil
}

// ValidateOneOf checks value against a closed set. Empty values pass.
func ValidateOneOf(value, fieldName string, allowed ...string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s (must be one of %s)", fieldName, strings.Join(allowed, ", "))
}
