package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxSupplierNameLength   = 200
	MaxDocumentNumberLength = 64
)

var controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)

// SanitizeString removes control characters and surrounding whitespace
func SanitizeString(s string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(s, ""))
}

// ValidateSupplierName checks a supplier name after sanitizing
func ValidateSupplierName(name string) error {
	name = SanitizeString(name)
	if name == "" {
		return fmt.Errorf("supplier name is required")
	}
	if utf8.RuneCountInString(name) > MaxSupplierNameLength {
		return fmt.Errorf("supplier name exceeds %d characters", MaxSupplierNameLength)
	}
	return nil
}

// ValidateDocumentNumber checks a supplier document number. Empty is allowed:
// some delivery notes carry none.
func ValidateDocumentNumber(number string) error {
	if utf8.RuneCountInString(SanitizeString(number)) > MaxDocumentNumberLength {
		return fmt.Errorf("document number exceeds %d characters", MaxDocumentNumberLength)
	}
	return nil
}
