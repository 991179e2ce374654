package model

import "regexp"

var (
	phoneRe = regexp.MustCompile(`^[0-9]{10}$`)
	pinRe   = regexp.MustCompile(`^[0-9]{6}$`)
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// ValidPhone reports whether s is a 10 digit phone number.
func ValidPhone(s string) bool { return phoneRe.MatchString(s) }

// ValidPinCode reports whether s is a 6 digit postal code.
func ValidPinCode(s string) bool { return pinRe.MatchString(s) }

// ValidEmail performs the same shallow check as the registration forms.
func ValidEmail(s string) bool { return emailRe.MatchString(s) }
