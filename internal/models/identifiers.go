package models

import (
	"fmt"
	"strings"
	"unicode"
)

// NormalizeIdentifier upper-cases s and drops spaces and dashes, so that
// "wxy 1234" and "WXY1234" compare equal.
func NormalizeIdentifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) || r == '-' {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// NormalizeIC formats a 12-digit identity card number as NNNNNN-NN-NNNN.
func NormalizeIC(s string) (string, error) {
	digits := make([]rune, 0, 12)
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits = append(digits, r)
		case r == '-' || unicode.IsSpace(r):
		default:
			return "", fmt.Errorf("ic number contains %q", r)
		}
	}
	if len(digits) != 12 {
		return "", fmt.Errorf("ic number must have 12 digits, got %d", len(digits))
	}
	d := string(digits)
	return d[:6] + "-" + d[6:8] + "-" + d[8:], nil
}

// Normalize canonicalizes the identity and guarded fields in place.
func (a *Applicant) Normalize() error {
	ic, err := NormalizeIC(a.ICNumber)
	if err != nil {
		return err
	}
	a.ICNumber = ic
	a.Name = strings.TrimSpace(a.Name)
	a.DisabilityCardNumber = NormalizeIdentifier(a.DisabilityCardNumber)
	a.TaxAccountNumber = NormalizeIdentifier(a.TaxAccountNumber)
	a.VehicleRegistration = NormalizeIdentifier(a.VehicleRegistration)
	a.Phone = strings.TrimSpace(a.Phone)
	a.Email = strings.TrimSpace(a.Email)
	a.Address = strings.TrimSpace(a.Address)
	return nil
}
