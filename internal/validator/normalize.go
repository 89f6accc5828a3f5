package validator

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/wasilibs/go-re2"
	"golang.org/x/text/unicode/norm"
)

// Normalizer canonicalizes a resource identifier so that different spellings
// of the same resource compare equal.
type Normalizer interface {
	Normalize(resource string) (string, error)
}

// NormalizerFunc adapts a function to Normalizer.
type NormalizerFunc func(string) (string, error)

// Normalize implements Normalizer.
func (f NormalizerFunc) Normalize(s string) (string, error) { return f(s) }

// IdentityNormalizer trims surrounding space and applies NFKC.
var IdentityNormalizer = NormalizerFunc(func(raw string) (string, error) {
	s := strings.TrimSpace(norm.NFKC.String(raw))
	if s == "" {
		return "", &InvalidResourceError{Resource: raw, Reason: "empty"}
	}
	return s, nil
})

var (
	phoneFormatting = re2.MustCompile(`[\s\-./()]`)
	phoneDigits     = re2.MustCompile(`^\+?[0-9]+$`)
)

// E.164 bounds on the digit count, country code included.
const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// PhoneNormalizer canonicalizes phone numbers to +<country><number>.
//
// "+" and "00" introduce an international number. A single leading "0" is a
// national trunk prefix and is replaced by DefaultCountryCode. Anything else
// is taken to already start with a country code.
type PhoneNormalizer struct {
	DefaultCountryCode string // digits only, e.g. "49"
}

// Normalize implements Normalizer.
func (p PhoneNormalizer) Normalize(raw string) (string, error) {
	s := norm.NFKC.String(raw)
	s = phoneFormatting.ReplaceAllString(s, "")
	if s == "" {
		return "", &InvalidResourceError{Resource: raw, Reason: "empty phone number"}
	}
	if !phoneDigits.MatchString(s) {
		return "", &InvalidResourceError{Resource: raw, Reason: "phone number may only contain digits and a leading +"}
	}

	var digits string
	switch {
	case strings.HasPrefix(s, "+"):
		digits = s[1:]
	case strings.HasPrefix(s, "00"):
		digits = s[2:]
	case strings.HasPrefix(s, "0"):
		if p.DefaultCountryCode == "" {
			return "", errors.WithHint(
				&InvalidResourceError{Resource: raw, Reason: "national number without a default country code"},
				"write the number with a +<country code> prefix")
		}
		digits = strings.TrimPrefix(p.DefaultCountryCode, "+") + s[1:]
	default:
		digits = s
	}

	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return "", &InvalidResourceError{Resource: raw, Reason: "phone number must have between 7 and 15 digits"}
	}
	return "+" + digits, nil
}
