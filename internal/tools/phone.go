package tools

import (
	"regexp"
	"strings"
	"unicode"
)

var spanishPhone = regexp.MustCompile(`^(\+34|0034|34)?([6789]\d{8})$`)

// NormalizePhone validates a Spanish mobile or landline number and returns it
// as +34XXXXXXXXX. Whitespace anywhere in the input is ignored.
func NormalizePhone(raw string) (string, bool) {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
	m := spanishPhone.FindStringSubmatch(clean)
	if m == nil {
		return "", false
	}
	return "+34" + m[2], true
}
