package reader

import (
	"encoding/hex"
	"errors"
	"strings"
)

var errEmptyUID = errors.New("empty identifier")

// FormatUID renders a hardware identifier as uppercase hex, two digits per
// byte, no separators.
func FormatUID(uid []byte) string {
	return strings.ToUpper(hex.EncodeToString(uid))
}

// ParseUID is the inverse of FormatUID. It accepts either case and ignores
// ':', '-' and blank separators, as emitted by common reader firmware.
func ParseUID(s string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', ' ', '\t', '\r':
			return -1
		}
		return r
	}, s)
	if cleaned == "" {
		return nil, errEmptyUID
	}
	return hex.DecodeString(cleaned)
}
