package util

import (
	"encoding/base64"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize trims surrounding whitespace and applies NFKC so visually
// identical identifiers compare equal.
func Normalize(s string) string {
	return norm.NFKC.String(strings.TrimSpace(s))
}

func B64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func B64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
