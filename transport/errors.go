package transport

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/jmcleod/ironlink/protocol"
)

// StatusCode extracts the HTTP status of a StatusError anywhere in err's
// chain, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

func errorMessage(data []byte) string {
	var er protocol.ErrorResponse
	if json.Unmarshal(data, &er) == nil && er.Error != "" {
		return er.Error
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
