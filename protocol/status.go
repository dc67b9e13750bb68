package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidStatus is returned when an identification status is not one of
// the known integer values.
var ErrInvalidStatus = errors.New("invalid identification status")

// IdentifyStatus is the Phase-2 registration state of a node. On the wire
// it is a JSON integer; string forms are rejected.
type IdentifyStatus int

const (
	StatusUnknown    IdentifyStatus = 0
	StatusAuthorized IdentifyStatus = 1
	StatusPending    IdentifyStatus = 2
	StatusRevoked    IdentifyStatus = 3
)

func (s IdentifyStatus) String() string {
	switch s {
	case StatusUnknown:
		return "Unknown"
	case StatusAuthorized:
		return "Authorized"
	case StatusPending:
		return "Pending"
	case StatusRevoked:
		return "Revoked"
	default:
		return fmt.Sprintf("IdentifyStatus(%d)", int(s))
	}
}

// Valid reports whether s is a known value.
func (s IdentifyStatus) Valid() bool {
	return s >= StatusUnknown && s <= StatusRevoked
}

func (s IdentifyStatus) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, int(s))
	}
	return json.Marshal(int(s))
}

func (s *IdentifyStatus) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, b)
	}
	v := IdentifyStatus(n)
	if !v.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStatus, n)
	}
	*s = v
	return nil
}
