package channel

import "errors"

// ErrChannelEstablishmentFailed wraps every Phase 1 failure. Transport errors
// stay in the chain so callers can still match transport.ErrNetwork.
var ErrChannelEstablishmentFailed = errors.New("channel establishment failed")
