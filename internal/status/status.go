package status

import "errors"

// Credential errors surfaced to callers; a connection attempt is never made
// with a credential that is missing, malformed, or about to expire.
var (
	ErrCredentialMissing   = errors.New("auth: credential missing")
	ErrCredentialMalformed = errors.New("auth: credential malformed")
	ErrCredentialExpired   = errors.New("auth: credential expired")
	ErrRefreshFailed       = errors.New("auth: credential refresh failed")
)

// Reservation errors. The server response is authoritative; client-side
// quantity checks only avoid a wasted round trip.
var (
	ErrInsufficientInventory = errors.New("reservation: insufficient inventory")
	ErrInvalidQuantity       = errors.New("reservation: invalid quantity")
	ErrReservationNotFound   = errors.New("reservation: not found")
	ErrItemNotFound          = errors.New("inventory: item not found")
)

var (
	ErrLockWaitTimeout = errors.New("connection lock: wait timed out")
	ErrConnectTimeout  = errors.New("channel: connect timed out")
	ErrNotConnected    = errors.New("channel: not connected")
	ErrStopped         = errors.New("channel: stopped")
)

// ChannelErrorClass classifies push-channel failures. Retryable classes feed
// the backoff loop; Authentication is escalated and never retried.
type ChannelErrorClass int

const (
	ChannelErrUnknown ChannelErrorClass = iota
	ChannelErrNetwork
	ChannelErrAuthentication
	ChannelErrServer
	ChannelErrTimeout
)

func (c ChannelErrorClass) String() string {
	switch c {
	case ChannelErrNetwork:
		return "network"
	case ChannelErrAuthentication:
		return "authentication"
	case ChannelErrServer:
		return "server"
	case ChannelErrTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Retryable reports whether a failure of this class should re-enter the
// backoff loop.
func (c ChannelErrorClass) Retryable() bool {
	return c != ChannelErrAuthentication
}

// ChannelError pairs a classified failure with its cause.
type ChannelError struct {
	Class ChannelErrorClass
	Err   error
}

func (e *ChannelError) Error() string {
	if e.Err == nil {
		return "channel: " + e.Class.String() + " error"
	}
	return "channel: " + e.Class.String() + ": " + e.Err.Error()
}

func (e *ChannelError) Unwrap() error { return e.Err }
