package errs

import (
	"encoding/json"
)

/*
   Creation Time: 2021 - Aug - 05
   Created by:  (ehsan)
   Maintainers:
      1.  Ehsan N. Moosa (E2)
   Auditor: Ehsan N. Moosa (E2)
   Copyright Ronak Software Group 2020
*/

// ErrorCode identifies which branch of the push/conference error taxonomy
// an Error belongs to. Recoverable codes are handled inside the client
// that raised them; terminal codes resolve a Request to Failed.
type ErrorCode int

const (
	ErrUnknown ErrorCode = iota

	// ConfigurationError: bad config, surfaced at setup.
	ErrConfiguration
	ErrUnsupportedProvider
	ErrNoClientAvailable
	ErrInvalidArgument
	ErrDuplicateAppID

	// TransportError: recovered by reconnect and per-request retry.
	ErrTransport

	// ProviderRejection: terminal, not retried.
	ErrProviderRejection

	// QueueFull: synchronous enqueue failure.
	ErrQueueFull

	// TokenUnavailable: FCM v1 has no usable token after backoff.
	ErrTokenUnavailable
	ErrTokenRefreshFailed

	// Conference allocator errors.
	ErrAddressCollision
	ErrBindFailed
	ErrNoGruu
	ErrAddressExhaustion
)

type Payload interface{}
type DataPayload map[string]interface{}

type Error struct {
	Code ErrorCode
	Data Payload
}

func (e Error) Error() string {
	b, _ := json.Marshal(e)
	return string(b)
}

func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"code": e.Code,
		"data": e.Data,
	})
}

func (e *Error) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["code"].(float64); ok {
		e.Code = ErrorCode(v)
	} else {
		e.Code = ErrUnknown
	}

	if v, ok := raw["data"].(map[string]interface{}); ok {
		e.Data = DataPayload(v)
	} else {
		e.Data = DataPayload{}
	}

	return nil
}

func (e Error) Is(code ErrorCode) bool {
	return e.Code == code
}

func New(code ErrorCode, msg string) Error {
	return Error{Code: code, Data: DataPayload{"message": msg}}
}

func NewConfiguration(msg string) Error       { return New(ErrConfiguration, msg) }
func NewUnsupportedProvider(provider string) Error {
	return New(ErrUnsupportedProvider, "unsupported push provider ["+provider+"]")
}
func NewNoClientAvailable(appID string) Error {
	return New(ErrNoClientAvailable, "no push client available for app identifier ["+appID+"]")
}
func NewInvalidArgument(msg string) Error     { return New(ErrInvalidArgument, msg) }
func NewDuplicateAppID(appID string) Error {
	return New(ErrDuplicateAppID, "duplicate app identifier ["+appID+"]")
}
func NewTransport(msg string) Error           { return New(ErrTransport, msg) }
func NewProviderRejection(reason string) Error { return New(ErrProviderRejection, reason) }
func NewQueueFull(client string) Error {
	return New(ErrQueueFull, "push queue is full for client ["+client+"]")
}
func NewTokenUnavailable(msg string) Error    { return New(ErrTokenUnavailable, msg) }
func NewTokenRefreshFailed(msg string) Error  { return New(ErrTokenRefreshFailed, msg) }
func NewAddressCollision(uri string) Error    { return New(ErrAddressCollision, uri) }
func NewBindFailed(msg string) Error          { return New(ErrBindFailed, msg) }
func NewNoGruu(uri string) Error              { return New(ErrNoGruu, uri) }
func NewAddressExhaustion(attempts int) Error {
	return New(ErrAddressExhaustion, "exhausted collision-retry budget")
}
