package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrConfigMissing    = errors.New("required configuration missing")
	ErrUpstreamRejected = errors.New("upstream rejected request")
	ErrTransportFailure = errors.New("upstream transport failure")
	ErrConfigInvalid    = errors.New("invalid configuration")
)

// FetchErrorKind enumerates the ways a collection fetch can fail.
type FetchErrorKind int

const (
	// KindConfigMissing means a required setting was empty; no upstream call was made.
	KindConfigMissing FetchErrorKind = iota + 1
	// KindUpstreamRejected means the upstream answered with a non-2xx status.
	KindUpstreamRejected
	// KindTransportFailure covers network faults and unparseable upstream bodies.
	KindTransportFailure
)

func (k FetchErrorKind) String() string {
	switch k {
	case KindConfigMissing:
		return "config_missing"
	case KindUpstreamRejected:
		return "upstream_rejected"
	case KindTransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// FetchError is the single error type produced while fetching a collection.
// Exactly one of the kind-specific fields is meaningful:
//
//   - KindConfigMissing: Setting
//   - KindUpstreamRejected: Status and Body
//   - KindTransportFailure: Message (and Err when available)
type FetchError struct {
	Kind    FetchErrorKind
	Setting string
	Status  int
	Body    json.RawMessage
	Message string
	Err     error
}

// NewConfigMissing reports an unset required setting.
func NewConfigMissing(setting string) *FetchError {
	return &FetchError{Kind: KindConfigMissing, Setting: setting}
}

// NewUpstreamRejected reports a non-2xx upstream answer with its JSON body.
func NewUpstreamRejected(status int, body json.RawMessage) *FetchError {
	return &FetchError{Kind: KindUpstreamRejected, Status: status, Body: body}
}

// NewTransportFailure wraps a network or decoding fault.
func NewTransportFailure(err error) *FetchError {
	msg := "unknown transport failure"
	if err != nil {
		msg = err.Error()
	}
	return &FetchError{Kind: KindTransportFailure, Message: msg, Err: err}
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindConfigMissing:
		return fmt.Sprintf("%s environment variable is not set", e.Setting)
	case KindUpstreamRejected:
		return fmt.Sprintf("upstream returned status %d", e.Status)
	case KindTransportFailure:
		return e.Message
	default:
		return "collection fetch failed"
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is lets callers match a FetchError against the kind sentinels with errors.Is.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrConfigMissing:
		return e.Kind == KindConfigMissing
	case ErrUpstreamRejected:
		return e.Kind == KindUpstreamRejected
	case ErrTransportFailure:
		return e.Kind == KindTransportFailure
	}
	return false
}

// ErrorEnvelope is the JSON body returned for every non-success response.
// Details is omitted for configuration errors.
type ErrorEnvelope struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}
