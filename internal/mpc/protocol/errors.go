package protocol

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ProtocolError is any failure reported by the MPC engine. It is always fatal to the round.
type ProtocolError struct {
	Type     ErrorType
	Message  string
	Channel  string
	Culprits []string // party ids blamed by the engine
	Original error
}

type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeTimeout
	ErrTypeNetwork
	ErrTypeMalicious
	ErrTypeResource
)

func (e *ProtocolError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))
	if len(e.Culprits) > 0 {
		sb.WriteString(fmt.Sprintf(" (culprits: %v)", e.Culprits))
	}
	if e.Channel != "" {
		sb.WriteString(fmt.Sprintf(" [channel: %s]", e.Channel))
	}
	if e.Original != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Original))
	}
	return sb.String()
}

func (e *ProtocolError) Unwrap() error {
	return e.Original
}

func (t ErrorType) String() string {
	switch t {
	case ErrTypeTimeout:
		return "TIMEOUT"
	case ErrTypeNetwork:
		return "NETWORK"
	case ErrTypeMalicious:
		return "MALICIOUS"
	case ErrTypeResource:
		return "RESOURCE"
	default:
		return "UNKNOWN"
	}
}

// NewTimeoutError reports a phase that did not finish in time.
func NewTimeoutError(channel string, msg string) *ProtocolError {
	return &ProtocolError{
		Type:    ErrTypeTimeout,
		Message: msg,
		Channel: channel,
	}
}

// NewMaliciousPartyError reports parties the engine blamed for an abort.
func NewMaliciousPartyError(channel string, culprits []string, msg string) *ProtocolError {
	return &ProtocolError{
		Type:     ErrTypeMalicious,
		Message:  msg,
		Channel:  channel,
		Culprits: culprits,
	}
}

// NewNetworkError wraps a transport failure seen while driving the engine.
func NewNetworkError(channel string, err error) *ProtocolError {
	return &ProtocolError{
		Type:     ErrTypeNetwork,
		Message:  "network error",
		Channel:  channel,
		Original: err,
	}
}

// NewEngineError wraps any other engine failure.
func NewEngineError(channel string, msg string, err error) *ProtocolError {
	return &ProtocolError{
		Type:     ErrTypeUnknown,
		Message:  msg,
		Channel:  channel,
		Original: err,
	}
}

// IsProtocolError reports whether err carries a *ProtocolError.
func IsProtocolError(err error) bool {
	var perr *ProtocolError
	return errors.As(err, &perr)
}
