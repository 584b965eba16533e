// Package errors defines the error taxonomy shared by the engine.
//
// Every failure that crosses a component boundary is an *Error carrying a Kind.
// Guard and formatter failures never reach the network; ledger failures carry
// the ledger's reason code and an Origin of OriginLedger.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for caller decisions.
type Kind string

const (
	KindFormat        Kind = "format"
	KindPrecondition  Kind = "precondition"
	KindRejected      Kind = "rejected"
	KindTransport     Kind = "transport"
	KindConfiguration Kind = "configuration"
)

// Origin tells where a rejection was decided.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginLedger Origin = "ledger"
)

// Reason codes shared by the guard and the ledger contract.
const (
	ReasonAmountNotPositive    = "amount must be positive"
	ReasonInsufficientEarned   = "insufficient earned balance"
	ReasonInsufficientStaked   = "insufficient staked balance"
	ReasonTherapistNotFound    = "therapist not registered"
	ReasonTherapistInactive    = "therapist inactive"
	ReasonTherapistActive      = "therapist already active"
	ReasonTherapistRegistered  = "therapist already registered"
	ReasonFeeOutOfRange        = "session fee out of range"
	ReasonSelfBooking          = "cannot book self"
	ReasonBookingNotFound      = "booking not found"
	ReasonBookingNotPending    = "booking not pending"
	ReasonReportPresent        = "report already uploaded"
	ReasonNotBookingTherapist  = "caller is not booking therapist"
	ReasonEmptyName            = "empty name"
	ReasonEmptyReport          = "empty report reference"
	ReasonInvalidAddress       = "invalid address"
	ReasonNegative             = "negative amount"
	ReasonNotNumeric           = "not a number"
	ReasonPrecisionLoss        = "precision exceeds decimals"
	ReasonNetworkMismatch      = "network mismatch"
	ReasonContractMissing      = "contract not deployed"
	ReasonInvalidConfiguration = "invalid configuration"
)

// Error is the engine error type.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	Origin Origin
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Origin == OriginLedger {
		msg += " (ledger)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, and by reason when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// HTTPStatus maps the error kind to a response code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindFormat:
		return http.StatusBadRequest
	case KindPrecondition:
		return http.StatusConflict
	case KindRejected:
		return http.StatusUnprocessableEntity
	case KindTransport:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is checks.
var (
	ErrFormat        = &Error{Kind: KindFormat}
	ErrPrecondition  = &Error{Kind: KindPrecondition}
	ErrRejected      = &Error{Kind: KindRejected}
	ErrTransport     = &Error{Kind: KindTransport}
	ErrConfiguration = &Error{Kind: KindConfiguration}
)

// Format reports bad numeric or textual input.
func Format(reason string, err error) *Error {
	return &Error{Kind: KindFormat, Reason: reason, Origin: OriginLocal, Err: err}
}

// PreconditionFailed reports a guard rejection for op.
func PreconditionFailed(op, reason string) *Error {
	return &Error{Kind: KindPrecondition, Op: op, Reason: reason, Origin: OriginLocal}
}

// RejectedByLedger reports a remote rejection with the ledger's reason code.
func RejectedByLedger(op, reason string, err error) *Error {
	return &Error{Kind: KindRejected, Op: op, Reason: reason, Origin: OriginLedger, Err: err}
}

// Transport reports an unreachable ledger or a timeout; the outcome is unknown.
func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// Configuration reports a fatal configuration problem.
func Configuration(reason string, err error) *Error {
	return &Error{Kind: KindConfiguration, Reason: reason, Err: err}
}

// Configurationf is Configuration with a formatted detail.
func Configurationf(reason, format string, args ...any) *Error {
	return Configuration(reason, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// ReasonOf returns the reason code of the first *Error in err's chain.
func ReasonOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Reason
	}
	return ""
}

func IsFormat(err error) bool        { return stderrors.Is(err, ErrFormat) }
func IsPrecondition(err error) bool  { return stderrors.Is(err, ErrPrecondition) }
func IsRejected(err error) bool      { return stderrors.Is(err, ErrRejected) }
func IsTransport(err error) bool     { return stderrors.Is(err, ErrTransport) }
func IsConfiguration(err error) bool { return stderrors.Is(err, ErrConfiguration) }

// IsRejection is true for guard and ledger rejections alike; callers handle
// both the same way and use the Origin only for diagnostics.
func IsRejection(err error) bool {
	return IsPrecondition(err) || IsRejected(err)
}
