// Package offchain wires the payment status-transition logic, the pairwise
// channel protocol and storage into a runnable engine, and defines the
// contracts (Business, wire shapes, error taxonomy) that glue them together.
package offchain

import "fmt"

// ErrorCode is a wire-level protocol error code (spec.md §6).
type ErrorCode string

const (
	ErrorConflict                 ErrorCode = "conflict"
	ErrorMissingDependencies      ErrorCode = "missing_dependencies"
	ErrorWait                     ErrorCode = "wait"
	ErrorInvalidSignature         ErrorCode = "invalid_signature"
	ErrorPaymentWrongActor        ErrorCode = "payment_wrong_actor"
	ErrorPaymentWrongStructure    ErrorCode = "payment_wrong_structure"
	ErrorPaymentWrongStatus       ErrorCode = "payment_wrong_status"
	ErrorPaymentChangedOtherActor ErrorCode = "payment_changed_other_actor"
	ErrorPaymentWrongRecipientSig ErrorCode = "payment_wrong_recipient_signature"
	ErrorPaymentInvalidAddress    ErrorCode = "payment_invalid_libra_address"
	ErrorPaymentInvalidSubaddress ErrorCode = "payment_invalid_libra_subaddress"
	ErrorPaymentVASPError         ErrorCode = "payment_vasp_error"
)

// OffChainException is a fatal local programmer/invariant error. It is never
// suppressed and never crosses the wire (spec.md §7).
type OffChainException struct {
	Message string
}

func (e *OffChainException) Error() string { return "offchain: " + e.Message }

// NewException builds an OffChainException.
func NewException(format string, args ...any) *OffChainException {
	return &OffChainException{Message: fmt.Sprintf(format, args...)}
}

// OffChainProtocolError wraps a peer-reported (or peer-bound) failure: the
// channel records it in committed_commands, releases locks, and notifies the
// processor (spec.md §7).
type OffChainProtocolError struct {
	Code    ErrorCode
	Message string
}

func (e *OffChainProtocolError) Error() string {
	return fmt.Sprintf("offchain protocol error [%s]: %s", e.Code, e.Message)
}

// NewProtocolError builds an OffChainProtocolError.
func NewProtocolError(code ErrorCode, format string, args ...any) *OffChainProtocolError {
	return &OffChainProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// DependencyError is raised locally by sequence_command_local when reads are
// missing, consumed, or locked. It never crosses the wire (spec.md §4.C/§7).
type DependencyError struct {
	Missing []string
	Used    []string
	Locked  []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("offchain: dependency error: missing=%v used=%v locked=%v", e.Missing, e.Used, e.Locked)
}

// PaymentLogicError is raised by the command-check hook when a command
// violates a payment-layer invariant; it carries the wire error code to
// return to the peer (spec.md §4.D).
type PaymentLogicError struct {
	Code    ErrorCode
	Message string
}

func (e *PaymentLogicError) Error() string {
	return fmt.Sprintf("payment logic error [%s]: %s", e.Code, e.Message)
}

// NewPaymentLogicError builds a PaymentLogicError.
func NewPaymentLogicError(code ErrorCode, format string, args ...any) *PaymentLogicError {
	return &PaymentLogicError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// BusinessForceAbort lets a Business hook force the payment to abort from
// any await point in payment_process_async (spec.md §6).
type BusinessForceAbort struct {
	Code    string
	Message string
}

func (e *BusinessForceAbort) Error() string {
	return fmt.Sprintf("business force-abort [%s]: %s", e.Code, e.Message)
}

// BusinessValidationFailure is raised by ValidateRecipientSignature.
type BusinessValidationFailure struct {
	Message string
}

func (e *BusinessValidationFailure) Error() string {
	return "business validation failure: " + e.Message
}

// NetworkException is a transient transport-layer failure; it leaves engine
// state unchanged and the caller is expected to retry (spec.md §7).
type NetworkException struct {
	Message string
}

func (e *NetworkException) Error() string { return "network error: " + e.Message }

// PaymentProcessorNoProgress signals that a command was processed but no
// follow-up command was produced, despite it being this side's turn.
type PaymentProcessorNoProgress struct{}

func (e *PaymentProcessorNoProgress) Error() string { return "payment processor: no progress" }

// PaymentProcessorRemoteError wraps a peer-reported failure surfaced to an
// outcome waiter.
type PaymentProcessorRemoteError struct {
	Err error
}

func (e *PaymentProcessorRemoteError) Error() string {
	return "payment processor: remote error: " + e.Err.Error()
}

func (e *PaymentProcessorRemoteError) Unwrap() error { return e.Err }
