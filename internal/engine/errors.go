package engine

import "fmt"

// ErrorKind is the engine's error taxonomy (spec §7), surfaced verbatim to
// clients as the action_failed payload's kind.
type ErrorKind string

const (
	ErrWrongState        ErrorKind = "WRONG_STATE"
	ErrNotYourTurn       ErrorKind = "NOT_YOUR_TURN"
	ErrInvalidValue      ErrorKind = "INVALID_VALUE"
	ErrMustFollowSuit    ErrorKind = "MUST_FOLLOW_SUIT"
	ErrCardNotInHand     ErrorKind = "CARD_NOT_IN_HAND"
	ErrDuplicateAction   ErrorKind = "DUPLICATE_ACTION"
	ErrSessionFull       ErrorKind = "SESSION_FULL"
	ErrNotBidWinner      ErrorKind = "NOT_BID_WINNER"
	ErrBidTooLow         ErrorKind = "BID_TOO_LOW"
	ErrTrumpAlreadyOpen  ErrorKind = "TRUMP_ALREADY_REVEALED"
)

// ActionError is the typed error every engine operation returns on
// rejection. It is never returned alongside a mutation: rejection is
// all-or-nothing (spec §7).
type ActionError struct {
	Kind    ErrorKind
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func fail(kind ErrorKind, format string, args ...any) *ActionError {
	return &ActionError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
