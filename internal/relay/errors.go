package relay

import "fmt"

// RejectError is a permanent negative reply from the relay to an envelope or
// data command. The message was not accepted and will not be on a retry with
// the same envelope.
type RejectError struct {
	Code   int
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("relay rejected message: %s", e.Reason)
}

// TransportError is connection or protocol level trouble: the session never
// got a definitive verdict from the relay. The caller may retry later.
type TransportError struct {
	Step string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("smtp transport failed at %s: %v", e.Step, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
