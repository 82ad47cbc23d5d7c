package mailreq

import "fmt"

type MissingHeaderError struct {
	Header string
}

func (e *MissingHeaderError) Error() string {
	return fmt.Sprintf("missing required header %q", e.Header)
}

type InvalidAddressError struct {
	Field string
	Value string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("header %q does not contain a valid email address: %q", e.Field, e.Value)
}
