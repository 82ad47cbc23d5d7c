// Package mailreq turns an inbound HTTP request into a structured email.
//
// The request body may carry both a plain-text and an HTML version of the
// mail, separated by the first occurrence of the literal delimiter line
// "-----END-TEXT-BEGIN-HTML-----". The delimiter cannot be escaped, so a
// body part that legitimately contains it will be split at that point.
package mailreq

import (
	"fmt"
	"net/http"
	"net/mail"
	"strings"
)

// Delimiter separates the plain-text part from the HTML part of a request
// body. It must appear on a line of its own.
const Delimiter = "-----END-TEXT-BEGIN-HTML-----"

var requiredHeaders = []string{"From", "To", "Subject", "Api-Key"}

// Parse builds an EmailRequest from the request headers and raw body.
// It returns *MissingHeaderError when a required header is absent and
// *InvalidAddressError when an address header does not parse.
func Parse(header http.Header, body []byte) (*EmailRequest, error) {
	for _, name := range requiredHeaders {
		if header.Get(name) == "" {
			return nil, &MissingHeaderError{Header: name}
		}
	}

	from, err := parseAddress(strings.ToLower(header.Get("From")))
	if err != nil {
		return nil, &InvalidAddressError{Field: "From", Value: header.Get("From")}
	}

	to, err := parseAddress(header.Get("To"))
	if err != nil {
		return nil, &InvalidAddressError{Field: "To", Value: header.Get("To")}
	}

	req := &EmailRequest{
		From:    from,
		To:      to,
		Subject: header.Get("Subject"),
	}

	if replyTo := header.Get("Reply-To"); replyTo != "" {
		addr, err := parseAddress(replyTo)
		if err != nil {
			return nil, &InvalidAddressError{Field: "Reply-To", Value: replyTo}
		}
		req.ReplyTo = addr
	}

	req.TextBody, req.HtmlBody = splitBody(string(body))

	return req, nil
}

// splitBody separates the text and HTML parts at the first delimiter line.
// Without a delimiter the whole body is the text part.
func splitBody(body string) (textBody string, htmlBody string) {
	idx := strings.Index(body, "\n"+Delimiter+"\n")
	if idx < 0 {
		return body, ""
	}

	return body[:idx], body[idx+len(Delimiter)+2:]
}

// parseAddress accepts both bare addresses and "Name <addr>" forms and
// returns the bare addr-spec.
func parseAddress(raw string) (string, error) {
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", err
	}

	bare := addr.Address
	local, domain, found := strings.Cut(bare, "@")
	if !found || local == "" || domain == "" || strings.ContainsAny(bare, " \t") {
		return "", fmt.Errorf("malformed address %q", raw)
	}

	return bare, nil
}
