// Package compose assembles wire-ready MIME messages from email requests.
package compose

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/OliverSchlueter/goutils/idgen"
	"github.com/OliverSchlueter/mail-gateway/internal/mailreq"
	"github.com/google/uuid"
)

const boundaryLength = 28

// generateToken is swappable in tests to force boundary collisions.
var generateToken = idgen.GenerateID

type Header struct {
	Name  string
	Value string
}

// Message is a composed MIME document: ordered headers plus the raw body.
type Message struct {
	Headers []Header
	Body    string
}

// Compose builds the MIME document for req. Without an HTML body the result
// is a single text/plain part carrying TextBody verbatim; with one it is a
// multipart/alternative document with the plain-text part first.
func Compose(req *mailreq.EmailRequest) *Message {
	m := &Message{}

	m.add("From", req.From)
	m.add("To", req.To)
	if req.ReplyTo != "" {
		m.add("Reply-To", req.ReplyTo)
	}
	m.add("Subject", req.Subject)
	m.add("Date", time.Now().UTC().Format(time.RFC1123Z))
	m.add("Message-ID", messageID(req.From))
	m.add("MIME-Version", "1.0")

	if req.HtmlBody == "" {
		m.add("Content-Type", "text/plain; charset=utf-8")
		m.Body = req.TextBody
		return m
	}

	boundary := newBoundary(req.TextBody, req.HtmlBody)
	m.add("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", boundary))
	m.Body = multipartBody(boundary, req.TextBody, req.HtmlBody)

	return m
}

// Bytes renders the message in wire form with CRLF line endings and a blank
// line between headers and body.
func (m *Message) Bytes() []byte {
	var buf bytes.Buffer
	for _, h := range m.Headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.Name, h.Value)
	}
	buf.WriteString("\r\n")
	buf.WriteString(m.Body)
	return buf.Bytes()
}

func (m *Message) add(name, value string) {
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
}

// newBoundary generates boundary tokens until one does not occur as a
// substring of either body part.
func newBoundary(textBody, htmlBody string) string {
	for {
		b := generateToken(boundaryLength)
		if !strings.Contains(textBody, b) && !strings.Contains(htmlBody, b) {
			return b
		}
	}
}

func multipartBody(boundary, textBody, htmlBody string) string {
	var sb strings.Builder

	sb.WriteString("--" + boundary + "\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(textBody + "\r\n")
	sb.WriteString("--" + boundary + "\r\n")
	sb.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(htmlBody + "\r\n")
	sb.WriteString("--" + boundary + "--\r\n")

	return sb.String()
}

// messageID derives the Message-ID domain from the sender address, falling
// back to localhost when the address carries no domain.
func messageID(from string) string {
	domain := "localhost"
	if idx := strings.Index(from, "@"); idx >= 0 && idx+1 < len(from) {
		domain = from[idx+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)
}
