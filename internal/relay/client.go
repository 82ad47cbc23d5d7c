// Package relay delivers composed messages to the downstream mail transfer
// agent over a plain-text SMTP session. One connection per delivery, no
// pooling, no retries: a failed attempt is reported upward immediately.
package relay

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mail-gateway/internal/compose"
)

const (
	defaultPort           = "25"
	defaultHelloName      = "localhost"
	defaultConnectTimeout = 10 * time.Second
	defaultCommandTimeout = 30 * time.Second
)

type Client struct {
	host           string
	port           string
	helloName      string
	connectTimeout time.Duration
	commandTimeout time.Duration
	signer         *Signer
}

type Configuration struct {
	Host           string
	Port           string
	HelloName      string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	Signer         *Signer
}

func NewClient(config Configuration) *Client {
	if config.Port == "" {
		config.Port = defaultPort
	}
	if config.HelloName == "" {
		config.HelloName = defaultHelloName
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = defaultConnectTimeout
	}
	if config.CommandTimeout == 0 {
		config.CommandTimeout = defaultCommandTimeout
	}

	return &Client{
		host:           config.Host,
		port:           config.Port,
		helloName:      config.HelloName,
		connectTimeout: config.ConnectTimeout,
		commandTimeout: config.CommandTimeout,
		signer:         config.Signer,
	}
}

// Deliver runs a single SMTP session against the configured relay. It
// returns nil once the relay has accepted the message, *RejectError when the
// relay answers a command with a negative reply, and *TransportError on
// connection or protocol trouble (including timeouts).
func (c *Client) Deliver(msg *compose.Message, envelopeFrom string, envelopeTo string) error {
	raw := msg.Bytes()
	if c.signer != nil {
		signed, err := c.signer.Sign(raw)
		if err != nil {
			slog.Warn("Failed to sign message, sending unsigned", sloki.WrapError(err))
		} else {
			raw = signed
		}
	}

	addr := net.JoinHostPort(c.host, c.port)
	conn, err := net.DialTimeout("tcp", addr, c.connectTimeout)
	if err != nil {
		return &TransportError{Step: "connect", Err: err}
	}
	defer conn.Close()

	s := &session{
		conn:    conn,
		r:       bufio.NewReader(conn),
		w:       bufio.NewWriter(conn),
		timeout: c.commandTimeout,
	}

	if err := s.expect("greeting", codeServiceReady); err != nil {
		return err
	}

	if err := s.writeLine("EHLO", fmt.Sprintf("EHLO %s", c.helloName)); err != nil {
		return err
	}
	if err := s.expect("EHLO", codeOK); err != nil {
		return err
	}

	// Envelope exchange. From here on a 4xx/5xx reply is a rejection of
	// this particular message, not a transport problem.
	if err := s.exchange("MAIL FROM", fmt.Sprintf("MAIL FROM:<%s>", envelopeFrom), codeOK); err != nil {
		return err
	}
	if err := s.exchange("RCPT TO", fmt.Sprintf("RCPT TO:<%s>", envelopeTo), codeOK); err != nil {
		return err
	}
	if err := s.exchange("DATA", "DATA", codeStartMailInput); err != nil {
		return err
	}

	for _, line := range messageLines(raw) {
		if strings.HasPrefix(line, ".") {
			line = "." + line
		}
		if err := s.writeLine("message data", line); err != nil {
			return err
		}
	}
	if err := s.exchange("end of data", ".", codeOK); err != nil {
		return err
	}

	// The relay has accepted the message at this point. A broken QUIT is
	// logged but not surfaced.
	if err := s.writeLine("QUIT", "QUIT"); err != nil {
		slog.Warn("QUIT failed after message was accepted", sloki.WrapError(err))
		return nil
	}
	if code, line, err := s.reply("QUIT"); err != nil {
		slog.Warn("QUIT failed after message was accepted", sloki.WrapError(err))
	} else if code != codeConnClosed {
		slog.Warn("Unexpected reply to QUIT", slog.String("reply", line))
	}

	return nil
}

type session struct {
	conn    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	timeout time.Duration
}

// exchange sends a command and classifies the reply: the wanted code is
// success, a 5xx is a permanent rejection, a 4xx is a transient failure the
// caller may retry later, everything else is protocol trouble.
func (s *session) exchange(step, cmd string, want int) error {
	if err := s.writeLine(step, cmd); err != nil {
		return err
	}

	code, line, err := s.reply(step)
	if err != nil {
		return err
	}

	switch {
	case code == want:
		return nil
	case code >= 500:
		return &RejectError{Code: code, Reason: line}
	case code >= 400:
		return &TransportError{Step: step, Err: fmt.Errorf("transient failure: %q", line)}
	default:
		return &TransportError{Step: step, Err: fmt.Errorf("expected status %d, got %q", want, line)}
	}
}

// expect reads a reply and requires the given code; anything else is a
// transport failure. Used for the greeting and EHLO, which precede the
// envelope.
func (s *session) expect(step string, want int) error {
	code, line, err := s.reply(step)
	if err != nil {
		return err
	}
	if code != want {
		return &TransportError{Step: step, Err: fmt.Errorf("expected status %d, got %q", want, line)}
	}
	return nil
}

// reply reads a possibly multiline reply and returns the final status code
// and line.
func (s *session) reply(step string) (int, string, error) {
	for {
		if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
			return 0, "", &TransportError{Step: step, Err: err}
		}

		line, err := s.r.ReadString('\n')
		if err != nil {
			return 0, "", &TransportError{Step: step, Err: err}
		}

		line = strings.TrimRight(line, "\r\n")
		slog.Debug("S: " + line)

		if len(line) < 3 {
			return 0, "", &TransportError{Step: step, Err: fmt.Errorf("malformed reply %q", line)}
		}

		code, err := strconv.Atoi(line[:3])
		if err != nil {
			return 0, "", &TransportError{Step: step, Err: fmt.Errorf("malformed reply %q", line)}
		}

		if len(line) > 3 && line[3] == '-' {
			continue // multiline reply, keep reading
		}

		return code, line, nil
	}
}

func (s *session) writeLine(step, line string) error {
	if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		return &TransportError{Step: step, Err: err}
	}

	if _, err := s.w.WriteString(line + "\r\n"); err != nil {
		return &TransportError{Step: step, Err: err}
	}
	if err := s.w.Flush(); err != nil {
		return &TransportError{Step: step, Err: err}
	}

	slog.Debug("C: " + line)
	return nil
}

// messageLines splits the rendered message for line-wise streaming,
// tolerating both CRLF and bare LF line endings.
func messageLines(raw []byte) []string {
	lines := strings.Split(string(raw), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
