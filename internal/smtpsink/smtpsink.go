// Package smtpsink is a minimal in-process SMTP server used by tests and the
// e2e binary as a stand-in for the downstream mail transfer agent.
package smtpsink

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
)

// Mail is one message as received over a sink session.
type Mail struct {
	From string
	To   []string
	Data []string
}

type Server struct {
	hostname          string
	rejectRecipient   string
	tempFailRecipient string
	stallAfterData    bool
	listener          net.Listener

	mu       sync.Mutex
	mails    []Mail
	sessions int
}

type Configuration struct {
	Hostname string

	// RejectRecipient, when set, is answered with a 550 on RCPT TO.
	RejectRecipient string

	// TempFailRecipient, when set, is answered with a 450 on RCPT TO.
	TempFailRecipient string

	// StallAfterData makes the session never answer the end-of-data dot,
	// to provoke client timeouts.
	StallAfterData bool
}

func NewServer(config Configuration) *Server {
	if config.Hostname == "" {
		config.Hostname = "localhost"
	}

	return &Server{
		hostname:          config.Hostname,
		rejectRecipient:   config.RejectRecipient,
		tempFailRecipient: config.TempFailRecipient,
		stallAfterData:    config.StallAfterData,
	}
}

// Start listens on addr (use "127.0.0.1:0" for an ephemeral port) and serves
// connections until Close.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}

			go s.handle(conn)
		}
	}()

	return nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
}

// Mails returns a copy of everything received so far.
func (s *Server) Mails() []Mail {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Mail, len(s.mails))
	copy(out, s.mails)
	return out
}

// ActiveSessions reports how many connections are currently being served.
// A session only ends once the client side of the socket is gone, so a
// count of zero confirms that every client closed its connection.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sessions
}

func (s *Server) handle(conn net.Conn) {
	s.mu.Lock()
	s.sessions++
	s.mu.Unlock()

	defer func() {
		conn.Close()
		s.mu.Lock()
		s.sessions--
		s.mu.Unlock()
	}()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	writeLine(w, fmt.Sprintf("220 %s SMTP service ready", s.hostname))

	mail := Mail{}
	readingData := false

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}

		line = strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(line)

		slog.Debug("sink C: " + line)

		if readingData {
			if line == "." {
				if s.stallAfterData {
					continue // never answer; the client has to give up
				}

				s.mu.Lock()
				s.mails = append(s.mails, mail)
				s.mu.Unlock()

				writeLine(w, "250 OK")
				mail = Mail{}
				readingData = false
			} else {
				if strings.HasPrefix(line, ".") {
					line = line[1:]
				}
				mail.Data = append(mail.Data, line)
			}

			continue
		}

		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			writeLine(w, fmt.Sprintf("250 %s greets you", s.hostname))

		case strings.HasPrefix(upper, "MAIL FROM:"):
			mail.From = strings.Trim(line[len("MAIL FROM:"):], "<> ")
			writeLine(w, "250 OK")

		case strings.HasPrefix(upper, "RCPT TO:"):
			recipient := strings.Trim(line[len("RCPT TO:"):], "<> ")
			if recipient == s.rejectRecipient {
				writeLine(w, "550 No such user here")
				continue
			}
			if recipient == s.tempFailRecipient {
				writeLine(w, "450 Mailbox busy, try again later")
				continue
			}
			mail.To = append(mail.To, recipient)
			writeLine(w, "250 OK")

		case upper == "DATA":
			if len(mail.To) == 0 {
				writeLine(w, "503 Bad sequence: 'RCPT TO' required first")
				continue
			}
			readingData = true
			writeLine(w, "354 Start mail input; end with <CRLF>.<CRLF>")

		case upper == "RSET":
			mail = Mail{}
			writeLine(w, "250 OK")

		case upper == "QUIT":
			writeLine(w, fmt.Sprintf("221 %s closing connection", s.hostname))
			return

		default:
			writeLine(w, "500 Unrecognized command")
		}
	}
}

func writeLine(w *bufio.Writer, line string) {
	w.WriteString(line + "\r\n")
	w.Flush()
	slog.Debug("sink S: " + line)
}
