// Package sendhandler is the HTTP surface of the gateway: it authenticates
// the caller, parses the request into an email, and hands it to the relay.
package sendhandler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/OliverSchlueter/goutils/problems"
	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mail-gateway/internal/compose"
	"github.com/OliverSchlueter/mail-gateway/internal/credentials"
	"github.com/OliverSchlueter/mail-gateway/internal/mailreq"
	"github.com/OliverSchlueter/mail-gateway/internal/relay"
)

const projectURL = "https://github.com/OliverSchlueter/mail-gateway"

// Dispatcher delivers a composed message to the downstream relay.
type Dispatcher interface {
	Deliver(msg *compose.Message, envelopeFrom string, envelopeTo string) error
}

type Handler struct {
	credentials *credentials.Store
	dispatcher  Dispatcher
}

type Configuration struct {
	Credentials *credentials.Store
	Dispatcher  Dispatcher
}

func New(config Configuration) *Handler {
	return &Handler{
		credentials: config.Credentials,
		dispatcher:  config.Dispatcher,
	}
}

func (h *Handler) Register(prefix string, mux *http.ServeMux) {
	mux.HandleFunc(prefix+"/send-email", h.handleSendEmail)
	mux.HandleFunc("/", h.handleRoot)
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		http.Redirect(w, r, projectURL, http.StatusMovedPermanently)
		return
	}

	http.Error(w, "This is an http mailer server", http.StatusNotFound)
}

func (h *Handler) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.sendEmail(w, r)
	default:
		problems.MethodNotAllowed(r.Method, []string{http.MethodPost}).WriteToHTTP(w)
	}
}

func (h *Handler) sendEmail(w http.ResponseWriter, r *http.Request) {
	// Fails closed without detail: a missing key, an unknown sender and a
	// wrong key are indistinguishable to the caller.
	identity := strings.ToLower(r.Header.Get("From"))
	if !h.credentials.Authenticate(identity, r.Header.Get("Api-Key")) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		problems.CouldNotDecodeBody().WriteToHTTP(w)
		return
	}

	req, err := mailreq.Parse(r.Header, body)
	if err != nil {
		var missing *mailreq.MissingHeaderError
		var invalid *mailreq.InvalidAddressError
		switch {
		case errors.As(err, &missing):
			problems.ValidationError(missing.Header, "Required header is missing").WriteToHTTP(w)
		case errors.As(err, &invalid):
			problems.ValidationError(invalid.Field, "Not a valid email address").WriteToHTTP(w)
		default:
			problems.InternalServerError(err.Error()).WriteToHTTP(w)
		}
		return
	}

	msg := compose.Compose(req)

	if err := h.dispatcher.Deliver(msg, req.From, req.To); err != nil {
		var reject *relay.RejectError
		if errors.As(err, &reject) {
			slog.Warn("Relay rejected message", slog.String("from", req.From), slog.String("to", req.To), sloki.WrapError(err))
			http.Error(w, fmt.Sprintf("relay rejected message: %s", reject.Reason), http.StatusBadGateway)
			return
		}

		slog.Error("Failed to deliver message", slog.String("from", req.From), slog.String("to", req.To), sloki.WrapError(err))
		http.Error(w, "temporary delivery failure, try again later", http.StatusServiceUnavailable)
		return
	}

	slog.Info("Sent an email", slog.String("from", req.From), slog.String("to", req.To), slog.Int("size", len(body)))
	w.WriteHeader(http.StatusOK)
}
