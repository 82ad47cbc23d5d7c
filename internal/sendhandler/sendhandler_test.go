package sendhandler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OliverSchlueter/mail-gateway/internal/compose"
	"github.com/OliverSchlueter/mail-gateway/internal/credentials"
	"github.com/OliverSchlueter/mail-gateway/internal/credentials/database/fake"
	"github.com/OliverSchlueter/mail-gateway/internal/relay"
)

type fakeDispatcher struct {
	calls int
	last  *compose.Message
	err   error
}

func (d *fakeDispatcher) Deliver(msg *compose.Message, envelopeFrom string, envelopeTo string) error {
	d.calls++
	d.last = msg
	return d.err
}

func newTestHandler(t *testing.T, dispatcher *fakeDispatcher) *http.ServeMux {
	t.Helper()

	cs := credentials.NewStore(credentials.Configuration{
		DB: fake.NewDB(),
	})
	err := cs.Create(credentials.Credential{
		Identity: "oliver@localhost",
		KeyHash:  credentials.HashKey("oliver123"),
	})
	if err != nil {
		t.Fatalf("Failed to create credential: %v", err)
	}

	mux := http.NewServeMux()
	h := New(Configuration{
		Credentials: cs,
		Dispatcher:  dispatcher,
	})
	h.Register("", mux)

	return mux
}

func sendRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/send-email", strings.NewReader(body))
	r.Header.Set("From", "oliver@localhost")
	r.Header.Set("To", "peter@localhost")
	r.Header.Set("Subject", "Test Mail")
	r.Header.Set("Api-Key", "oliver123")
	return r
}

func TestSendEmail(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	mux := newTestHandler(t, dispatcher)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, sendRequest("hello"))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("Expected empty body on success, got %q", rec.Body.String())
	}
	if dispatcher.calls != 1 {
		t.Errorf("Expected 1 delivery, got %d", dispatcher.calls)
	}
	if dispatcher.last == nil || dispatcher.last.Body != "hello" {
		t.Error("Expected the composed message to carry the request body")
	}
}

func TestSendEmailWrongKey(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	mux := newTestHandler(t, dispatcher)

	r := sendRequest("hello")
	r.Header.Set("Api-Key", "wrong")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
	if dispatcher.calls != 0 {
		t.Errorf("Expected no delivery, got %d", dispatcher.calls)
	}
}

func TestSendEmailMissingKey(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	mux := newTestHandler(t, dispatcher)

	r := sendRequest("hello")
	r.Header.Del("Api-Key")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
	if dispatcher.calls != 0 {
		t.Errorf("Expected no delivery, got %d", dispatcher.calls)
	}
}

func TestSendEmailUnknownSender(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	mux := newTestHandler(t, dispatcher)

	r := sendRequest("hello")
	r.Header.Set("From", "mallory@localhost")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
	if dispatcher.calls != 0 {
		t.Errorf("Expected no delivery, got %d", dispatcher.calls)
	}
}

func TestSendEmailMissingSubject(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	mux := newTestHandler(t, dispatcher)

	r := sendRequest("hello")
	r.Header.Del("Subject")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
	if dispatcher.calls != 0 {
		t.Errorf("Expected dispatcher to never be invoked, got %d calls", dispatcher.calls)
	}
}

func TestSendEmailRejectedByRelay(t *testing.T) {
	dispatcher := &fakeDispatcher{
		err: &relay.RejectError{Code: 550, Reason: "550 No such user here"},
	}
	mux := newTestHandler(t, dispatcher)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, sendRequest("hello"))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No such user here") {
		t.Errorf("Expected relay reason in body, got %q", rec.Body.String())
	}
}

func TestSendEmailTransportFailure(t *testing.T) {
	dispatcher := &fakeDispatcher{
		err: &relay.TransportError{Step: "connect", Err: http.ErrHandlerTimeout},
	}
	mux := newTestHandler(t, dispatcher)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, sendRequest("hello"))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rec.Code)
	}
}

func TestSendEmailMethodNotAllowed(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	mux := newTestHandler(t, dispatcher)

	r := httptest.NewRequest(http.MethodGet, "/send-email", nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rec.Code)
	}
	if dispatcher.calls != 0 {
		t.Errorf("Expected no delivery, got %d", dispatcher.calls)
	}
}

func TestRootRedirect(t *testing.T) {
	mux := newTestHandler(t, &fakeDispatcher{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusMovedPermanently {
		t.Errorf("Expected status 301, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc == "" {
		t.Error("Expected a Location header")
	}
}

func TestUnknownPath(t *testing.T) {
	mux := newTestHandler(t, &fakeDispatcher{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/something-else", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}
