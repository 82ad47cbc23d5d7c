package relay

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/OliverSchlueter/mail-gateway/internal/compose"
	"github.com/OliverSchlueter/mail-gateway/internal/mailreq"
	"github.com/OliverSchlueter/mail-gateway/internal/smtpsink"
)

func startSink(t *testing.T, config smtpsink.Configuration) (*smtpsink.Server, string, string) {
	t.Helper()

	sink := smtpsink.NewServer(config)
	if err := sink.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Failed to start sink: %v", err)
	}
	t.Cleanup(sink.Close)

	host, port, err := net.SplitHostPort(sink.Addr())
	if err != nil {
		t.Fatalf("Failed to split sink address: %v", err)
	}

	return sink, host, port
}

func testMessage() *compose.Message {
	return compose.Compose(&mailreq.EmailRequest{
		From:     "oliver@localhost",
		To:       "peter@localhost",
		Subject:  "Test Mail",
		TextBody: "hello\n.leading dot line\nworld",
	})
}

func TestDeliver(t *testing.T) {
	sink, host, port := startSink(t, smtpsink.Configuration{})

	c := NewClient(Configuration{Host: host, Port: port})

	if err := c.Deliver(testMessage(), "oliver@localhost", "peter@localhost"); err != nil {
		t.Fatalf("Failed to deliver message: %v", err)
	}

	mails := sink.Mails()
	if len(mails) != 1 {
		t.Fatalf("Expected 1 mail in sink, got %d", len(mails))
	}

	m := mails[0]
	if m.From != "oliver@localhost" {
		t.Errorf("Expected envelope from oliver@localhost, got %s", m.From)
	}
	if len(m.To) != 1 || m.To[0] != "peter@localhost" {
		t.Errorf("Expected envelope to peter@localhost, got %v", m.To)
	}

	data := strings.Join(m.Data, "\n")
	if !strings.Contains(data, "Subject: Test Mail") {
		t.Errorf("Expected streamed data to contain the subject header, got:\n%s", data)
	}
	if !strings.Contains(data, ".leading dot line") {
		t.Error("Expected dot-stuffed line to arrive unstuffed")
	}
	if strings.Contains(data, "..leading dot line") {
		t.Error("Expected dot-stuffing to be undone by the receiver")
	}
}

func TestDeliverRejectedRecipient(t *testing.T) {
	sink, host, port := startSink(t, smtpsink.Configuration{
		RejectRecipient: "peter@localhost",
	})

	c := NewClient(Configuration{Host: host, Port: port})

	err := c.Deliver(testMessage(), "oliver@localhost", "peter@localhost")

	var reject *RejectError
	if !errors.As(err, &reject) {
		t.Fatalf("Expected RejectError, got %v", err)
	}
	if reject.Code != 550 {
		t.Errorf("Expected code 550, got %d", reject.Code)
	}

	if len(sink.Mails()) != 0 {
		t.Error("Expected no mail to reach the sink")
	}
}

func TestDeliverTimeout(t *testing.T) {
	sink, host, port := startSink(t, smtpsink.Configuration{
		StallAfterData: true,
	})

	c := NewClient(Configuration{
		Host:           host,
		Port:           port,
		CommandTimeout: 100 * time.Millisecond,
	})

	start := time.Now()
	err := c.Deliver(testMessage(), "oliver@localhost", "peter@localhost")

	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected the session to give up after the command timeout, took %v", elapsed)
	}

	// The sink's session only ends once the client side of the socket is
	// closed, so it draining to zero confirms the socket was closed.
	deadline := time.Now().Add(time.Second)
	for sink.ActiveSessions() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected the client socket to be closed after the timeout")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDeliverTransientFailure(t *testing.T) {
	sink, host, port := startSink(t, smtpsink.Configuration{
		TempFailRecipient: "peter@localhost",
	})

	c := NewClient(Configuration{Host: host, Port: port})

	err := c.Deliver(testMessage(), "oliver@localhost", "peter@localhost")

	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("Expected TransportError for a 450 reply, got %v", err)
	}

	var reject *RejectError
	if errors.As(err, &reject) {
		t.Error("Expected a 4xx reply to not count as a permanent rejection")
	}

	if len(sink.Mails()) != 0 {
		t.Error("Expected no mail to reach the sink")
	}
}

func TestDeliverConnectFailure(t *testing.T) {
	// Grab a port and close it again so nothing is listening there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	host, port, _ := net.SplitHostPort(l.Addr().String())
	l.Close()

	c := NewClient(Configuration{
		Host:           host,
		Port:           port,
		ConnectTimeout: time.Second,
	})

	err = c.Deliver(testMessage(), "oliver@localhost", "peter@localhost")

	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
	if transport.Step != "connect" {
		t.Errorf("Expected failure at connect, got %s", transport.Step)
	}
}
