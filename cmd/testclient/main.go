package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/wneessen/go-mail"
)

func main() {
	gatewayMail()
	//relayMail()
}

// gatewayMail submits a mail through a running gateway over HTTP.
func gatewayMail() {
	body := "Hello Peter!\n-----END-TEXT-BEGIN-HTML-----\n<p>Hello Peter!</p>"

	req, err := http.NewRequest(http.MethodPost, "http://localhost:8000/send-email", strings.NewReader(body))
	if err != nil {
		log.Fatalf("failed to build request: %s", err)
	}
	req.Header.Set("Api-Key", "oliver123")
	req.Header.Set("From", "oliver@localhost")
	req.Header.Set("To", "peter@localhost")
	req.Header.Set("Subject", "Sent through the gateway")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("failed to send request: %s", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s: %s\n", resp.Status, respBody)
}

// relayMail bypasses the gateway and submits directly to the relay, to check
// that the MTA itself is reachable and accepting.
func relayMail() {
	m := mail.NewMsg()
	if err := m.From("oliver@localhost"); err != nil {
		log.Fatalf("failed to set From address: %s", err)
	}
	if err := m.To("peter@localhost"); err != nil {
		log.Fatalf("failed to set To address: %s", err)
	}
	m.Subject("Sent directly to the relay")
	m.SetBodyString(mail.TypeTextPlain, "The gateway was not involved in this one.")

	c, err := mail.NewClient(
		"localhost",
		mail.WithPort(25),
		mail.WithTLSPolicy(mail.NoTLS),
	)
	if err != nil {
		log.Fatalf("failed to create mail client: %s", err)
	}

	if err := c.DialAndSend(m); err != nil {
		log.Fatalf("failed to send mail: %s", err)
	}
}
