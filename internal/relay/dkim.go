package relay

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/emersion/go-msgauth/dkim"
)

// Signer adds DKIM signatures to outgoing messages.
type Signer struct {
	domain   string
	selector string
	key      *rsa.PrivateKey
}

// NewSigner loads a PKCS#1 PEM private key from keyFile. The domain must
// match the From domain of the messages being signed.
func NewSigner(domain, selector, keyFile string) (*Signer, error) {
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("invalid PEM data in %s", keyFile)
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	return &Signer{
		domain:   domain,
		selector: selector,
		key:      key,
	}, nil
}

// Sign prepends a DKIM-Signature header to the rendered message.
func (s *Signer) Sign(raw []byte) ([]byte, error) {
	opts := &dkim.SignOptions{
		Domain:   s.domain,
		Selector: s.selector,
		Signer:   s.key,
		HeaderKeys: []string{
			"from",
			"to",
			"subject",
			"date",
			"message-id",
		},
	}

	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(raw), opts); err != nil {
		return nil, err
	}

	return signed.Bytes(), nil
}
