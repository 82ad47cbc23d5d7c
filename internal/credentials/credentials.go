package credentials

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strings"
)

type DB interface {
	GetByIdentity(identity string) (*Credential, error)
	Insert(cred Credential) error
}

type Store struct {
	db DB
}

type Configuration struct {
	DB DB
}

func NewStore(config Configuration) *Store {
	return &Store{
		db: config.DB,
	}
}

// Authenticate reports whether presentedKey is the API key registered for
// identity. It fails closed: an unknown identity, an empty key and a digest
// mismatch all yield false without distinguishing between them.
func (s *Store) Authenticate(identity string, presentedKey string) bool {
	presented := []byte(HashKey(presentedKey))

	cred, err := s.db.GetByIdentity(strings.ToLower(identity))
	if err != nil {
		// Burn a comparison anyway so unknown identities are not
		// detectable through response timing.
		subtle.ConstantTimeCompare(presented, presented)
		return false
	}

	return subtle.ConstantTimeCompare(presented, []byte(cred.KeyHash)) == 1
}

func (s *Store) Create(cred Credential) error {
	cred.Identity = strings.ToLower(strings.TrimSpace(cred.Identity))

	return s.db.Insert(cred)
}

func HashKey(key string) string {
	h := sha256.New()
	h.Write([]byte(key))
	bs := h.Sum(nil)
	return fmt.Sprintf("%x", bs)
}

// ParsePair parses a trust relationship of the form "email=digest", where
// digest is the hex-encoded sha256 hash of the raw API key.
func ParsePair(pair string) (Credential, error) {
	idx := strings.Index(pair, "=")
	if idx < 0 {
		return Credential{}, fmt.Errorf("no '=' found in %q", pair)
	}

	identity := strings.ToLower(strings.TrimSpace(pair[:idx]))
	digest := strings.TrimSpace(pair[idx+1:])

	if !strings.Contains(identity, "@") {
		return Credential{}, fmt.Errorf("%q is not an email address", identity)
	}

	if len(digest) != 64 || !isHex(digest) {
		return Credential{}, fmt.Errorf("%q is not a sha256 digest", digest)
	}

	return Credential{
		Identity: identity,
		KeyHash:  digest,
	}, nil
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
