package fake

import (
	"github.com/OliverSchlueter/mail-gateway/internal/credentials"
	"sync"
)

type DB struct {
	Items map[string]credentials.Credential
	mu    sync.Mutex
}

func NewDB() *DB {
	return &DB{
		Items: make(map[string]credentials.Credential),
		mu:    sync.Mutex{},
	}
}

func (db *DB) GetByIdentity(identity string) (*credentials.Credential, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	cred, exists := db.Items[identity]
	if !exists {
		return nil, credentials.ErrCredentialNotFound
	}
	return &cred, nil
}

func (db *DB) Insert(cred credentials.Credential) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.Items[cred.Identity]; exists {
		return credentials.ErrCredentialAlreadyExists
	}

	db.Items[cred.Identity] = cred
	return nil
}
