// Package credential keeps the IMAP password in the OS keyring.
package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const (
	ServiceName = "inbox-to-sheets"
	// DefaultFileDir holds the encrypted file backend when no OS keyring is
	// available.
	DefaultFileDir = "~/.inbox-to-sheets/credentials"
)

var ErrNotFound = errors.New("credential not found")

// Store wraps a keyring opened with fixed backend preferences.
type Store struct {
	config keyring.Config
}

// New returns a store on the platform keyrings, falling back to an encrypted
// file under fileDir.
func New(fileDir string) *Store {
	return &Store{config: keyring.Config{
		ServiceName: ServiceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(ServiceName + "-file-key"),
		KeychainTrustApplication: true,
	}}
}

// NewWithConfig uses cfg as given; tests pin the file backend with it.
func NewWithConfig(cfg keyring.Config) *Store {
	return &Store{config: cfg}
}

func (s *Store) open() (keyring.Keyring, error) {
	ring, err := keyring.Open(s.config)
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get returns ErrNotFound when key has no stored value.
func (s *Store) Get(key string) (string, error) {
	ring, err := s.open()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

func (s *Store) Set(key, value string) error {
	ring, err := s.open()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: ServiceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(key string) error {
	ring, err := s.open()
	if err != nil {
		return err
	}
	if err := ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// IMAPKey is the keyring key for the password of user on host.
func IMAPKey(user, host string) string {
	return "imap:" + user + "@" + host
}
