// Package accounts persists the managed account list to a JSON file and
// carries the hardware-bound-auth key helpers.
package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/altmanapp/altman/internal/crypto"
	"github.com/altmanapp/altman/internal/roblox"
)

// Account is one managed account. Cookie is the raw session cookie value and
// must be treated as a secret.
type Account struct {
	UserID        uint64 `json:"userId"`
	Username      string `json:"username"`
	DisplayName   string `json:"displayName"`
	Cookie        string `json:"cookie"`
	Status        string `json:"status"`
	Note          string `json:"note,omitempty"`
	HBAPrivateKey string `json:"hbaPrivateKey,omitempty"`
	HBAEnabled    bool   `json:"hbaEnabled,omitempty"`
}

// IsBannedLikeStatus reports whether a status label means the account cannot
// act.
func IsBannedLikeStatus(s string) bool {
	return s == "Banned" || s == "Warned" || s == "Terminated"
}

// Usable reports whether the account may issue requests.
func (a *Account) Usable() bool { return !IsBannedLikeStatus(a.Status) }

// Auth returns the request auth configuration for this account.
func (a *Account) Auth() roblox.AuthConfig {
	return roblox.AuthConfig{
		Cookie:        a.Cookie,
		HBAPrivateKey: a.HBAPrivateKey,
		HBAEnabled:    a.HBAEnabled,
	}
}

// ErrNotFound is returned when no account matches the given user id.
var ErrNotFound = errors.New("account not found")

// Store holds the account list, persisted as JSON at a fixed path.
type Store struct {
	mu       sync.Mutex
	path     string
	log      *zap.Logger
	accounts []Account
}

// NewStore returns a store persisting to path. Call Load before use.
func NewStore(path string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{path: path, log: log}
}

// Load reads the account file. A missing file yields an empty store.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.accounts = nil
			return nil
		}
		return err
	}
	defer f.Close()

	var accounts []Account
	if err := json.NewDecoder(f).Decode(&accounts); err != nil {
		return fmt.Errorf("decode accounts: %w", err)
	}
	s.accounts = accounts
	return nil
}

// Save writes the account list back to disk with owner-only permissions;
// the file holds session cookies.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.accounts, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}

// Add inserts or replaces the account with the same user id.
func (s *Store) Add(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		if s.accounts[i].UserID == a.UserID {
			s.accounts[i] = a
			return
		}
	}
	s.accounts = append(s.accounts, a)
}

// Get returns a copy of the account with the given user id.
func (s *Store) Get(userID uint64) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.UserID == userID {
			return a, nil
		}
	}
	return Account{}, ErrNotFound
}

// Update applies fn to the stored account with the given user id.
func (s *Store) Update(userID uint64, fn func(*Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		if s.accounts[i].UserID == userID {
			fn(&s.accounts[i])
			return nil
		}
	}
	return ErrNotFound
}

// Delete removes the account with the given user id.
func (s *Store) Delete(userID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		if s.accounts[i].UserID == userID {
			s.accounts = append(s.accounts[:i], s.accounts[i+1:]...)
			return true
		}
	}
	return false
}

// List returns a copy of all accounts.
func (s *Store) List() []Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Account, len(s.accounts))
	copy(out, s.accounts)
	return out
}

// EnsureHBAKeys generates a signing key pair for the account if it has none.
func EnsureHBAKeys(a *Account, log *zap.Logger) error {
	if a.HBAPrivateKey != "" {
		return nil
	}
	kp, err := crypto.GenerateKeyPair()
	if err != nil || !kp.Valid() {
		if log != nil {
			log.Error("failed to generate HBA keys", zap.String("username", a.Username), zap.Error(err))
		}
		if err == nil {
			err = errors.New("generated key pair is invalid")
		}
		return err
	}
	a.HBAPrivateKey = kp.PrivateKeyPEM
	if log != nil {
		log.Info("generated HBA keys", zap.String("username", a.Username))
	}
	return nil
}

// MigrateToHBA gives every stored account a signing key, returning the
// number of accounts that had one generated.
func (s *Store) MigrateToHBA() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var generated int
	for i := range s.accounts {
		if s.accounts[i].HBAPrivateKey != "" {
			continue
		}
		if err := EnsureHBAKeys(&s.accounts[i], s.log); err == nil {
			generated++
		}
	}
	return generated
}
