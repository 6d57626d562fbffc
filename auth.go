package chanbus

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"net"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

// AuthContext contains information about a connection attempting to join
// the broker, collected before a client object is created.
type AuthContext struct {
	// RemoteAddr is the remote address of the connection.
	RemoteAddr net.Addr

	// LocalAddr is the local address of the connection.
	LocalAddr net.Addr

	// Token is the credential presented during transport setup, such as
	// a bearer token on the WebSocket upgrade request. Empty for
	// transports that carry none.
	Token string
}

// AuthResult represents the result of an authentication attempt.
type AuthResult struct {
	// Allowed indicates whether the connection may proceed.
	Allowed bool

	// Reason is reported to the rejected connection, if set.
	Reason string
}

// Authenticator decides whether a new connection may become a client.
type Authenticator interface {
	// Authenticate is called once per connection, before registration.
	Authenticate(ctx context.Context, actx *AuthContext) (*AuthResult, error)
}

// AuthenticatorFunc is a function type that implements Authenticator.
type AuthenticatorFunc func(ctx context.Context, actx *AuthContext) (*AuthResult, error)

// Authenticate calls the underlying function.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, actx *AuthContext) (*AuthResult, error) {
	return f(ctx, actx)
}

const (
	tokenSaltLength = 16
	tokenKeyLength  = 32
)

// DefaultTokenIterations is the default PBKDF2 iteration count for
// TokenStore.
const DefaultTokenIterations = 4096

type tokenEntry struct {
	salt []byte
	hash []byte
}

// TokenStore is an Authenticator holding PBKDF2-derived hashes of shared
// tokens. Tokens are never stored in the clear and verification uses a
// constant-time comparison.
type TokenStore struct {
	mu         sync.RWMutex
	entries    map[string]tokenEntry
	iterations int
}

// NewTokenStore creates an empty token store. iterations <= 0 selects
// DefaultTokenIterations.
func NewTokenStore(iterations int) *TokenStore {
	if iterations <= 0 {
		iterations = DefaultTokenIterations
	}
	return &TokenStore{
		entries:    make(map[string]tokenEntry),
		iterations: iterations,
	}
}

// Add derives and stores the hash for a named token.
func (s *TokenStore) Add(name, token string) error {
	salt := make([]byte, tokenSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return err
	}

	hash := pbkdf2.Key([]byte(token), salt, s.iterations, tokenKeyLength, sha256.New)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = tokenEntry{salt: salt, hash: hash}
	return nil
}

// Remove deletes a named token.
func (s *TokenStore) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// Verify reports whether the presented token matches any stored entry.
func (s *TokenStore) Verify(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.entries {
		derived := pbkdf2.Key([]byte(token), entry.salt, s.iterations, tokenKeyLength, sha256.New)
		if subtle.ConstantTimeCompare(derived, entry.hash) == 1 {
			return true
		}
	}
	return false
}

// Authenticate implements Authenticator: the connection is allowed when
// its token matches a stored entry.
func (s *TokenStore) Authenticate(_ context.Context, actx *AuthContext) (*AuthResult, error) {
	if s.Verify(actx.Token) {
		return &AuthResult{Allowed: true}, nil
	}
	return &AuthResult{Allowed: false, Reason: "invalid token"}, nil
}
