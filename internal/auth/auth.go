// Package auth maps connection credentials to an owning identity. Two
// credential forms exist: API keys (HS256 JWTs signed by the relay's key
// issuer) and Supabase bearer tokens validated against the identity service.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Subprotocol prefixes for clients that cannot set headers (browsers).
const (
	SubprotocolKeyPrefix    = "omnara-key."
	SubprotocolBearerPrefix = "omnara-supabase."
)

var (
	ErrMissingCredentials = errors.New("missing authentication credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Message returns the wire-safe error string for an auth failure. The
// underlying cause never reaches the wire.
func Message(err error) string {
	if errors.Is(err, ErrMissingCredentials) {
		return "Missing authentication credentials"
	}
	return "Invalid credentials"
}

// Credentials is the verified identity behind a connection.
type Credentials struct {
	OwnerID string

	// APIKeyHash is the SHA-256 of the raw API key. Empty for bearer
	// credentials; upstream connections require it to be set.
	APIKeyHash string
}

type cacheEntry struct {
	ownerID   string
	fetchedAt time.Time
}

const (
	bearerCacheTTL = 5 * time.Minute
	bearerCacheMax = 1024
)

// Verifier validates credentials. Bearer lookups are cached in-process for
// up to five minutes; the cache is cleared wholesale when it outgrows
// bearerCacheMax.
type Verifier struct {
	secret      []byte
	supabaseURL string
	supabaseKey string
	client      *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewVerifier(jwtSecret []byte, supabaseURL, supabaseAnonKey string) *Verifier {
	return &Verifier{
		secret:      jwtSecret,
		supabaseURL: strings.TrimRight(supabaseURL, "/"),
		supabaseKey: supabaseAnonKey,
		client:      &http.Client{Timeout: 5 * time.Second},
		cache:       make(map[string]cacheEntry),
	}
}

type apiKeyClaims struct {
	jwt.RegisteredClaims
	KeyType string `json:"typ,omitempty"`
}

// FromAPIKey decodes an API key as a signed JWT and hashes the raw key for
// registry lookups.
func (v *Verifier) FromAPIKey(key string) (Credentials, error) {
	if key == "" {
		return Credentials{}, ErrMissingCredentials
	}
	token, err := jwt.ParseWithClaims(key, &apiKeyClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	claims, ok := token.Claims.(*apiKeyClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Credentials{}, fmt.Errorf("%w: missing subject", ErrInvalidCredentials)
	}
	if claims.KeyType != "" && claims.KeyType != "api_key" {
		return Credentials{}, fmt.Errorf("%w: unknown key type %q", ErrInvalidCredentials, claims.KeyType)
	}
	return Credentials{OwnerID: claims.Subject, APIKeyHash: HashKey(key)}, nil
}

// HashKey returns the hex SHA-256 of a raw API key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
