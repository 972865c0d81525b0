package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FromBearer validates a Supabase access token against the identity service
// and maps it to an owner. Results are cached; the hash field stays empty so
// bearer viewers see every session owned by the identity.
func (v *Verifier) FromBearer(ctx context.Context, token string) (Credentials, error) {
	if token == "" {
		return Credentials{}, ErrMissingCredentials
	}
	if owner, ok := v.cached(token); ok {
		if owner == "" {
			return Credentials{}, ErrInvalidCredentials
		}
		return Credentials{OwnerID: owner}, nil
	}

	owner, err := v.fetchUser(ctx, token)
	v.store(token, owner)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{OwnerID: owner}, nil
}

func (v *Verifier) fetchUser(ctx context.Context, token string) (string, error) {
	if v.supabaseURL == "" {
		return "", fmt.Errorf("%w: no identity service configured", ErrInvalidCredentials)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", v.supabaseURL+"/auth/v1/user", nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if v.supabaseKey != "" {
		req.Header.Set("apikey", v.supabaseKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: identity service status %d", ErrInvalidCredentials, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	var user struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &user); err != nil || user.ID == "" {
		return "", fmt.Errorf("%w: token maps to no subject", ErrInvalidCredentials)
	}
	return user.ID, nil
}

func (v *Verifier) cached(token string) (owner string, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.cache[token]
	if !ok || time.Since(entry.fetchedAt) >= bearerCacheTTL {
		return "", false
	}
	return entry.ownerID, true
}

// store caches a validation result, including negative ones so a bad token
// cannot hammer the identity service. Overflow clears the whole cache.
func (v *Verifier) store(token, owner string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.cache) >= bearerCacheMax {
		v.cache = make(map[string]cacheEntry)
	}
	v.cache[token] = cacheEntry{ownerID: owner, fetchedAt: time.Now()}
}
