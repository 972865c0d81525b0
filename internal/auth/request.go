package auth

import (
	"context"
	"net/http"
	"strings"
)

// FromRequest extracts and verifies credentials from an HTTP request, in
// precedence order: X-API-Key header, Authorization bearer, then the
// omnara-key./omnara-supabase. subprotocol forms. The matched subprotocol is
// returned so WebSocket endpoints can echo it on accept.
//
// A bearer Authorization header may carry either an API key or a Supabase
// token; API-key decoding is attempted first since it needs no network call.
func (v *Verifier) FromRequest(ctx context.Context, r *http.Request) (Credentials, string, error) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		creds, err := v.FromAPIKey(key)
		return creds, "", err
	}

	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return Credentials{}, "", ErrInvalidCredentials
		}
		if creds, err := v.FromAPIKey(token); err == nil {
			return creds, "", nil
		}
		creds, err := v.FromBearer(ctx, token)
		return creds, "", err
	}

	for _, proto := range subprotocols(r) {
		if key, ok := strings.CutPrefix(proto, SubprotocolKeyPrefix); ok {
			creds, err := v.FromAPIKey(key)
			return creds, proto, err
		}
		if token, ok := strings.CutPrefix(proto, SubprotocolBearerPrefix); ok {
			creds, err := v.FromBearer(ctx, token)
			return creds, proto, err
		}
	}

	return Credentials{}, "", ErrMissingCredentials
}

func subprotocols(r *http.Request) []string {
	var protos []string
	for _, h := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(h, ",") {
			if p = strings.TrimSpace(p); p != "" {
				protos = append(protos, p)
			}
		}
	}
	return protos
}
