/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package auth guards the state-changing HTTP routes with a static API key
// or an HS256 bearer token.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Config holds the accepted credentials. With neither set every request is
// rejected. An API key may be given in clear or as a bcrypt hash.
type Config struct {
	APIKeys   []string
	JWTSecret []byte
}

// Enabled reports whether any credential is configured.
func (c Config) Enabled() bool {
	return len(c.APIKeys) > 0 || len(c.JWTSecret) > 0
}

// Middleware validates API keys or JWT Bearer tokens carrying scope.
// API keys are expected in the X-Api-Key header.
func Middleware(cfg Config, scope string) func(http.Handler) http.Handler {
	hashes := make([][sha256.Size]byte, 0, len(cfg.APIKeys))
	var bcrypted [][]byte
	for _, k := range cfg.APIKeys {
		switch {
		case k == "":
		case IsHashedKey(k):
			bcrypted = append(bcrypted, []byte(k))
		default:
			hashes = append(hashes, sha256.Sum256([]byte(k)))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get("X-Api-Key"); key != "" {
				if matchKey(hashes, key) || matchHashedKey(bcrypted, key) {
					ctx := WithPrincipal(r.Context(), Principal{Subject: "api-key", Method: "api_key"})
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
				unauthorized(w)
				return
			}

			if len(cfg.JWTSecret) > 0 {
				if token := extractToken(r); token != "" {
					claims, err := Parse(cfg.JWTSecret, token)
					if err == nil && claims.Scope == scope {
						ctx := WithPrincipal(r.Context(), Principal{Subject: claims.Subject, Method: "jwt"})
						next.ServeHTTP(w, r.WithContext(ctx))
						return
					}
				}
			}

			unauthorized(w)
		})
	}
}

// matchKey compares digests so timing does not depend on key length.
func matchKey(hashes [][sha256.Size]byte, key string) bool {
	sum := sha256.Sum256([]byte(key))
	found := 0
	for _, h := range hashes {
		found |= subtle.ConstantTimeCompare(h[:], sum[:])
	}
	return found == 1
}

func matchHashedKey(hashes [][]byte, key string) bool {
	for _, h := range hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			return true
		}
	}
	return false
}

// IsHashedKey reports whether a configured key is a bcrypt hash.
func IsHashedKey(k string) bool {
	return strings.HasPrefix(k, "$2a$") || strings.HasPrefix(k, "$2b$") || strings.HasPrefix(k, "$2y$")
}

// HashKey returns the bcrypt hash of an API key for use in configuration.
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
