// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-with-enough-bytes")

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user-1",
		"name":  "Alice",
		"roles": []string{"member"},
		"iss":   "gateway-test",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func TestNewJWTValidator_EmptySecret(t *testing.T) {
	t.Parallel()
	_, err := NewJWTValidator(JWTValidatorConfig{})
	require.Error(t, err)
}

func TestJWTValidator_ValidateToken(t *testing.T) {
	t.Parallel()

	validator, err := NewJWTValidator(JWTValidatorConfig{Secret: testSecret, Issuer: "gateway-test"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   func(t *testing.T) string
		wantErr error
	}{
		{
			name:  "valid token",
			token: func(t *testing.T) string { t.Helper(); return signToken(t, testSecret, validClaims()) },
		},
		{
			name: "wrong issuer",
			token: func(t *testing.T) string {
				t.Helper()
				c := validClaims()
				c["iss"] = "someone-else"
				return signToken(t, testSecret, c)
			},
			wantErr: ErrInvalidIssuer,
		},
		{
			name: "expired",
			token: func(t *testing.T) string {
				t.Helper()
				c := validClaims()
				c["exp"] = time.Now().Add(-time.Minute).Unix()
				return signToken(t, testSecret, c)
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "missing expiry",
			token: func(t *testing.T) string {
				t.Helper()
				c := validClaims()
				delete(c, "exp")
				return signToken(t, testSecret, c)
			},
			wantErr: ErrInvalidToken,
		},
		{
			name:    "wrong key",
			token:   func(t *testing.T) string { t.Helper(); return signToken(t, []byte("another-secret"), validClaims()) },
			wantErr: ErrInvalidToken,
		},
		{
			name:    "garbage",
			token:   func(*testing.T) string { return "not-a-jwt" },
			wantErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id, err := validator.ValidateToken(tt.token(t))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "user-1", id.Subject)
			assert.Equal(t, "Alice", id.Name)
			assert.Equal(t, []string{"member"}, id.Roles)
		})
	}
}

func TestJWTValidator_Middleware(t *testing.T) {
	t.Parallel()

	validator, err := NewJWTValidator(JWTValidatorConfig{Secret: testSecret})
	require.NoError(t, err)

	var seen *Identity
	handler := validator.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, testSecret, validClaims()), http.StatusOK},
	}

	for _, tt := range tests { //nolint:paralleltest // shares seen
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				require.NotNil(t, seen)
				assert.Equal(t, "user-1", seen.Subject)
			} else {
				assert.Nil(t, seen)
			}
		})
	}
}

func TestAnonymousMiddleware(t *testing.T) {
	t.Parallel()

	var seen *Identity
	handler := AnonymousMiddleware(AdminRole)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotNil(t, seen)
	assert.Equal(t, "anonymous", seen.Subject)
	assert.True(t, seen.IsAdmin())
}
