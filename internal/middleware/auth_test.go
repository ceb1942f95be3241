package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-32-bytes-long-xxxxx"

// makeToken creates a signed HS256 JWT from the given secret and claims.
func makeToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestNewHS256Validator_RequiresSecret(t *testing.T) {
	_, err := NewHS256Validator("")
	require.Error(t, err)
}

func TestHS256Validator_Validate(t *testing.T) {
	v, err := NewHS256Validator(testSecret)
	require.NoError(t, err)

	future := time.Now().Add(time.Hour).Unix()
	tests := []struct {
		name    string
		token   string
		wantErr bool
		wantSub string
		wantAud []string
	}{
		{
			name:    "valid_with_audience_list",
			token:   makeToken(t, testSecret, jwt.MapClaims{"sub": "alice", "iss": "issuer", "aud": []string{"a", "b"}, "exp": future}),
			wantSub: "alice",
			wantAud: []string{"a", "b"},
		},
		{
			name:    "valid_with_audience_string",
			token:   makeToken(t, testSecret, jwt.MapClaims{"sub": "bob", "aud": "a", "exp": future}),
			wantSub: "bob",
			wantAud: []string{"a"},
		},
		{
			name:    "expired",
			token:   makeToken(t, testSecret, jwt.MapClaims{"sub": "carol", "exp": time.Now().Add(-time.Hour).Unix()}),
			wantErr: true,
		},
		{
			name:    "wrong_secret",
			token:   makeToken(t, "another-secret", jwt.MapClaims{"sub": "dave", "exp": future}),
			wantErr: true,
		},
		{
			name:    "garbage",
			token:   "not.a.jwt",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.Validate(context.Background(), tt.token)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSub, claims.Subject)
			assert.Equal(t, tt.wantAud, claims.Audience)
		})
	}
}

func TestHS256Validator_RejectsOtherAlgorithms(t *testing.T) {
	v, err := NewHS256Validator(testSecret)
	require.NoError(t, err)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "eve"}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), signed)
	require.Error(t, err)
}

func TestBearerAuth(t *testing.T) {
	v, err := NewHS256Validator(testSecret)
	require.NoError(t, err)
	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{name: "valid", header: "Bearer " + makeToken(t, testSecret, jwt.MapClaims{"sub": "alice", "exp": future}), wantStatus: http.StatusOK, wantUser: "alice"},
		{name: "missing_header", wantStatus: http.StatusUnauthorized},
		{name: "wrong_scheme", header: "Basic dXNlcjpwYXNz", wantStatus: http.StatusUnauthorized},
		{name: "empty_token", header: "Bearer ", wantStatus: http.StatusUnauthorized},
		{name: "invalid_token", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "missing_subject", header: "Bearer " + makeToken(t, testSecret, jwt.MapClaims{"exp": future}), wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var user string
			handler := BearerAuth(v, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				user, _ = PrincipalFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/v1/query", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantUser, user)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}
