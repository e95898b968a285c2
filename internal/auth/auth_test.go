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

const testSecret = "test-secret"

func TestVerifier_UserID(t *testing.T) {
	v := NewVerifier(testSecret, time.Hour)
	token, err := v.IssueToken(42)
	require.NoError(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": float64(42),
		"exp":     time.Now().Add(-time.Hour).Unix(),
	})
	expiredStr, _ := expired.SignedString([]byte(testSecret))

	fresh := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": float64(42),
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	forgedStr, _ := fresh.SignedString([]byte("wrong-key"))

	noUser := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	noUserStr, _ := noUser.SignedString([]byte(testSecret))

	tests := []struct {
		name         string
		token        string
		expectUserID int64
		expectError  bool
	}{
		{name: "Success", token: token, expectUserID: 42},
		{name: "ExpiredToken", token: expiredStr, expectError: true},
		{name: "InvalidSignature", token: forgedStr, expectError: true},
		{name: "MissingUserID", token: noUserStr, expectError: true},
		{name: "EmptyToken", token: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, err := v.UserID(tt.token)
			if tt.expectError {
				assert.ErrorIs(t, err, ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectUserID, userID)
		})
	}
}

func TestVerifier_Middleware(t *testing.T) {
	v := NewVerifier(testSecret, time.Hour)
	token, err := v.IssueToken(7)
	require.NoError(t, err)

	var seen int64
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name           string
		header         string
		expectedStatus int
		expectedUser   int64
	}{
		{"Bearer", "Bearer " + token, http.StatusNoContent, 7},
		{"BareToken", token, http.StatusNoContent, 7},
		{"Missing", "", http.StatusUnauthorized, 0},
		{"Garbage", "Bearer nope", http.StatusUnauthorized, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = 0
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, tt.expectedUser, seen)
			if tt.expectedStatus == http.StatusUnauthorized {
				assert.Contains(t, rr.Body.String(), `"error"`)
			}
		})
	}
}

func TestUserIDFrom_Empty(t *testing.T) {
	_, ok := UserIDFrom(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.False(t, ok)
}
