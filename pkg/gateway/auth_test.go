package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signChallenge computes the signature a well-behaved client would send.
func signChallenge(challenge, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(challenge))
	return hex.EncodeToString(h.Sum(nil))
}

func TestAuthHandlerGenerateChallenge(t *testing.T) {
	auth := NewAuthHandler("test-secret")

	t.Run("should generate 32 random bytes as hex", func(t *testing.T) {
		challenge, err := auth.GenerateChallenge()
		require.NoError(t, err)
		assert.Len(t, challenge, 64)
	})

	t.Run("should never repeat challenges", func(t *testing.T) {
		first, err := auth.GenerateChallenge()
		require.NoError(t, err)
		second, err := auth.GenerateChallenge()
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})
}

func TestAuthHandlerVerifySignature(t *testing.T) {
	auth := NewAuthHandler("test-secret")
	challenge, err := auth.GenerateChallenge()
	require.NoError(t, err)

	tests := []struct {
		name      string
		signature string
		want      bool
	}{
		{"valid signature", signChallenge(challenge, "test-secret"), true},
		{"garbage signature", "not-a-signature", false},
		{"signature with wrong secret", signChallenge(challenge, "wrong-secret"), false},
		{"empty signature", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.VerifySignature(challenge, tt.signature))
		})
	}
}

func TestAuthHandlerHandleAuthResponse(t *testing.T) {
	auth := NewAuthHandler("test-secret")

	t.Run("valid signature authenticates the client", func(t *testing.T) {
		client := &Client{
			ID:        "client-1",
			Challenge: "challenge-1",
			State:     StateAuthenticating,
		}

		result := auth.HandleAuthResponse(client, signChallenge("challenge-1", "test-secret"))

		assert.True(t, result.Success)
		assert.Equal(t, "auth.success", result.Event)
		assert.True(t, client.Authenticated)
		assert.Equal(t, StateAuthenticated, client.State)
		assert.Equal(t, 0, client.AuthAttempts)
		assert.Empty(t, client.Challenge, "challenge is single use")
	})

	t.Run("invalid signature counts an attempt", func(t *testing.T) {
		client := &Client{ID: "client-1", Challenge: "challenge-1"}

		result := auth.HandleAuthResponse(client, "bogus")

		assert.False(t, result.Success)
		assert.Equal(t, "auth.failure", result.Event)
		assert.Equal(t, "Invalid signature", result.Message)
		assert.False(t, client.Authenticated)
		assert.Equal(t, 1, client.AuthAttempts)
	})

	t.Run("third failure blocks the client", func(t *testing.T) {
		client := &Client{ID: "client-1", Challenge: "challenge-1", AuthAttempts: 2}

		result := auth.HandleAuthResponse(client, "bogus")

		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "Too many failed attempts")
		assert.Equal(t, 3, client.AuthAttempts)
	})

	t.Run("response without an outstanding challenge fails", func(t *testing.T) {
		client := &Client{ID: "client-1"}

		result := auth.HandleAuthResponse(client, signChallenge("anything", "test-secret"))

		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "No challenge found")
	})
}
