package security_test

import (
	"testing"
	"time"

	"github.com/cotoami/cotoami-node/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := security.HashPassword("correct horse battery staple")
	require.NoError(t, err)

	ok, err := security.VerifyPassword(hash, "correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = security.VerifyPassword(hash, "wrong password")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sess, err := security.NewSession(now, time.Hour)
	require.NoError(t, err)
	assert.Len(t, sess.Token, security.SessionTokenLength)

	assert.True(t, sess.Valid(sess.Token, now.Add(30*time.Minute)))
	assert.False(t, sess.Valid(sess.Token, now.Add(2*time.Hour)))
	assert.False(t, sess.Valid("wrong-token", now))
}

func TestPeerPasswordRoundTrip(t *testing.T) {
	key := security.DeriveKeyFromOwnerPassword("owner-pass")
	c, err := security.NewPeerPasswordCipher(key)
	require.NoError(t, err)

	blob, err := c.Encrypt([]byte("peer-secret"))
	require.NoError(t, err)

	plain, err := c.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "peer-secret", string(plain))
}

func TestRotatePeerPasswordPreservesCleartext(t *testing.T) {
	oldKey := security.DeriveKeyFromOwnerPassword("old-owner-pass")
	newKey := security.DeriveKeyFromOwnerPassword("new-owner-pass")

	oldCipher, err := security.NewPeerPasswordCipher(oldKey)
	require.NoError(t, err)
	blob, err := oldCipher.Encrypt([]byte("s3cr3t"))
	require.NoError(t, err)

	rotated, err := security.RotatePeerPassword(oldKey, newKey, blob)
	require.NoError(t, err)

	newCipher, err := security.NewPeerPasswordCipher(newKey)
	require.NoError(t, err)
	plain, err := newCipher.Decrypt(rotated)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", string(plain))
}

func TestChangeOwnerPasswordRejectsWrongCurrentPassword(t *testing.T) {
	hash, err := security.HashPassword("correct")
	require.NoError(t, err)

	_, _, err = security.ChangeOwnerPassword(hash, "incorrect", "new-pass", nil)
	require.Error(t, err)
}

func TestChangeOwnerPasswordRotatesAllPeers(t *testing.T) {
	hash, err := security.HashPassword("correct")
	require.NoError(t, err)

	oldKey := security.DeriveKeyFromOwnerPassword("correct")
	cipher, err := security.NewPeerPasswordCipher(oldKey)
	require.NoError(t, err)
	blob, err := cipher.Encrypt([]byte("peer-pw"))
	require.NoError(t, err)

	newHash, rotated, err := security.ChangeOwnerPassword(hash, "correct", "new-pass", []security.ServerNodePassword{
		{NodeID: "peer-1", Encrypted: blob},
	})
	require.NoError(t, err)
	require.Len(t, rotated, 1)

	ok, err := security.VerifyPassword(newHash, "new-pass")
	require.NoError(t, err)
	assert.True(t, ok)

	newCipher, err := security.NewPeerPasswordCipher(security.DeriveKeyFromOwnerPassword("new-pass"))
	require.NoError(t, err)
	plain, err := newCipher.Decrypt(rotated[0].Encrypted)
	require.NoError(t, err)
	assert.Equal(t, "peer-pw", string(plain))
}
