package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New([]byte("a master key of arbitrary length"))
	require.NoError(t, err)

	plaintext := []byte("source-forge-personal-access-token")
	ciphertext, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)
	require.Equal(t, byte(VersionOne), ciphertext[0])

	decrypted, err := c.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	c, err := New([]byte("master-key"))
	require.NoError(t, err)

	a, err := c.Encrypt([]byte("token"))
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("token"))
	require.NoError(t, err)
	require.NotEqual(t, a, b, "distinct nonces must yield distinct ciphertext")
}

func TestNewRejectsEmptyKey(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestDecryptRejectsTruncatedCiphertext(t *testing.T) {
	c, err := New([]byte("master-key"))
	require.NoError(t, err)

	_, err = c.Decrypt([]byte{byte(VersionOne)})
	require.Error(t, err)

	_, err = c.Decrypt(nil)
	require.Error(t, err)
}

func TestDecryptRejectsUnknownVersion(t *testing.T) {
	c, err := New([]byte("master-key"))
	require.NoError(t, err)

	ciphertext, err := c.Encrypt([]byte("token"))
	require.NoError(t, err)
	ciphertext[0] = 0xFF

	_, err = c.Decrypt(ciphertext)
	require.Error(t, err)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	c, err := New([]byte("master-key"))
	require.NoError(t, err)

	ciphertext, err := c.Encrypt([]byte("token"))
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err = c.Decrypt(ciphertext)
	require.Error(t, err)
}

func TestDifferentMasterKeysProduceIncompatibleCiphertext(t *testing.T) {
	a, err := New([]byte("key-a"))
	require.NoError(t, err)
	b, err := New([]byte("key-b"))
	require.NoError(t, err)

	ciphertext, err := a.Encrypt([]byte("token"))
	require.NoError(t, err)

	_, err = b.Decrypt(ciphertext)
	require.Error(t, err)
}

func TestNoopRoundTrips(t *testing.T) {
	var n Noop
	plaintext := []byte("unencrypted-in-tests")
	ciphertext, err := n.Encrypt(plaintext)
	require.NoError(t, err)
	require.Equal(t, plaintext, ciphertext)

	decrypted, err := n.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}
