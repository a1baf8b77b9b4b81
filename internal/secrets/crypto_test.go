package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BKyryl/iesi/pkg/schema"
)

func testCrypto(t *testing.T) *Crypto {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := New(Config{MasterKey: key})
	require.NoError(t, err)
	return c
}

func TestCrypto_EncryptDecrypt(t *testing.T) {
	c := testCrypto(t)

	token, err := c.Encrypt("s3cret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "ENC("))
	assert.NotContains(t, token, "s3cret")

	other, err := c.Encrypt("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, token, other, "nonce is random")

	plain, err := c.Decrypt("user=admin password=" + token + " again=" + other)
	require.NoError(t, err)
	assert.Equal(t, "user=admin password=s3cret again=s3cret", plain)
}

func TestCrypto_DecryptPlainText(t *testing.T) {
	plain, err := testCrypto(t).Decrypt("nothing to see")
	require.NoError(t, err)
	assert.Equal(t, "nothing to see", plain)
}

func TestCrypto_DecryptErrors(t *testing.T) {
	c := testCrypto(t)

	_, err := c.Decrypt("ENC(AAAA)")
	assert.True(t, schema.HasCode(err, schema.ErrCodeCrypto), "too short")

	token, err := c.Encrypt("x")
	require.NoError(t, err)
	otherKey := make([]byte, 32)
	other, err := New(Config{MasterKey: otherKey})
	require.NoError(t, err)
	_, err = other.Decrypt(token)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCrypto), "wrong key")
}

func TestRedact(t *testing.T) {
	c := testCrypto(t)
	token, err := c.Encrypt("s3cret")
	require.NoError(t, err)

	assert.Equal(t, "pwd=***** ok", Redact("pwd="+token+" ok"))
	assert.Equal(t, "pwd=*****", c.Redact("pwd="+token))
	assert.Equal(t, "ENC(not base64!)", Redact("ENC(not base64!)"))
}

func TestNew_KeyDerivation(t *testing.T) {
	_, err := New(Config{MasterKey: []byte("short")})
	assert.True(t, schema.HasCode(err, schema.ErrCodeCrypto))

	_, err = New(Config{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeCrypto))

	_, err = New(Config{Passphrase: "p"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeCrypto))

	a, err := New(Config{Passphrase: "p", Salt: []byte("salt"), Iterations: 1000})
	require.NoError(t, err)
	b, err := New(Config{Passphrase: "p", Salt: []byte("salt"), Iterations: 1000})
	require.NoError(t, err)

	token, err := a.Encrypt("shared")
	require.NoError(t, err)
	plain, err := b.Decrypt(token)
	require.NoError(t, err)
	assert.Equal(t, "shared", plain)
}
