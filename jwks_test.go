package authgate

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWebKey(t *testing.T, kid string, pub *rsa.PublicKey) JSONWebKey {
	t.Helper()
	return JSONWebKey{
		Kid: kid,
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func TestRSAPublicKeyRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	webKey := testWebKey(t, "key-1", &key.PublicKey)
	pub, err := webKey.RSAPublicKey()
	require.NoError(t, err)

	assert.Zero(t, pub.N.Cmp(key.PublicKey.N))
	assert.Equal(t, key.PublicKey.E, pub.E)
}

func TestRSAPublicKeyRejectsUnusableKeys(t *testing.T) {
	tests := []struct {
		name string
		key  JSONWebKey
	}{
		{"wrong kty", JSONWebKey{Kid: "k", Kty: "EC", N: "AQAB", E: "AQAB"}},
		{"bad modulus", JSONWebKey{Kid: "k", Kty: "RSA", N: "!!!", E: "AQAB"}},
		{"bad exponent", JSONWebKey{Kid: "k", Kty: "RSA", N: "AQAB", E: "!!!"}},
		{"empty modulus", JSONWebKey{Kid: "k", Kty: "RSA", N: "", E: "AQAB"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.key.RSAPublicKey()
			assert.Error(t, err)
		})
	}
}

func TestSigningKeyLookup(t *testing.T) {
	set := JSONWebKeySet{Keys: []JSONWebKey{
		{Kid: "enc-key", Use: "enc"},
		{Kid: "sig-key", Use: "sig"},
		{Kid: "untagged-key"},
	}}

	key, ok := set.SigningKey("sig-key")
	require.True(t, ok)
	assert.Equal(t, "sig-key", key.Kid)

	// A key tagged for encryption must not verify signatures.
	_, ok = set.SigningKey("enc-key")
	assert.False(t, ok)

	// No use tag counts as usable.
	_, ok = set.SigningKey("untagged-key")
	assert.True(t, ok)

	_, ok = set.SigningKey("absent")
	assert.False(t, ok)
}
