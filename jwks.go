package authgate

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
)

// JSONWebKey is a single entry of a provider-published JWKS document.
type JSONWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JSONWebKeySet is the document served by the provider's certs endpoint.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// SigningKey looks up the key with the given kid that is usable for
// signature verification. A key with no "use" tag is treated as usable.
func (s *JSONWebKeySet) SigningKey(kid string) (*JSONWebKey, bool) {
	for i := range s.Keys {
		key := &s.Keys[i]
		if key.Kid == kid && (key.Use == "" || key.Use == "sig") {
			return key, true
		}
	}
	return nil, false
}

// RSAPublicKey reconstructs the RSA public key from the base64url-encoded
// modulus and exponent.
func (k *JSONWebKey) RSAPublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, fmt.Errorf("key %q has empty modulus or exponent", k.Kid)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
