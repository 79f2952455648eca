package authgate

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"

	autherrors "go.pilab.hu/authgate/errors"
)

const (
	// DefaultKeySetTTL bounds how long a fetched key set is reused before
	// the next lookup refetches it.
	DefaultKeySetTTL = 24 * time.Hour

	// DefaultFetchTimeout bounds the outbound JWKS fetch so a slow
	// provider cannot hang verification.
	DefaultFetchTimeout = 5 * time.Second
)

// KeyResolver resolves the RSA signing key referenced by a token header
// against the issuer's published JWKS document. Key sets are cached per
// issuer with a TTL; concurrent refetches of the same issuer are harmless
// (idempotent, last write wins).
type KeyResolver struct {
	httpClient *http.Client
	cache      *ttlcache.Cache[string, *JSONWebKeySet]
	ttl        time.Duration
}

// NewKeyResolver creates a resolver with its own key-set cache. Call Close
// to stop the cache's cleanup goroutine.
func NewKeyResolver(fetchTimeout, keySetTTL time.Duration) *KeyResolver {
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	if keySetTTL <= 0 {
		keySetTTL = DefaultKeySetTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *JSONWebKeySet](keySetTTL),
		ttlcache.WithDisableTouchOnHit[string, *JSONWebKeySet](),
	)
	go cache.Start()

	return &KeyResolver{
		httpClient: &http.Client{Timeout: fetchTimeout},
		cache:      cache,
		ttl:        keySetTTL,
	}
}

// CertsURL derives the provider's key-discovery endpoint from the issuer
// URL, e.g. https://idp.example/realms/demo -> .../protocol/openid-connect/certs.
func CertsURL(issuer string) string {
	return strings.TrimRight(issuer, "/") + "/protocol/openid-connect/certs"
}

// ResolveKey returns the signing key for kid published by issuer. On a kid
// miss against a cached set it forces a single refetch to tolerate provider
// key rotation, then gives up with KeyNotFound.
func (r *KeyResolver) ResolveKey(ctx context.Context, issuer, kid string) (*rsa.PublicKey, error) {
	if item := r.cache.Get(issuer); item != nil {
		if key, ok := item.Value().SigningKey(kid); ok {
			return r.publicKey(key)
		}
		log.Debug().Str("issuer", issuer).Str("kid", kid).
			Msg("kid not in cached key set, forcing refetch")
	}

	keySet, err := r.fetchKeySet(ctx, issuer)
	if err != nil {
		return nil, err
	}
	r.cache.Set(issuer, keySet, r.ttl)

	key, ok := keySet.SigningKey(kid)
	if !ok {
		return nil, autherrors.NewKeyNotFound(kid)
	}
	return r.publicKey(key)
}

func (r *KeyResolver) publicKey(key *JSONWebKey) (*rsa.PublicKey, error) {
	pub, err := key.RSAPublicKey()
	if err != nil {
		return nil, autherrors.NewKeyFetchError(fmt.Sprintf("unusable signing key %q: %v", key.Kid, err))
	}
	return pub, nil
}

func (r *KeyResolver) fetchKeySet(ctx context.Context, issuer string) (*JSONWebKeySet, error) {
	url := CertsURL(issuer)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, autherrors.NewKeyFetchError(fmt.Sprintf("building JWKS request: %v", err))
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("JWKS fetch failed")
		return nil, autherrors.NewKeyFetchError(fmt.Sprintf("fetching JWKS: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("JWKS endpoint returned non-200")
		return nil, autherrors.NewKeyFetchError(fmt.Sprintf("JWKS endpoint returned status %d", resp.StatusCode))
	}

	var keySet JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&keySet); err != nil {
		return nil, autherrors.NewKeyFetchError(fmt.Sprintf("decoding JWKS response: %v", err))
	}
	if len(keySet.Keys) == 0 {
		return nil, autherrors.NewKeyFetchError("JWKS response contains no keys")
	}

	log.Debug().Str("issuer", issuer).Int("keys", len(keySet.Keys)).Msg("fetched JWKS key set")
	return &keySet, nil
}

// Close stops the cache cleanup goroutine.
func (r *KeyResolver) Close() {
	r.cache.Stop()
}
