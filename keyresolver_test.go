package authgate

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	autherrors "go.pilab.hu/authgate/errors"
)

// jwksServer serves a mutable key set at the Keycloak certs path and counts
// fetches.
type jwksServer struct {
	*httptest.Server
	fetches atomic.Int64
	keys    atomic.Value // JSONWebKeySet
}

func newJWKSServer(t *testing.T, keys ...JSONWebKey) *jwksServer {
	t.Helper()
	srv := &jwksServer{}
	srv.keys.Store(JSONWebKeySet{Keys: keys})
	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/protocol/openid-connect/certs" {
			http.NotFound(w, r)
			return
		}
		srv.fetches.Add(1)
		_ = json.NewEncoder(w).Encode(srv.keys.Load())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCertsURL(t *testing.T) {
	assert.Equal(t,
		"https://idp.example/realms/demo/protocol/openid-connect/certs",
		CertsURL("https://idp.example/realms/demo"))
	assert.Equal(t,
		"https://idp.example/realms/demo/protocol/openid-connect/certs",
		CertsURL("https://idp.example/realms/demo/"))
}

func TestResolveKeyCachesKeySet(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := newJWKSServer(t, testWebKey(t, "key-1", &key.PublicKey))

	resolver := NewKeyResolver(time.Second, time.Hour)
	defer resolver.Close()

	ctx := context.Background()
	first, err := resolver.ResolveKey(ctx, srv.URL, "key-1")
	require.NoError(t, err)
	second, err := resolver.ResolveKey(ctx, srv.URL, "key-1")
	require.NoError(t, err)

	assert.Zero(t, first.N.Cmp(second.N))
	assert.Equal(t, int64(1), srv.fetches.Load(), "second lookup must hit the cache")
}

func TestResolveKeyRefetchesOnRotation(t *testing.T) {
	oldKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := newJWKSServer(t, testWebKey(t, "old-kid", &oldKey.PublicKey))

	resolver := NewKeyResolver(time.Second, time.Hour)
	defer resolver.Close()

	ctx := context.Background()
	_, err = resolver.ResolveKey(ctx, srv.URL, "old-kid")
	require.NoError(t, err)

	// Provider rotates its keys; the cached set no longer matches, so a
	// single forced refetch must pick up the new kid.
	newKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv.keys.Store(JSONWebKeySet{Keys: []JSONWebKey{testWebKey(t, "new-kid", &newKey.PublicKey)}})

	resolved, err := resolver.ResolveKey(ctx, srv.URL, "new-kid")
	require.NoError(t, err)
	assert.Zero(t, resolved.N.Cmp(newKey.PublicKey.N))
	assert.Equal(t, int64(2), srv.fetches.Load())
}

func TestResolveKeyUnknownKid(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := newJWKSServer(t, testWebKey(t, "key-1", &key.PublicKey))

	resolver := NewKeyResolver(time.Second, time.Hour)
	defer resolver.Close()

	_, err = resolver.ResolveKey(context.Background(), srv.URL, "nope")
	require.Error(t, err)
	assert.Equal(t, autherrors.KeyNotFound, autherrors.ReasonOf(err))
}

func TestResolveKeyFetchFailures(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(srv.Close)

		resolver := NewKeyResolver(time.Second, time.Hour)
		defer resolver.Close()

		_, err := resolver.ResolveKey(context.Background(), srv.URL, "key-1")
		require.Error(t, err)
		assert.Equal(t, autherrors.KeyFetchError, autherrors.ReasonOf(err))
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			<-release
		}))
		t.Cleanup(func() {
			close(release)
			srv.Close()
		})

		resolver := NewKeyResolver(50*time.Millisecond, time.Hour)
		defer resolver.Close()

		_, err := resolver.ResolveKey(context.Background(), srv.URL, "key-1")
		require.Error(t, err)
		assert.Equal(t, autherrors.KeyFetchError, autherrors.ReasonOf(err))
	})

	t.Run("empty key set", func(t *testing.T) {
		srv := newJWKSServer(t)

		resolver := NewKeyResolver(time.Second, time.Hour)
		defer resolver.Close()

		_, err := resolver.ResolveKey(context.Background(), srv.URL, "key-1")
		require.Error(t, err)
		assert.Equal(t, autherrors.KeyFetchError, autherrors.ReasonOf(err))
	})

	t.Run("unreachable", func(t *testing.T) {
		resolver := NewKeyResolver(200*time.Millisecond, time.Hour)
		defer resolver.Close()

		_, err := resolver.ResolveKey(context.Background(), "http://127.0.0.1:1", "key-1")
		require.Error(t, err)
		assert.Equal(t, autherrors.KeyFetchError, autherrors.ReasonOf(err))
	})
}
