package imageproxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-reader/app/database"
	"github.com/lysyi3m/rss-reader/app/fetcher"
	"github.com/lysyi3m/rss-reader/app/netguard"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

type proxyFixture struct {
	service *Service
	images  *database.ImageRepo
	hits    *atomic.Int32
	server  *httptest.Server
}

func newProxyFixture(t *testing.T, handler http.HandlerFunc) *proxyFixture {
	t.Helper()

	hits := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	db, err := database.OpenMigrated(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	guard, err := netguard.New(netguard.Config{AllowCIDRs: []string{"127.0.0.0/8"}})
	require.NoError(t, err)

	images := database.NewImageRepository(db)
	service := NewService(NewSigner(testSecret, ""), images,
		fetcher.New(guard, fetcher.Options{Timeout: 5 * time.Second}),
		Options{MaxBytes: 1 << 20, MaxAge: time.Hour})

	return &proxyFixture{service: service, images: images, hits: hits, server: server}
}

func (f *proxyFixture) request(t *testing.T, path string) (string, string) {
	t.Helper()
	u, err := url.Parse(f.service.Signer().ProxyURL(f.server.URL + path))
	require.NoError(t, err)
	return u.Query().Get("url"), u.Query().Get("s")
}

func TestService_FetchesAndCaches(t *testing.T) {
	f := newProxyFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("ETag", `"img1"`)
		_, _ = w.Write(pngBytes)
	})

	encoded, sig := f.request(t, "/cat.png")

	image, err := f.service.Serve(context.Background(), encoded, sig)
	require.NoError(t, err)
	assert.Equal(t, "image/png", image.ContentType)
	assert.Equal(t, pngBytes, image.Data)
	assert.Equal(t, `"img1"`, image.ETag)

	again, err := f.service.Serve(context.Background(), encoded, sig)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, again.Data)
	assert.Equal(t, int32(1), f.hits.Load(), "fresh cache hit must not refetch")

	stored, err := f.images.FindImage(database.ObjectKindProxiedImage, ObjectID(f.server.URL+"/cat.png"))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, f.server.URL+"/cat.png", stored.SourceURL)
}

func TestService_TamperedSignatureNeverFetches(t *testing.T) {
	f := newProxyFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	})

	encoded, sig := f.request(t, "/cat.png")
	tampered := []byte(sig)
	if tampered[0] == 'Q' {
		tampered[0] = 'R'
	} else {
		tampered[0] = 'Q'
	}

	_, err := f.service.Serve(context.Background(), encoded, string(tampered))
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Zero(t, f.hits.Load())
}

func TestService_RevalidatesStaleImage(t *testing.T) {
	var conditional atomic.Int32
	f := newProxyFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(pngBytes)
	})

	encoded, sig := f.request(t, "/cat.png")
	_, err := f.service.Serve(context.Background(), encoded, sig)
	require.NoError(t, err)

	f.service.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	image, err := f.service.Serve(context.Background(), encoded, sig)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, image.Data)
	assert.Equal(t, int32(1), conditional.Load())
	assert.Equal(t, int32(2), f.hits.Load())

	stored, err := f.images.FindImage(database.ObjectKindProxiedImage, ObjectID(f.server.URL+"/cat.png"))
	require.NoError(t, err)
	assert.True(t, stored.FetchedAt.After(time.Now().Add(time.Hour)), "304 must refresh fetched_at")
}

func TestService_SniffsOctetStream(t *testing.T) {
	f := newProxyFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pngBytes)
	})

	encoded, sig := f.request(t, "/blob")
	image, err := f.service.Serve(context.Background(), encoded, sig)
	require.NoError(t, err)
	assert.Equal(t, "image/png", image.ContentType)
}

func TestService_RejectsNonImages(t *testing.T) {
	f := newProxyFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	})

	encoded, sig := f.request(t, "/page")
	_, err := f.service.Serve(context.Background(), encoded, sig)
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestService_UpstreamFailure(t *testing.T) {
	f := newProxyFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})

	encoded, sig := f.request(t, "/broken.png")
	_, err := f.service.Serve(context.Background(), encoded, sig)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestService_BlockedDestination(t *testing.T) {
	f := newProxyFixture(t, func(w http.ResponseWriter, r *http.Request) {})

	u, err := url.Parse(f.service.Signer().ProxyURL("http://169.254.169.254/latest/meta-data"))
	require.NoError(t, err)

	_, err = f.service.Serve(context.Background(), u.Query().Get("url"), u.Query().Get("s"))
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, netguard.ErrBlocked)
}
