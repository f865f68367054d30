package assets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assetServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/images/missing.jpg":
			http.NotFound(w, r)
		default:
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("jpeg:" + r.URL.Path))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchIsIdempotent(t *testing.T) {
	var hits atomic.Int32
	srv := assetServer(t, &hits)
	dir := filepath.Join(t.TempDir(), "images")
	store := NewStore(WithHTTPClient(srv.Client()))

	outcome, err := store.Fetch(context.Background(), srv.URL+"/images/hotel.jpg", dir)
	require.NoError(t, err)
	assert.Equal(t, Downloaded, outcome)

	outcome, err = store.Fetch(context.Background(), srv.URL+"/images/hotel.jpg", dir)
	require.NoError(t, err)
	assert.Equal(t, Skipped, outcome)
	assert.Equal(t, int32(1), hits.Load(), "second fetch must not hit the network")

	data, err := os.ReadFile(filepath.Join(dir, "hotel.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg:/images/hotel.jpg", string(data))
}

func TestFetchFailureLeavesNoFile(t *testing.T) {
	var hits atomic.Int32
	srv := assetServer(t, &hits)
	dir := t.TempDir()
	store := NewStore(WithHTTPClient(srv.Client()))

	outcome, err := store.Fetch(context.Background(), srv.URL+"/images/missing.jpg", dir)
	assert.Equal(t, Failed, outcome)
	assert.ErrorContains(t, err, "404")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial or temp files may remain")
}

func TestFetchNetworkErrorIsFailed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	outcome, err := NewStore().Fetch(context.Background(), addr+"/images/a.jpg", t.TempDir())
	assert.Equal(t, Failed, outcome)
	assert.Error(t, err)
}

func TestFileName(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://cdn5.travelconline.com/images/fit-in/2000x0/filters:quality(75)/hotel.jpg", "hotel.jpg", false},
		{"https://cdn.example/a/b.png?w=300#x", "b.png", false},
		{"https://cdn.example/", "", true},
		{"https://cdn.example", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := FileName(tt.url)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoFileName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchAllSerializesSameDestination(t *testing.T) {
	var hits atomic.Int32
	srv := assetServer(t, &hits)
	dir := t.TempDir()
	store := NewStore(WithHTTPClient(srv.Client()))

	urls := []string{
		srv.URL + "/a/room.jpg",
		srv.URL + "/b/room.jpg",
		srv.URL + "/images/pool.jpg",
		srv.URL + "/images/missing.jpg",
	}
	reports := store.FetchAll(context.Background(), urls, dir, 4)
	require.Len(t, reports, 4)

	counts := Tally(reports)
	// Same derived name: one download, one skip, in whichever order they ran.
	assert.Equal(t, 2, counts[Downloaded])
	assert.Equal(t, 1, counts[Skipped])
	assert.Equal(t, 1, counts[Failed])
	assert.Equal(t, urls[3], reports[3].URL)
	assert.Equal(t, Failed, reports[3].Outcome)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestKeyedMutexForgetsReleasedKeys(t *testing.T) {
	k := keyedMutex{locks: make(map[string]*refLock)}
	unlock := k.Lock("a")
	assert.Len(t, k.locks, 1)
	unlock()
	assert.Empty(t, k.locks)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "downloaded", Downloaded.String())
	assert.Equal(t, "skipped", Skipped.String())
	assert.Equal(t, "failed", Failed.String())
}
