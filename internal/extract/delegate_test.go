package extract

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelegateFilename(t *testing.T) {
	assert.Equal(t, "jane_doe.mp4", DelegateFilename("jane_doe"))
	assert.Equal(t, "insta_1700000000000.mp4", DelegateFilename("insta_1700000000000"))
	assert.Equal(t, "cafe__au_lait.mp4", DelegateFilename("café, au lait"))

	long := DelegateFilename(string(bytes.Repeat([]byte("a"), 120)))
	assert.Len(t, long, 50+len(".mp4"))
}

func TestHTTPDelegate_Enqueue(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte("video-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewHTTPDelegate(dir, srv.Client(), testLogger())
	defer d.Close()

	dest, err := d.Enqueue(context.Background(), srv.URL+"/v.mp4", "jane_doe")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "jane_doe.mp4"), dest)

	d.Wait()
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	assert.Equal(t, delegateUserAgent, got.Get("User-Agent"))
	assert.Equal(t, "*/*", got.Get("Accept"))
	assert.Equal(t, "gzip, deflate", got.Get("Accept-Encoding"))
}

func TestHTTPDelegate_DecodesGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("compressed-video"))
	gz.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	d := NewHTTPDelegate(t.TempDir(), srv.Client(), testLogger())
	dest, err := d.Enqueue(context.Background(), srv.URL, "clip")
	require.NoError(t, err)
	d.Wait()

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "compressed-video", string(data))
}

func TestHTTPDelegate_FailureLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewHTTPDelegate(t.TempDir(), srv.Client(), testLogger())
	dest, err := d.Enqueue(context.Background(), srv.URL, "clip")
	require.NoError(t, err, "failures are not reported to the caller")
	d.Wait()

	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(dest + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestHTTPDelegate_InvalidURL(t *testing.T) {
	d := NewHTTPDelegate(t.TempDir(), nil, testLogger())
	_, err := d.Enqueue(context.Background(), "://bad", "clip")
	assert.Error(t, err)
}
