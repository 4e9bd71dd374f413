package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const fakeSum = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func sha256Hex(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func newTestDownloader() *Downloader {
	return New(Options{Retries: 3, Backoff: time.Millisecond, NoProgress: true})
}

func TestParseChecksumByFilename(t *testing.T) {
	t.Parallel()

	content := []byte(fakeSum + "  ggml-base.bin\n" +
		"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb  ggml-small.bin\n")

	parsed, err := ParseChecksum(content, "ggml-base.bin")
	require.NoError(t, err)
	require.Equal(t, fakeSum, parsed)

	_, err = ParseChecksum([]byte("no sums here"), "ggml-base.bin")
	require.Error(t, err)
}

func TestVerifyFileChecksum(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "payload.bin")
	payload := []byte("voxkey")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	require.NoError(t, VerifyFileChecksum(path, sha256Hex(payload)))
	require.NoError(t, VerifyFileChecksum(path, ""))
	require.ErrorIs(t, VerifyFileChecksum(path, "deadbeef"), ErrChecksumMismatch)
}

func TestFetchWithChecksumURL(t *testing.T) {
	t.Parallel()

	payload := []byte("hello-world")
	destination := filepath.Join(t.TempDir(), "models", "ggml-base.bin")
	checksumBody := fmt.Sprintf("%s  %s\n", sha256Hex(payload), filepath.Base(destination))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/artifact":
			_, _ = w.Write(payload)
		case "/checksums.txt":
			_, _ = w.Write([]byte(checksumBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	err := newTestDownloader().Fetch(context.Background(), Asset{
		URL:         server.URL + "/artifact",
		Destination: destination,
		ChecksumURL: server.URL + "/checksums.txt",
	})
	require.NoError(t, err)

	onDisk, err := os.ReadFile(destination)
	require.NoError(t, err)
	require.Equal(t, payload, onDisk)
	require.NoFileExists(t, destination+".part")
}

func TestFetchRejectsChecksumMismatch(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("tampered"))
	}))
	defer server.Close()

	destination := filepath.Join(t.TempDir(), "model.bin")
	err := newTestDownloader().Fetch(context.Background(), Asset{
		URL:         server.URL,
		Destination: destination,
		SHA256:      sha256Hex([]byte("original")),
	})
	require.ErrorIs(t, err, ErrChecksumMismatch)
	require.Equal(t, int32(3), hits.Load())
	require.NoFileExists(t, destination)
	require.NoFileExists(t, destination+".part")
}

func TestFetchRetriesServerErrors(t *testing.T) {
	t.Parallel()

	payload := []byte("eventually")
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	destination := filepath.Join(t.TempDir(), "model.bin")
	err := newTestDownloader().Fetch(context.Background(), Asset{URL: server.URL, Destination: destination, SHA256: sha256Hex(payload)})
	require.NoError(t, err)
	require.Equal(t, int32(3), hits.Load())
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	err := newTestDownloader().Fetch(context.Background(), Asset{URL: server.URL, Destination: filepath.Join(t.TempDir(), "model.bin")})
	require.ErrorContains(t, err, "404")
	require.Equal(t, int32(1), hits.Load())
}

func TestFetchStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(Options{Retries: 5, Backoff: time.Second, NoProgress: true}).Fetch(ctx, Asset{URL: server.URL, Destination: filepath.Join(t.TempDir(), "model.bin")})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchRequiresURLAndDestination(t *testing.T) {
	t.Parallel()

	d := newTestDownloader()
	require.Error(t, d.Fetch(context.Background(), Asset{Destination: "x"}))
	require.Error(t, d.Fetch(context.Background(), Asset{URL: "http://example.invalid"}))
}

func TestResolveChecksum(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(fakeSum + "  model.bin\n"))
	}))
	defer server.Close()

	checksum, err := newTestDownloader().ResolveChecksum(context.Background(), server.URL, "model.bin")
	require.NoError(t, err)
	require.Equal(t, fakeSum, checksum)
}
