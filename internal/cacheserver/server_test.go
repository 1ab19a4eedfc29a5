package cacheserver_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polykit/polykit/internal/adapters/logger"
	"github.com/polykit/polykit/internal/cacheserver"
)

const testKey = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

func newTestServer(t *testing.T, maxSize int64) *httptest.Server {
	t.Helper()
	storage, err := cacheserver.NewStorage(t.TempDir(), maxSize)
	require.NoError(t, err)
	server := cacheserver.New(storage, cacheserver.NewMetrics(), logger.NewWriter(io.Discard))
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doPut(t *testing.T, srv *httptest.Server, key string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/v1/artifacts/"+key, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestPut_ThenGet(t *testing.T) {
	srv := newTestServer(t, 1<<20)
	payload := []byte("zstd-framed tar bytes")

	resp := doPut(t, srv, testKey, payload)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	getResp, err := srv.Client().Get(srv.URL + "/v1/artifacts/" + testKey)
	require.NoError(t, err)
	defer getResp.Body.Close()

	assert.Equal(t, http.StatusOK, getResp.StatusCode)
	assert.Equal(t, "application/zstd", getResp.Header.Get("Content-Type"))
	assert.Equal(t, strconv.Itoa(len(payload)), getResp.Header.Get("Content-Length"))

	body, err := io.ReadAll(getResp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, body)

	sum := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), getResp.Header.Get("X-Artifact-Hash"))
}

func TestPut_DuplicateConflicts(t *testing.T) {
	srv := newTestServer(t, 1<<20)

	assert.Equal(t, http.StatusCreated, doPut(t, srv, testKey, []byte("first")).StatusCode)
	assert.Equal(t, http.StatusConflict, doPut(t, srv, testKey, []byte("second")).StatusCode)

	// The first writer's content survives.
	getResp, err := srv.Client().Get(srv.URL + "/v1/artifacts/" + testKey)
	require.NoError(t, err)
	defer getResp.Body.Close()
	body, _ := io.ReadAll(getResp.Body)
	assert.Equal(t, "first", string(body))
}

func TestPut_ConcurrentFirstWriterWins(t *testing.T) {
	srv := newTestServer(t, 1<<20)
	payload := []byte("identical artifact content")

	const writers = 8
	statuses := make([]int, writers)
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPut, srv.URL+"/v1/artifacts/"+testKey, bytes.NewReader(payload))
			resp, err := srv.Client().Do(req)
			if err != nil {
				return
			}
			defer resp.Body.Close()
			statuses[i] = resp.StatusCode
		}()
	}
	wg.Wait()

	created := 0
	for _, status := range statuses {
		assert.Contains(t, []int{http.StatusCreated, http.StatusConflict}, status)
		if status == http.StatusCreated {
			created++
		}
	}
	assert.GreaterOrEqual(t, created, 1)

	// A follow-up GET returns a complete body matching its own hash header.
	getResp, err := srv.Client().Get(srv.URL + "/v1/artifacts/" + testKey)
	require.NoError(t, err)
	defer getResp.Body.Close()
	body, err := io.ReadAll(getResp.Body)
	require.NoError(t, err)
	sum := sha256.Sum256(body)
	assert.Equal(t, hex.EncodeToString(sum[:]), getResp.Header.Get("X-Artifact-Hash"))
}

func TestHead(t *testing.T) {
	srv := newTestServer(t, 1<<20)
	payload := []byte("head me")
	doPut(t, srv, testKey, payload)

	resp, err := srv.Client().Head(srv.URL + "/v1/artifacts/" + testKey)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zstd", resp.Header.Get("Content-Type"))
	assert.Equal(t, strconv.Itoa(len(payload)), resp.Header.Get("Content-Length"))
	assert.NotEmpty(t, resp.Header.Get("X-Artifact-Hash"))

	missing := strings.Repeat("f", 64)
	resp, err = srv.Client().Head(srv.URL + "/v1/artifacts/" + missing)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGet_Missing(t *testing.T) {
	srv := newTestServer(t, 1<<20)
	resp, err := srv.Client().Get(srv.URL + "/v1/artifacts/" + strings.Repeat("a", 64))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestKeyValidation(t *testing.T) {
	srv := newTestServer(t, 1<<20)
	for _, key := range []string{
		"short",
		strings.Repeat("A", 64), // uppercase
		strings.Repeat("g", 64), // not hex
		strings.Repeat("a", 63),
	} {
		resp := doPut(t, srv, key, []byte("x"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "key %q", key)
	}
}

func TestPut_TooLarge(t *testing.T) {
	srv := newTestServer(t, 16)
	resp := doPut(t, srv, testKey, bytes.Repeat([]byte("x"), 64))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	// The oversized upload must not have left an artifact behind.
	getResp, err := srv.Client().Get(srv.URL + "/v1/artifacts/" + testKey)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, 1<<20)
	doPut(t, srv, testKey, []byte("count me"))

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "polykit_cache_requests_total")
	assert.Contains(t, string(body), "polykit_cache_stored_bytes_total")
}
