package admin_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/keycache/internal/admin"
	"github.com/zhukovaskychina/keycache/internal/blockpool"
	"github.com/zhukovaskychina/keycache/internal/certifier"
	"github.com/zhukovaskychina/keycache/internal/keycache"
)

type memStorage struct {
	mu    sync.Mutex
	files map[blockpool.FileID][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{files: make(map[blockpool.FileID][]byte)}
}

func (m *memStorage) ensure(file blockpool.FileID, size int64) []byte {
	data := m.files[file]
	if int64(len(data)) < size {
		grown := make([]byte, size)
		copy(grown, data)
		data = grown
		m.files[file] = data
	}
	return data
}

func (m *memStorage) PRead(file blockpool.FileID, buf []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := m.ensure(file, off+int64(len(buf)))
	n := copy(buf, data[off:off+int64(len(buf))])
	return n, nil
}

func (m *memStorage) PWrite(file blockpool.FileID, buf []byte, off int64, waitIfFull bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := m.ensure(file, off+int64(len(buf)))
	n := copy(data[off:], buf)
	return n, nil
}

func newTestServer(t *testing.T) (*admin.Server, *keycache.Controller) {
	t.Helper()
	c := keycache.New(newMemStorage())
	_, err := c.Init(keycache.Config{BlockSize: 512, MemorySize: 512 * 64, DivisionLimit: 100, AgeThresholdPct: 300})
	require.NoError(t, err)

	cert := certifier.New(certifier.Config{MemberUUID: "22222222-2222-2222-2222-222222222222"})
	return admin.New(c, cert), c
}

func TestHandleStatsReturnsCacheAndCertifierSnapshots(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body, "cache")
	assert.Contains(t, body, "certifier")
}

func TestHandleResizeChangesBlockCount(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	payload := []byte(`{"block_size":512,"memory_size":16384,"division_limit":100,"age_threshold_pct":300}`)
	resp, err := http.Post(ts.URL+"/resize", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 32, body["blocks"])
}

func TestHandleChangeParamUpdatesPolicy(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	payload := []byte(`{"division_limit":80,"age_threshold_pct":500}`)
	resp, err := http.Post(ts.URL+"/change_param", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpointExposesKeycacheMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(buf.String(), "keycache_blocks_total"))
}

func TestStatsStreamPushesJSONSnapshots(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/stats"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var body map[string]json.RawMessage
	require.NoError(t, conn.ReadJSON(&body))
	assert.Contains(t, body, "cache")
}
