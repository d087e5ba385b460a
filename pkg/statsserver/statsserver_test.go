package statsserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	snapshot map[string]interface{}
}

func (f *fakeProvider) Snapshot() map[string]interface{} {
	return f.snapshot
}

func TestStatsEndpointServesProviderSnapshot(t *testing.T) {
	s := New("127.0.0.1:0", &fakeProvider{snapshot: map[string]interface{}{"partial_blocks": 3}}, 0)

	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, float64(3), body["partial_blocks"])
}

func TestHealthcheckEndpointOK(t *testing.T) {
	s := New("127.0.0.1:0", &fakeProvider{snapshot: map[string]interface{}{}}, 0)

	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthcheck")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRelayStatsSnapshotAggregatesCounts(t *testing.T) {
	rs := &RelayStats{}
	snap := rs.Snapshot()
	require.Contains(t, snap, "partial_blocks")
	require.Contains(t, snap, "interleave_windows")
}
