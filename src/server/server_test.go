package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kopi-dev/kopi/src/core"
	"github.com/kopi-dev/kopi/src/notify"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(t.TempDir(), notify.New())
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestCapabilitiesRoot(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var caps core.Capabilities
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&caps))
	assert.True(t, caps.DeltaSyncSupported)
	assert.True(t, caps.GitSyncSupported)
}

func TestWriteAndReadFile(t *testing.T) {
	_, ts := newTestServer(t)
	body := writeFullRequest{Path: "a.txt", Content: base64.StdEncoding.EncodeToString([]byte("hello\n"))}
	b, _ := json.Marshal(body)

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/files/content", strings.NewReader(string(b)))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(ts.URL + "/api/v1/files/content?path=a.txt")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var out struct {
		Content     string                `json:"content"`
		Fingerprint *core.FileFingerprint `json:"fingerprint"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&out))
	got, err := base64.StdEncoding.DecodeString(out.Content)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(got))
}

func TestReadMissingFileReturnsNotFound(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/files/content?path=missing.txt")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitCommandAndPoll(t *testing.T) {
	_, ts := newTestServer(t)
	reqBody, _ := json.Marshal(submitCommandRequest{CommandLine: "echo hi", WorkingDir: t.TempDir(), TimeoutSeconds: 5})
	resp, err := http.Post(ts.URL+"/api/v1/commands", "application/json", strings.NewReader(string(reqBody)))
	require.NoError(t, err)
	defer resp.Body.Close()
	var submitted struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	require.NotEmpty(t, submitted.ID)

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/v1/commands/" + submitted.ID)
		require.NoError(t, err)
		defer resp.Body.Close()
		var status struct {
			State core.CommandState `json:"state"`
		}
		json.NewDecoder(resp.Body).Decode(&status)
		return status.State.Terminal()
	}, 3*time.Second, 20*time.Millisecond)

	resp3, err := http.Get(ts.URL + "/api/v1/commands/" + submitted.ID + "/output")
	require.NoError(t, err)
	defer resp3.Body.Close()
	var out struct {
		Output string `json:"output"`
	}
	require.NoError(t, json.NewDecoder(resp3.Body).Decode(&out))
	assert.Contains(t, out.Output, "hi")
}

func TestCommandStatusUnknownID(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/commands/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSyncInitAndStatus(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/api/v1/sync/init", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(ts.URL + "/api/v1/sync/status")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var status struct {
		LastSyncCommit      string `json:"last_sync_commit"`
		HasPendingConflicts bool   `json:"has_pending_conflicts"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&status))
	assert.False(t, status.HasPendingConflicts)
}
