// Package client implements the sync client: workspace scan orchestration, capability
// negotiation, and the HTTP calls that drive a remote kopid over spec.md §6's wire protocol.
// Grounded on original_source/src/client.py and simplified_client.py's SimplifiedMCPClient -
// a plain requests.Session with a capability-gated degrade path, not a retrying client, since
// the spec states HTTP calls have no built-in retry/cancellation beyond transport timeouts.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kopi-dev/kopi/src/cli/logging"
	"github.com/kopi-dev/kopi/src/core"
	"github.com/kopi-dev/kopi/src/metacache"
	"github.com/kopi-dev/kopi/src/patchsync"
)

var log = logging.Log

// requestTimeout bounds every individual HTTP call. There is no retry loop above it: a timed
// out or failed call surfaces directly to the caller (spec.md §5).
const requestTimeout = 30 * time.Second

// cacheFileName is the client-side persisted metadata cache (spec.md §6, "Persisted state on
// client").
const cacheFileName = ".kopi-cache.json"

// Client drives one workspace's sync relationship with one server.
type Client struct {
	ServerURL string
	Workspace string

	http  *http.Client
	cache *metacache.Cache
	patch *patchsync.Client

	caps core.Capabilities
}

// New returns a Client for serverURL/workspace. It does not contact the server; call Connect for
// that.
func New(serverURL, workspace string) *Client {
	return &Client{
		ServerURL: strings.TrimRight(serverURL, "/"),
		Workspace: workspace,
		http:      &http.Client{Timeout: requestTimeout},
		cache:     metacache.New(),
		patch:     patchsync.NewClient(workspace),
	}
}

// cachePath returns the path of the persisted metadata cache file within the workspace.
func (c *Client) cachePath() string {
	return c.Workspace + "/" + cacheFileName
}

// Connect fetches the server's capabilities and loads the persisted local cache. Callers should
// call this once before any sync operation; every capability-gated decision (delta vs full,
// patch-sync availability) is made from the Capabilities recorded here, never re-probed per call
// (spec.md §9: "endpoint presence is a last-resort fallback only").
func (c *Client) Connect() error {
	if err := c.cache.Load(c.cachePath(), c.remoteCachePath()); err != nil {
		log.Warning("failed to load metadata cache, starting cold: %s", err)
	}
	var caps core.Capabilities
	if err := c.getJSON("/", &caps); err != nil {
		return err
	}
	c.caps = caps
	log.Info("connected to %s (%s %s)", c.ServerURL, caps.Name, caps.Version)
	return nil
}

// remoteCachePath mirrors cachePath but for the remote-view half of the persisted cache; kept
// separate so a corrupt or stale remote-view document never clobbers the local-view one.
func (c *Client) remoteCachePath() string {
	return c.Workspace + "/.kopi-cache-remote.json"
}

// Disconnect flushes the metadata cache to disk.
func (c *Client) Disconnect() error {
	return c.cache.Flush(c.cachePath(), c.remoteCachePath())
}

// Capabilities returns the last-negotiated server capabilities. Call Connect first.
func (c *Client) Capabilities() core.Capabilities { return c.caps }

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.ServerURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) getJSON(path string, out interface{}) error {
	resp, err := c.http.Get(c.endpoint(path, nil))
	if err != nil {
		return fmt.Errorf("%w: %s", core.ErrIoError, err)
	}
	return decodeResponse(resp, out)
}

func (c *Client) getJSONQuery(path string, query url.Values, out interface{}) error {
	resp, err := c.http.Get(c.endpoint(path, query))
	if err != nil {
		return fmt.Errorf("%w: %s", core.ErrIoError, err)
	}
	return decodeResponse(resp, out)
}

func (c *Client) postJSON(path string, body, out interface{}) error {
	return c.sendJSON(http.MethodPost, path, body, out)
}

func (c *Client) putJSON(path string, body, out interface{}) error {
	return c.sendJSON(http.MethodPut, path, body, out)
}

func (c *Client) sendJSON(method, path string, body, out interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: %s", core.ErrIoError, err)
	}
	req, err := http.NewRequest(method, c.endpoint(path, nil), bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%w: %s", core.ErrIoError, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", core.ErrIoError, err)
	}
	return decodeResponse(resp, out)
}

// decodeResponse maps non-2xx responses to the core error taxonomy and otherwise decodes the
// JSON body into out. A 404 surfaces as core.ErrNotFound, same as the server's own statusFor
// mapping for a missing path or command id; src/server's statusFor maps ErrUnsupported to 404
// too, so a caller that specifically needs to tell "capability missing" apart from "path missing"
// (putDelta, below) does that by context rather than by status code alone.
func decodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return core.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		// A conflict response still carries a meaningful JSON body (src/server's
		// handleSyncPatch writes the ApplyResult's conflict list at the mapped status rather
		// than a bare error), so give callers that care a chance to see it.
		if out != nil {
			_ = json.Unmarshal(body, out)
		}
		return statusError(resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s", core.ErrIoError, err)
	}
	return nil
}

// statusError maps an HTTP status the server returned (per its own error taxonomy mapping in
// src/server) back onto a core sentinel, so callers can still errors.Is against it.
func statusError(status int, message string) error {
	switch status {
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", core.ErrConflict, message)
	case http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", core.ErrTimeout, message)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", core.ErrNotRegular, message)
	default:
		return fmt.Errorf("%w: server returned %d: %s", core.ErrIoError, status, message)
	}
}
