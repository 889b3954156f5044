package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixcare/secrets-core/common"
	"github.com/helixcare/secrets-core/core"
	"github.com/helixcare/secrets-core/storage"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	c, err := core.New(core.Config{
		Physical: storage.NewInmemBackend(),
		Metadata: storage.NewInmemMetadataStore(),
		Log:      common.TestLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)

	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      common.TestLogger(),
		DrainDuration:            10 * time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, NewHandler(c, common.TestLogger()))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.getRouter())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "Body should be JSON: %s", raw)
	}
	return resp.StatusCode, decoded
}

// initAndUnseal drives the full operator flow over HTTP and returns the
// root token.
func initAndUnseal(t *testing.T, ts *httptest.Server) string {
	t.Helper()

	status, body := doJSON(t, http.MethodPost, ts.URL+"/v1/sys/init", "",
		map[string]int{"secret_shares": 5, "secret_threshold": 3})
	require.Equal(t, http.StatusOK, status)

	rootToken, _ := body["root_token"].(string)
	require.NotEmpty(t, rootToken)
	shares, _ := body["shares"].([]interface{})
	require.Len(t, shares, 5)

	for i := 0; i < 3; i++ {
		status, unsealBody := doJSON(t, http.MethodPost, ts.URL+"/v1/sys/unseal", "",
			map[string]string{"share": shares[i].(string)})
		require.Equal(t, http.StatusOK, status)
		if i == 2 {
			require.Equal(t, false, unsealBody["sealed"], "Quorum should unseal")
		}
	}
	return rootToken
}

func TestHandler_InitUnsealSecretRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	// Before init, status shows uninitialized and sealed.
	status, body := doJSON(t, http.MethodGet, ts.URL+"/v1/sys/seal-status", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["initialized"])
	assert.Equal(t, true, body["sealed"])

	rootToken := initAndUnseal(t, ts)

	status, _ = doJSON(t, http.MethodPut, ts.URL+"/v1/secret/app/config", rootToken,
		map[string]string{"db_password": "hunter2"})
	require.Equal(t, http.StatusNoContent, status)

	status, body = doJSON(t, http.MethodGet, ts.URL+"/v1/secret/app/config", rootToken, nil)
	require.Equal(t, http.StatusOK, status)
	data, _ := body["data"].(map[string]interface{})
	assert.Equal(t, "hunter2", data["db_password"])

	// Trailing slash lists the prefix.
	status, body = doJSON(t, http.MethodGet, ts.URL+"/v1/secret/app/", rootToken, nil)
	require.Equal(t, http.StatusOK, status)
	data, _ = body["data"].(map[string]interface{})
	assert.Equal(t, []interface{}{"config"}, data["keys"])

	status, _ = doJSON(t, http.MethodDelete, ts.URL+"/v1/secret/app/config", rootToken, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/secret/app/config", rootToken, nil)
	assert.Equal(t, http.StatusNotFound, status, "Deleted secrets read back as 404")
}

func TestHandler_SealedAndAuthStatusCodes(t *testing.T) {
	ts := newTestServer(t)

	status, _ := doJSON(t, http.MethodGet, ts.URL+"/v1/secret/app", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status, "Sealed core returns 503")

	rootToken := initAndUnseal(t, ts)

	status, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/secret/app", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status, "Missing token returns 401")

	status, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/secret/app", "st.bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, status, "Unknown token returns 401")

	// A scoped token without grants gets 403.
	status, body := doJSON(t, http.MethodPost, ts.URL+"/v1/sys/tokens/create", rootToken,
		map[string]interface{}{"ttl": "1h"})
	require.Equal(t, http.StatusOK, status)
	scoped, _ := body["token"].(string)
	require.NotEmpty(t, scoped)

	status, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/secret/app", scoped, nil)
	assert.Equal(t, http.StatusForbidden, status, "Ungranted access returns 403")

	// Double init is a client error.
	status, _ = doJSON(t, http.MethodPost, ts.URL+"/v1/sys/init", "",
		map[string]int{"secret_shares": 1, "secret_threshold": 1})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHandler_PolicyLifecycleAndCapabilities(t *testing.T) {
	ts := newTestServer(t)
	rootToken := initAndUnseal(t, ts)

	policyBody := map[string]interface{}{
		"rules": []map[string]interface{}{
			{"path": "secret/app/*", "capabilities": []string{"read"}},
		},
	}
	status, _ := doJSON(t, http.MethodPut, ts.URL+"/v1/sys/policies/app-read", rootToken, policyBody)
	require.Equal(t, http.StatusNoContent, status)

	status, body := doJSON(t, http.MethodGet, ts.URL+"/v1/sys/policies", rootToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{"app-read"}, body["policies"])

	status, body = doJSON(t, http.MethodPost, ts.URL+"/v1/sys/tokens/create", rootToken,
		map[string]interface{}{"policies": []string{"app-read"}, "ttl": "1h"})
	require.Equal(t, http.StatusOK, status)
	scoped, _ := body["token"].(string)

	status, body = doJSON(t, http.MethodPost, ts.URL+"/v1/sys/capabilities", scoped,
		map[string]string{"path": "secret/app/config"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{"read"}, body["capabilities"])

	status, _ = doJSON(t, http.MethodDelete, ts.URL+"/v1/sys/policies/app-read", rootToken, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/sys/policies/app-read", rootToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHandler_InitTokenSingleUse(t *testing.T) {
	ts := newTestServer(t)

	status, body := doJSON(t, http.MethodPost, ts.URL+"/v1/sys/init", "",
		map[string]int{"secret_shares": 1, "secret_threshold": 1})
	require.Equal(t, http.StatusOK, status)
	rootToken := body["root_token"].(string)

	status, body = doJSON(t, http.MethodGet, ts.URL+"/v1/sys/init-token", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, rootToken, body["root_token"])

	status, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/sys/init-token", "", nil)
	assert.Equal(t, http.StatusNotFound, status, "The stash hands the root token out once")
}

func TestHandler_SealEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rootToken := initAndUnseal(t, ts)

	status, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/sys/seal", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status, "Sealing requires a token")

	status, _ = doJSON(t, http.MethodPost, ts.URL+"/v1/sys/seal", rootToken, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/secret/app", rootToken, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestHandler_LoginOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	rootToken := initAndUnseal(t, ts)

	status, _ := doJSON(t, http.MethodPut, ts.URL+"/v1/auth/userpass/users/alice", rootToken,
		map[string]interface{}{"password": "hunter2"})
	require.Equal(t, http.StatusNoContent, status)

	status, body := doJSON(t, http.MethodPost, ts.URL+"/v1/auth/userpass/login", "",
		map[string]string{"username": "alice", "password": "hunter2"})
	require.Equal(t, http.StatusOK, status, "Login needs no token header")

	data, _ := body["data"].(map[string]interface{})
	minted, _ := data["token"].(string)
	assert.NotEmpty(t, minted)
	assert.NotEmpty(t, body["lease_ttl"])

	status, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/sys/tokens/lookup-self", minted, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_HealthAndDrain(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/livez")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/drain")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "Draining flips readiness")

	resp, err = http.Get(ts.URL + "/undrain")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
