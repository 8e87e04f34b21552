package riftlands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t testing.TB) (*API, *Bot) {
	t.Helper()

	b, _ := newTestBot(t)
	api, err := newAPI(b, b.config.API)
	require.NoError(t, err)
	b.api = api
	return api, b
}

func doRequest(
	t testing.TB,
	api *API,
	method string,
	path string,
	body any,
) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(payload)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	return w
}

func TestAPIHealth(t *testing.T) {
	t.Parallel()

	api, _ := newTestAPI(t)
	w := doRequest(t, api, http.MethodGet, apiRouteHealth, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var rv healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rv))
	assert.Equal(t, Version, rv.Version)
	assert.False(t, rv.DiscordConnected)
	assert.Equal(t, SyncStateIdle, rv.SyncState)
	assert.Zero(t, rv.CommandsLive)
}

func TestAPIHealthAfterSync(t *testing.T) {
	t.Parallel()

	api, b := newTestAPI(t)

	client := newFakeRegistryClient()
	client.scriptReplace(GlobalScope, testCommands("ping", "act"), nil)
	b.syncer = NewCommandSyncer(
		client,
		testCommands("ping", "act"),
		ResolveScopes(""),
		fastSyncConfig(),
		testSyncLogger(t),
	)
	_, err := b.syncer.Sync(context.Background())
	require.NoError(t, err)

	w := doRequest(t, api, http.MethodGet, apiRouteHealth, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var rv healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rv))
	assert.Equal(t, SyncStateDone, rv.SyncState)
	assert.Equal(t, 2, rv.CommandsLive)
}

func TestAPIGetSync(t *testing.T) {
	t.Parallel()

	api, b := newTestAPI(t)

	// syncer not initialized yet
	w := doRequest(t, api, http.MethodGet, apiRouteSync, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	client := newFakeRegistryClient()
	client.scriptReplace(GlobalScope, testCommands("ping"), nil)
	b.syncer = NewCommandSyncer(
		client,
		testCommands("ping"),
		ResolveScopes(""),
		fastSyncConfig(),
		testSyncLogger(t),
	)

	// initialized, no run finished yet
	w = doRequest(t, api, http.MethodGet, apiRouteSync, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(SyncStateIdle), body["state"])
	assert.Nil(t, body["report"])

	_, err := b.syncer.Sync(context.Background())
	require.NoError(t, err)

	w = doRequest(t, api, http.MethodGet, apiRouteSync, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = map[string]any{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(SyncStateDone), body["state"])
	require.NotNil(t, body["report"])
	report, ok := body["report"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), report["attempts"])
}

func TestAPITriggerSyncDisabled(t *testing.T) {
	t.Parallel()

	api, _ := newTestAPI(t)
	w := doRequest(
		t,
		api,
		http.MethodPost,
		apiRouteSync,
		triggerSyncRequest{Password: "anything"},
	)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAPITriggerSync(t *testing.T) {
	t.Parallel()

	api, b := newTestAPI(t)

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	b.config.API.AdminPasswordHash = hash

	client := newFakeRegistryClient()
	client.scriptReplace(GlobalScope, testCommands("ping"), nil)
	b.syncer = NewCommandSyncer(
		client,
		testCommands("ping"),
		ResolveScopes(""),
		fastSyncConfig(),
		testSyncLogger(t),
	)

	// missing body
	w := doRequest(t, api, http.MethodPost, apiRouteSync, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// wrong password
	w = doRequest(
		t,
		api,
		http.MethodPost,
		apiRouteSync,
		triggerSyncRequest{Password: "wrong"},
	)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// correct password starts a background run
	w = doRequest(
		t,
		api,
		http.MethodPost,
		apiRouteSync,
		triggerSyncRequest{Password: "correct horse"},
	)
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(
		t,
		func() bool { return b.syncer.LastReport() != nil },
		5*time.Second,
		time.Millisecond,
		"background sync run never finished",
	)
	assert.False(t, b.syncer.LastReport().Degraded())
}

func TestAPITriggerSyncConflict(t *testing.T) {
	t.Parallel()

	api, b := newTestAPI(t)

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	b.config.API.AdminPasswordHash = hash

	client := newFakeRegistryClient()
	client.blockReplace = make(chan struct{})
	client.scriptReplace(GlobalScope, testCommands("ping"), nil)
	b.syncer = NewCommandSyncer(
		client,
		testCommands("ping"),
		ResolveScopes(""),
		fastSyncConfig(),
		testSyncLogger(t),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = b.syncer.Sync(context.Background())
	}()
	require.Eventually(t, b.syncer.Syncing, time.Second, time.Millisecond)

	w := doRequest(
		t,
		api,
		http.MethodPost,
		apiRouteSync,
		triggerSyncRequest{Password: "correct horse"},
	)
	assert.Equal(t, http.StatusConflict, w.Code)

	close(client.blockReplace)
	<-done
}
