/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/tierbox/ledger"
	"github.com/Seednode/tierbox/livetable"
)

func decodeTable(t *testing.T, data []byte) ledger.LiveTable {
	t.Helper()

	var lt ledger.LiveTable
	require.NoError(t, json.Unmarshal(data, &lt))

	return lt
}

func decodeMessage(t *testing.T, data []byte) string {
	t.Helper()

	var body errorBody
	require.NoError(t, json.Unmarshal(data, &body))

	return body.Message
}

func TestServeLiveTable_SeedsEmptyStore(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	_, err := ts.store.Get(context.Background(), liveTableKey)
	require.Error(t, err)

	resp, body := ts.do(t, http.MethodGet, "/live-table", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	lt := decodeTable(t, body)
	assert.Empty(t, lt.Better)
	assert.Empty(t, lt.Worse)
	assert.NotNil(t, lt.Better)

	stored, err := ts.store.Get(context.Background(), liveTableKey)
	require.NoError(t, err)
	assert.Equal(t, ledger.Default(), ledger.SanitizeJSON(stored, time.Now()))
}

func TestServeLiveTable_RepairsStoredDocument(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	raw := `{"better":[{"name":"  Sting "},{"name":""}],"worse":"nope","history":[]}`
	require.NoError(t, ts.store.Put(context.Background(), liveTableKey, []byte(raw)))

	resp, body := ts.do(t, http.MethodGet, "/live-table", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lt := decodeTable(t, body)
	require.Len(t, lt.Better, 1)
	assert.Equal(t, "Sting", lt.Better[0].Name)
	assert.Empty(t, lt.Worse)
}

func TestSaveLiveTable(t *testing.T) {
	cfg := testConfig()
	cfg.adminToken = "secret"

	ts := newTestServer(t, cfg, nil)

	doc := []byte(`{"better":[{"id":"w001","name":"Wrestler One","source":"manual"}],"worse":[]}`)

	resp, body := ts.do(t, http.MethodPut, "/live-table", doc, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Missing or invalid admin token", decodeMessage(t, body))

	wrong := http.Header{http.CanonicalHeaderKey(livetable.TokenHeader): {"guess"}}
	resp, _ = ts.do(t, http.MethodPut, "/live-table", doc, wrong)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	auth := http.Header{http.CanonicalHeaderKey(livetable.TokenHeader): {"secret"}}

	resp, body = ts.do(t, http.MethodPut, "/live-table", []byte(`{"better":`), auth)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid JSON body", decodeMessage(t, body))

	resp, body = ts.do(t, http.MethodPut, "/live-table", doc, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lt := decodeTable(t, body)
	require.Len(t, lt.Better, 1)
	assert.Equal(t, "w001", lt.Better[0].ID)
	assert.Equal(t, ledger.SourceManual, lt.Better[0].Source)
	assert.NotZero(t, lt.Better[0].AddedAt)

	resp, body = ts.do(t, http.MethodGet, "/live-table", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, lt, decodeTable(t, body))
}

func TestSaveLiveTable_EmptyBody(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	resp, body := ts.do(t, http.MethodPut, "/live-table", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeTable(t, body).Better)
}

func TestSaveLiveTable_TooLarge(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	doc := []byte(`"` + strings.Repeat("a", maxBodySize+16) + `"`)

	resp, body := ts.do(t, http.MethodPut, "/live-table", doc, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "Request body too large", decodeMessage(t, body))
}

func TestPreflight(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	resp, body := ts.do(t, http.MethodOptions, "/live-table", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, body)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "PUT")
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), livetable.TokenHeader)
}

func TestAuthorized(t *testing.T) {
	cfg := testConfig()

	r, err := http.NewRequest(http.MethodPut, "/live-table", nil)
	require.NoError(t, err)
	assert.True(t, authorized(cfg, r))

	cfg.adminToken = "secret"
	assert.False(t, authorized(cfg, r))

	r.Header.Set(livetable.TokenHeader, "secret")
	assert.True(t, authorized(cfg, r))
}

func TestLiveTableFeed(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/live-table/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	_, initial, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Empty(t, decodeTable(t, initial).Better)

	doc := []byte(`{"better":[],"worse":[{"name":"Wrestler Two"}]}`)
	res, _ := ts.do(t, http.MethodPut, "/live-table", doc, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	_, update, err := conn.ReadMessage()
	require.NoError(t, err)

	lt := decodeTable(t, update)
	require.Len(t, lt.Worse, 1)
	assert.Equal(t, "Wrestler Two", lt.Worse[0].Name)
}

func TestLiveTableStore_Update(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	ctx := context.Background()

	var picks ledger.Session
	picks.Add(ledger.Better, ledger.Entry{ID: "w001", Name: "Wrestler One", Source: ledger.SourceLive, AddedAt: 1})

	now := time.UnixMilli(1700000000000)
	ts.srv.table.now = func() time.Time { return now }

	lt, err := ts.srv.table.update(ctx, func(t ledger.LiveTable) ledger.LiveTable {
		return ledger.Apply(t, picks, sessionMode, now)
	})
	require.NoError(t, err)
	require.Len(t, lt.Better, 1)
	require.NotEmpty(t, lt.History)
	assert.Equal(t, now.UnixMilli(), lt.History[0].Timestamp)

	stored, err := ts.srv.table.load(ctx)
	require.NoError(t, err)
	assert.Equal(t, lt, stored)
}
