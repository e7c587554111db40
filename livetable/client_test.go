package livetable

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/tierbox/ledger"
)

const stored = `{
	"better": [{"id": "rey-mysterio", "name": " Rey Mysterio ", "addedAt": 1700000000000, "source": "live"}],
	"worse": [{"name": "The Goon", "addedAt": 1700000001000}],
	"history": [],
	"updatedAt": 1700000002000
}`

func TestClient_FetchRemote(t *testing.T) {
	var gotToken []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		gotToken = r.Header.Values(TokenHeader)
		_, _ = io.WriteString(w, stored)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", srv.Client(), nil)

	table, err := c.FetchRemote(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gotToken, "no token configured, no header sent")

	require.Len(t, table.Better, 1)
	assert.Equal(t, "Rey Mysterio", table.Better[0].Name)
	require.Len(t, table.Worse, 1)
	assert.Equal(t, ledger.SourceWorse, table.Worse[0].Source)
	require.NotNil(t, table.UpdatedAt)
	assert.Equal(t, int64(1700000002000), *table.UpdatedAt)
}

func TestClient_FetchRemote_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", srv.Client(), nil).FetchRemote(context.Background())
	require.Error(t, err)

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusBadGateway, netErr.Status)
	assert.Equal(t, "Live table request failed (502)", err.Error())
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestClient_FetchRemote_SharedAcrossDeadlines(t *testing.T) {
	var hits atomic.Int32

	started := make(chan struct{}, 1)
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		started <- struct{}{}
		<-release
		_, _ = io.WriteString(w, stored)
	}))
	defer srv.Close()

	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	defer unblock()

	c := NewClient(srv.URL, "", &http.Client{Transport: srv.Client().Transport, Timeout: 5 * time.Second}, nil)

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	impatient := make(chan error, 1)
	go func() {
		_, err := c.FetchRemote(short)
		impatient <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("fetch never reached the store")
	}

	type result struct {
		table ledger.LiveTable
		err   error
	}

	patient := make(chan result, 1)
	go func() {
		table, err := c.FetchRemote(context.Background())
		patient <- result{table, err}
	}()

	select {
	case err := <-impatient:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	case <-time.After(5 * time.Second):
		t.Fatal("deadline was not honoured")
	}

	unblock()

	select {
	case res := <-patient:
		require.NoError(t, res.err)
		require.Len(t, res.table.Better, 1)
		assert.Equal(t, "Rey Mysterio", res.table.Better[0].Name)
	case <-time.After(5 * time.Second):
		t.Fatal("shared fetch never finished")
	}

	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_FetchRemote_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "", nil, nil).FetchRemote(context.Background())

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Zero(t, netErr.Status)
	assert.Error(t, netErr.Unwrap())
}

func TestClient_SaveRemote(t *testing.T) {
	var (
		gotToken string
		gotBody  map[string]any
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		gotToken = r.Header.Get(TokenHeader)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = io.WriteString(w, stored)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "s3cret", srv.Client(), nil)

	payload := ledger.Default()
	payload.Better = append(payload.Better, ledger.Entry{Name: "  Edge  ", AddedAt: 5})

	saved, err := c.SaveRemote(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", gotToken)

	better := gotBody["better"].([]any)
	require.Len(t, better, 1)
	assert.Equal(t, "Edge", better[0].(map[string]any)["name"], "payload is sanitized before sending")
	assert.Nil(t, better[0].(map[string]any)["id"])

	require.Len(t, saved.Better, 1)
	assert.Equal(t, "rey-mysterio", saved.Better[0].ID, "response wins over payload")
}

func TestClient_SaveRemote_UndecodableResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	payload := ledger.Default()
	payload.Worse = append(payload.Worse, ledger.Entry{ID: "kane", Name: "Kane", AddedAt: 9, Source: ledger.SourceManual})

	saved, err := NewClient(srv.URL, "", srv.Client(), nil).SaveRemote(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, payload.Worse, saved.Worse)
}

func TestClient_SaveRemote_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"Missing or invalid admin token"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "wrong", srv.Client(), nil).SaveRemote(context.Background(), ledger.Default())
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "Unable to save live table (401)", err.Error())
}

func TestClient_Watch(t *testing.T) {
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/live-table/ws" {
			http.NotFound(w, r)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(stored))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`"garbage"`))

		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/live-table", "", srv.Client(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []ledger.LiveTable
	err := c.Watch(ctx, func(t ledger.LiveTable) {
		got = append(got, t)
		if len(got) == 2 {
			cancel()
		}
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Len(t, got[0].Better, 1)
	assert.Equal(t, ledger.Default(), got[1])
}

func TestClient_WatchURL(t *testing.T) {
	c := NewClient("https://tier.example.com/live-table/", "", nil, nil)
	u, err := c.watchURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://tier.example.com/live-table/ws", u)

	err = NewClient("ftp://nope", "", nil, nil).Watch(context.Background(), func(ledger.LiveTable) {})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unsupported scheme"))
	assert.False(t, errors.Is(err, ErrUnauthorized))
}
