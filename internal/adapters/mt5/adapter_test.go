package mt5

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, summary accountSummary, positions []bridgePosition, connected bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/mt5/1001/ping", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, map[string]bool{"connected": connected})
	})
	mux.HandleFunc("/api/mt5/1001/account-summary", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, summary)
	})
	mux.HandleFunc("/api/mt5/1001/opened-orders", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, map[string]interface{}{"positions": positions})
	})
	return httptest.NewServer(mux)
}

func writeOK(w http.ResponseWriter, data interface{}) {
	raw, _ := json.Marshal(data)
	resp := bridgeResponse{Success: true, Data: raw}
	body, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func TestAdapter_ConnectSucceedsWhenBridgeReportsConnected(t *testing.T) {
	srv := newTestServer(t, accountSummary{}, nil, true)
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL, AccountID: "acct-1", Login: 1001}, zerolog.Nop())
	require.NoError(t, a.Connect())
}

func TestAdapter_ConnectFailsWhenBridgeReportsDisconnected(t *testing.T) {
	srv := newTestServer(t, accountSummary{}, nil, false)
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL, AccountID: "acct-1", Login: 1001}, zerolog.Nop())
	assert.Error(t, a.Connect())
}

func TestAdapter_SnapshotMapsFieldsAndComputesMarginLevel(t *testing.T) {
	sl := 1900.0
	now := time.Now().Unix()
	srv := newTestServer(t, accountSummary{
		Balance: 10000, Equity: 9800, MarginUsed: 2000, MarginFree: 7800,
		Currency: "USD", Leverage: 100, ServerTimeUnix: now,
	}, []bridgePosition{
		{Ticket: "1", Symbol: "XAUUSD", Side: "buy", VolumeLots: 1, OpenPrice: 2000, CurrentPrice: 1990, StopLoss: &sl, Profit: -10, OpenTimeUnix: now},
	}, true)
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL, AccountID: "acct-1", Login: 1001}, zerolog.Nop())
	snap, err := a.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, "acct-1", snap.AccountID)
	assert.Equal(t, 10000.0, snap.Balance)
	assert.Equal(t, 9800.0, snap.Equity)
	assert.InDelta(t, 490.0, snap.MarginLevelPct, 0.01) // 100*9800/2000
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "XAUUSD", snap.Positions[0].Symbol)
	require.NotNil(t, snap.Positions[0].StopLossPrice)
	assert.Equal(t, 1900.0, *snap.Positions[0].StopLossPrice)
}

func TestAdapter_SnapshotMarginLevelIsInfWhenNoMarginUsed(t *testing.T) {
	srv := newTestServer(t, accountSummary{Balance: 10000, Equity: 10000, MarginUsed: 0, ServerTimeUnix: time.Now().Unix()}, nil, true)
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL, AccountID: "acct-1", Login: 1001}, zerolog.Nop())
	snap, err := a.Snapshot()
	require.NoError(t, err)
	assert.True(t, math.IsInf(snap.MarginLevelPct, 1))
}

func TestAdapter_LeverageReturnsNilWhenBridgeReportsZero(t *testing.T) {
	srv := newTestServer(t, accountSummary{Leverage: 0, ServerTimeUnix: time.Now().Unix()}, nil, true)
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL, AccountID: "acct-1", Login: 1001}, zerolog.Nop())
	lev, err := a.Leverage()
	require.NoError(t, err)
	assert.Nil(t, lev)
}

func TestAdapter_ServerTimeOffsetIsCachedAfterFirstCall(t *testing.T) {
	fixedServerTime := time.Now().Add(3 * time.Hour).Unix()
	srv := newTestServer(t, accountSummary{ServerTimeUnix: fixedServerTime}, nil, true)
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL, AccountID: "acct-1", Login: 1001}, zerolog.Nop())

	first, err := a.ServerTime()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Unix(fixedServerTime, 0).UTC(), first, time.Second)
	assert.True(t, a.offsetKnown)
}

func TestAdapter_ConnectSurfacesTransportErrors(t *testing.T) {
	a := New(Config{BaseURL: "http://127.0.0.1:1", AccountID: "acct-1", Login: 1001}, zerolog.Nop())
	err := a.Connect()
	require.Error(t, err)
	assert.Contains(t, fmt.Sprint(err), "mt5:")
}
