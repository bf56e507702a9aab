package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/mumblecall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/mumblecall/internal/adapter/driven/telephony/bridge"
	"github.com/Wyydra/mumblecall/internal/core/domain"
)

type fakeCalls struct {
	incoming   []domain.IncomingDescriptor
	outgoing   []string
	outChannel domain.ChannelID
	limit      int
	err        error
	id         domain.SessionID
	records    []domain.CallRecord
}

func (f *fakeCalls) HandleIncoming(_ context.Context, desc domain.IncomingDescriptor) (domain.SessionID, error) {
	f.incoming = append(f.incoming, desc)
	return f.id, f.err
}

func (f *fakeCalls) RequestOutgoingCall(_ context.Context, peer string, channelID domain.ChannelID) (domain.SessionID, error) {
	f.outgoing = append(f.outgoing, peer)
	f.outChannel = channelID
	return f.id, f.err
}

func (f *fakeCalls) ToggleMute(context.Context) (bool, error)   { return true, f.err }
func (f *fakeCalls) ToggleDeafen(context.Context) (bool, error) { return false, f.err }

func (f *fakeCalls) Status(context.Context) (domain.CallStatus, error) {
	return domain.CallStatus{Phase: domain.PhaseIdle, Connection: domain.ConnectionDisconnected}, f.err
}

func (f *fakeCalls) History(_ context.Context, limit int) ([]domain.CallRecord, error) {
	f.limit = limit
	return f.records, f.err
}

func newTestRouter(calls *fakeCalls) http.Handler {
	return NewHandler(calls, ws.NewHub(), bridge.New(), nil).NewRouter()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPushIncomingDefaults(t *testing.T) {
	calls := &fakeCalls{id: domain.NewSessionID()}
	r := newTestRouter(calls)

	rec := do(t, r, http.MethodPost, "/push/incoming", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, calls.incoming, 1)
	assert.Equal(t, domain.IncomingDescriptor{Caller: "Unknown", ChannelID: 0}, calls.incoming[0])

	var body sessionDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, calls.id.String(), body.SessionID)
}

func TestPushIncomingFields(t *testing.T) {
	calls := &fakeCalls{id: domain.NewSessionID()}
	r := newTestRouter(calls)

	rec := do(t, r, http.MethodPost, "/push/incoming", `{"caller":"Bob","channelID":12}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.IncomingDescriptor{Caller: "Bob", ChannelID: 12}, calls.incoming[0])
}

func TestPushIncomingErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"malformed", `{"caller":`, nil, http.StatusBadRequest},
		{"refused", `{}`, domain.ErrTelephonyRefusal, http.StatusConflict},
		{"stopped", `{}`, domain.ErrCoordinatorStopped, http.StatusServiceUnavailable},
		{"unexpected", `{}`, assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakeCalls{err: tt.err})
			rec := do(t, r, http.MethodPost, "/push/incoming", tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestPlaceCall(t *testing.T) {
	calls := &fakeCalls{id: domain.NewSessionID()}
	r := newTestRouter(calls)

	rec := do(t, r, http.MethodPost, "/calls", `{"peer":"carol","channelID":4}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"carol"}, calls.outgoing)
	assert.Equal(t, domain.ChannelID(4), calls.outChannel)

	rec = do(t, r, http.MethodPost, "/calls", `{"peer":" "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceCallErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrCallInProgress, http.StatusConflict},
		{&domain.CallError{Err: domain.ErrChannelResolutionTimeout}, http.StatusGatewayTimeout},
		{&domain.CallError{Err: domain.ErrConnection}, http.StatusBadGateway},
		{domain.ErrSessionEnded, http.StatusGone},
	}
	for _, tt := range tests {
		r := newTestRouter(&fakeCalls{err: tt.err})
		rec := do(t, r, http.MethodPost, "/calls", `{"peer":"dave"}`)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}

func TestHistoryLimit(t *testing.T) {
	calls := &fakeCalls{}
	r := newTestRouter(calls)

	rec := do(t, r, http.MethodGet, "/calls/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultHistoryLimit, calls.limit)
	assert.JSONEq(t, `[]`, rec.Body.String())

	do(t, r, http.MethodGet, "/calls/history?limit=3", "")
	assert.Equal(t, 3, calls.limit)

	rec = do(t, r, http.MethodGet, "/calls/history?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAudioToggles(t *testing.T) {
	r := newTestRouter(&fakeCalls{})

	rec := do(t, r, http.MethodPost, "/audio/mute", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"muted":true}`, rec.Body.String())

	rec = do(t, r, http.MethodPost, "/audio/deafen", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deafened":false}`, rec.Body.String())
}

func TestStatus(t *testing.T) {
	rec := do(t, newTestRouter(&fakeCalls{}), http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "idle", st["phase"])
}

func TestHealthReflectsShell(t *testing.T) {
	shell := bridge.New()
	r := NewHandler(&fakeCalls{}, ws.NewHub(), shell, nil).NewRouter()

	rec := do(t, r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"shell_connected":false}`, rec.Body.String())

	srv := httptest.NewServer(r)
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/shell", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, shell.Connected, 2*time.Second, 5*time.Millisecond)

	rec = do(t, r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"shell_connected":true}`, rec.Body.String())
}

func TestServeWSReceivesObserverEvents(t *testing.T) {
	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	h := NewHandler(&fakeCalls{}, hub, bridge.New(), nil)
	srv := httptest.NewServer(h.NewRouter())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	// registration is asynchronous; publish until the client has seen one
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				hub.OnConnectionStateChange(domain.ConnectionConnected)
			}
		}
	}()

	var ev ws.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, ws.EventConnection, ev.Type)
	assert.Equal(t, domain.ConnectionConnected, ev.Connection)
}
