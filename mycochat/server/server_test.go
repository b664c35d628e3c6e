package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellenlodin/Mushroom-Chatbot/mycochat/config"
	ports "github.com/ellenlodin/Mushroom-Chatbot/mycochat/generation/harness/ports"
	"github.com/ellenlodin/Mushroom-Chatbot/mycochat/media"
	"github.com/ellenlodin/Mushroom-Chatbot/mycochat/memory"
)

// echoPipeline records the turn and streams back the text in bold.
type echoPipeline struct{}

func (echoPipeline) HandleTurn(ctx context.Context, s *memory.Session, text string, files []media.Resource) (iter.Seq[string], error) {
	if text == "" && len(files) == 0 {
		return nil, memory.ErrEmptyTurn
	}
	if text == "unreadable" {
		return nil, fmt.Errorf("%w: disk gone", media.ErrInputRead)
	}
	frags := []ports.Fragment{ports.TextFragment(text)}
	if len(files) > 0 {
		f, err := media.Encode(files[0])
		if err != nil {
			return nil, err
		}
		frags = append(frags, f)
	}
	return func(yield func(string) bool) {
		s.Lock()
		defer s.Unlock()
		_ = s.Append(ports.Turn{Role: ports.RoleUser, Fragments: frags})
		reply := "**" + text + "**"
		if !yield("**") || !yield(reply) {
			return
		}
		_ = s.Append(ports.Turn{Role: ports.RoleAssistant, Fragments: []ports.Fragment{ports.TextFragment(reply)}})
	}, nil
}

type testServer struct {
	*httptest.Server
	sessions *memory.Registry
}

func newTestServer(t *testing.T, gatherer prometheus.Gatherer) *testServer {
	t.Helper()
	sessions := memory.NewRegistry()
	s := NewServer(config.ServerConfig{MaxMessageSize: 1 << 20}, echoPipeline{}, sessions, gatherer, zerolog.Nop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, sessions: sessions}
}

func (ts *testServer) dial(t *testing.T, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntilDone(t *testing.T, conn *websocket.Conn) []ChatEvent {
	t.Helper()
	var events []ChatEvent
	for {
		var ev ChatEvent
		require.NoError(t, conn.ReadJSON(&ev))
		events = append(events, ev)
		if ev.Type != TypePartial {
			return events
		}
	}
}

type historyResponse struct {
	ID    string     `json:"id"`
	Turns []turnView `json:"turns"`
}

func getHistory(t *testing.T, ts *testServer, id string) (int, historyResponse) {
	t.Helper()
	resp, err := http.Get(ts.URL + "/api/sessions/" + id + "/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	var h historyResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	}
	return resp.StatusCode, h
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/api/sessions", "application/json", nil)
	require.NoError(t, err)
	var created map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	id := created["id"]
	require.NotEmpty(t, id)

	status, h := getHistory(t, ts, id)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, h.ID)
	assert.Empty(t, h.Turns)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+id, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	status, _ = getHistory(t, ts, id)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDefaultSessionReset(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.dial(t, DefaultSessionID)
	require.NoError(t, conn.WriteJSON(ChatRequest{Text: "hello"}))
	readUntilDone(t, conn)

	_, h := getHistory(t, ts, DefaultSessionID)
	assert.Len(t, h.Turns, 2)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+DefaultSessionID, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	_, h = getHistory(t, ts, DefaultSessionID)
	assert.Empty(t, h.Turns)
}

func TestChatStreamsCumulativeReplies(t *testing.T) {
	ts := newTestServer(t, nil)
	sess := ts.sessions.Create()
	conn := ts.dial(t, sess.ID())

	require.NoError(t, conn.WriteJSON(ChatRequest{Text: "chanterelle"}))
	events := readUntilDone(t, conn)
	require.Len(t, events, 3)
	assert.Equal(t, ChatEvent{Type: TypePartial, Text: "**"}, events[0])
	assert.Equal(t, ChatEvent{Type: TypePartial, Text: "**chanterelle**"}, events[1])
	assert.Equal(t, TypeDone, events[2].Type)

	_, h := getHistory(t, ts, sess.ID())
	require.Len(t, h.Turns, 2)
	assert.Equal(t, ports.RoleUser, h.Turns[0].Role)
	assert.Empty(t, h.Turns[0].HTML)
	assert.Equal(t, ports.RoleAssistant, h.Turns[1].Role)
	assert.Contains(t, h.Turns[1].HTML, "<strong>chanterelle</strong>")
}

func TestChatWithAttachment(t *testing.T) {
	ts := newTestServer(t, nil)
	sess := ts.sessions.Create()
	conn := ts.dial(t, sess.ID())

	require.NoError(t, conn.WriteJSON(ChatRequest{
		Text:  "what is this",
		Files: []Attachment{{Name: "cap.png", Data: []byte{1, 2, 3, 4}}},
	}))
	readUntilDone(t, conn)

	_, h := getHistory(t, ts, sess.ID())
	require.Len(t, h.Turns[0].Media, 1)
	assert.Equal(t, "cap.png", h.Turns[0].Media[0].Name)
	assert.Equal(t, "image/png", h.Turns[0].Media[0].ContentType)
	assert.Equal(t, 4, h.Turns[0].Media[0].Bytes)
}

func TestChatErrorsKeepConnectionOpen(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.dial(t, DefaultSessionID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	events := readUntilDone(t, conn)
	assert.Equal(t, TypeError, events[0].Type)

	require.NoError(t, conn.WriteJSON(ChatRequest{Text: "unreadable"}))
	events = readUntilDone(t, conn)
	assert.Equal(t, TypeError, events[0].Type)
	assert.Contains(t, events[0].Error, "input read failed")

	require.NoError(t, conn.WriteJSON(ChatRequest{}))
	events = readUntilDone(t, conn)
	assert.Equal(t, ChatEvent{Type: TypeError, Error: "empty message"}, events[0])

	require.NoError(t, conn.WriteJSON(ChatRequest{Text: "still here"}))
	events = readUntilDone(t, conn)
	assert.Equal(t, TypeDone, events[len(events)-1].Type)
}

func TestChatUnknownSession(t *testing.T) {
	ts := newTestServer(t, nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/nope/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "mycochat_test_total", Help: "test"}).Inc()
	ts := newTestServer(t, reg)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "mycochat_test_total 1")

	ts = newTestServer(t, nil)
	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
