package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"exam-prep-service/internal/app"
	"exam-prep-service/internal/domain"
	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dialAttempt(t *testing.T, env *testEnv, testID, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/attempt?testId=" + testID + "&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil skips messages (ticks, views) until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) wsMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json waiting for %s: %v", want, err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func TestWebSocketAttemptFlow(t *testing.T) {
	env := newTestEnv(t, app.WithTicker(time.Hour, nil))
	s := env.signUp(t, "erin@example.com", "Erin")
	conn := dialAttempt(t, env, "quick-maths", s.Token)

	var started startedPayload
	if err := json.Unmarshal(readUntil(t, conn, "started").Payload, &started); err != nil {
		t.Fatalf("decode started: %v", err)
	}
	if started.Resumed || started.View.Total != 3 || started.View.Remaining != 180 {
		t.Fatalf("unexpected start %+v", started)
	}

	send(t, conn, "select", questionPayload{Question: 0, Option: 1})
	var view app.AttemptView
	if err := json.Unmarshal(readUntil(t, conn, "view").Payload, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.Answers[0] == nil || *view.Answers[0] != 1 || view.Palette[0].Status != app.PaletteAnswered {
		t.Fatalf("answer not recorded: %+v", view)
	}

	send(t, conn, "review", questionPayload{Question: 1})
	if err := json.Unmarshal(readUntil(t, conn, "view").Payload, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if !view.Marked[1] || view.Palette[1].Status != app.PaletteMarked {
		t.Fatalf("review not recorded: %+v", view.Palette)
	}

	send(t, conn, "select", questionPayload{Question: 7, Option: 1})
	readUntil(t, conn, "error")

	send(t, conn, "submit", nil)
	var nav redirectPayload
	if err := json.Unmarshal(readUntil(t, conn, "navigate").Payload, &nav); err != nil {
		t.Fatalf("decode navigate: %v", err)
	}
	if nav.To != "/results/quick-maths" || nav.Result == nil || nav.Result.Score.Correct != 1 || nav.Result.Trigger != domain.TriggerManual {
		t.Fatalf("unexpected navigate %+v", nav)
	}

	send(t, conn, "submit", nil)
	readUntil(t, conn, "error")
}

func TestWebSocketAutoSubmitOnTimeout(t *testing.T) {
	env := newTestEnv(t, app.WithTicker(time.Millisecond, nil))
	s := env.signUp(t, "frank@example.com", "Frank")
	conn := dialAttempt(t, env, "quick-maths", s.Token)

	readUntil(t, conn, "started")
	readUntil(t, conn, "timeUp")
	var nav redirectPayload
	if err := json.Unmarshal(readUntil(t, conn, "navigate").Payload, &nav); err != nil {
		t.Fatalf("decode navigate: %v", err)
	}
	if nav.Result == nil || nav.Result.Trigger != domain.TriggerTimeout || nav.Result.TimeTaken != 180 {
		t.Fatalf("unexpected auto-submit %+v", nav.Result)
	}
	if nav.Result.Score.Unanswered != 3 {
		t.Fatalf("expected all unanswered, got %+v", nav.Result.Score)
	}
}

func TestWebSocketUnknownTestRedirects(t *testing.T) {
	env := newTestEnv(t)
	s := env.signUp(t, "gina@example.com", "Gina")
	conn := dialAttempt(t, env, "does-not-exist", s.Token)

	readUntil(t, conn, "error")
	var redirect redirectPayload
	if err := json.Unmarshal(readUntil(t, conn, "redirect").Payload, &redirect); err != nil {
		t.Fatalf("decode redirect: %v", err)
	}
	if redirect.To != MockTestsPath {
		t.Fatalf("expected redirect to %s, got %s", MockTestsPath, redirect.To)
	}
}

func TestWebSocketRejectsMissingSession(t *testing.T) {
	env := newTestEnv(t)
	u := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/attempt?testId=quick-maths&token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}
