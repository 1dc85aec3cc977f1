package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"exam-prep-service/internal/app"
	"exam-prep-service/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// MockTestsPath is where a taker is sent when the requested test does not exist.
const MockTestsPath = "/mock-tests"

type WSHandler struct {
	attempts      *app.AttemptService
	auth          Verifier
	upgrader      websocket.Upgrader
	redirectDelay time.Duration
}

func NewWSHandler(attempts *app.AttemptService, auth Verifier) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		auth:     auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		redirectDelay: 2 * time.Second,
	}
}

// WithRedirectDelay sets how long the not-found error stays up before redirecting.
func (h *WSHandler) WithRedirectDelay(d time.Duration) *WSHandler {
	h.redirectDelay = d
	return h
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type questionPayload struct {
	Question int `json:"question"`
	Option   int `json:"option"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type tickPayload struct {
	Remaining int    `json:"remaining"`
	Text      string `json:"text"`
	LowTime   bool   `json:"lowTime"`
}

type redirectPayload struct {
	To     string         `json:"to"`
	Result *domain.Result `json:"result,omitempty"`
}

type startedPayload struct {
	Resumed bool            `json:"resumed"`
	View    app.AttemptView `json:"view"`
}

// wsObserver forwards attempt notifications to the connection writer. Ticks are
// dropped when the writer falls behind; navigation is always delivered unless the
// connection is gone.
type wsObserver struct {
	send chan outboundMessage[any]
	done chan struct{}
}

func (o *wsObserver) TimerTicked(remaining int) {
	msg := outboundMessage[any]{Type: "tick", Payload: tickPayload{
		Remaining: remaining,
		Text:      app.FormatDuration(remaining),
		LowTime:   app.LowTime(remaining),
	}}
	select {
	case o.send <- msg:
	default:
	}
}

func (o *wsObserver) TimeUp() {
	o.push(outboundMessage[any]{Type: "timeUp", Payload: errorPayload{Message: "Time's up! Submitting your test."}})
}

func (o *wsObserver) NavigateToResults(testID string, result domain.Result) {
	o.push(outboundMessage[any]{Type: "navigate", Payload: redirectPayload{To: "/results/" + testID, Result: &result}})
}

func (o *wsObserver) push(msg outboundMessage[any]) {
	select {
	case o.send <- msg:
	case <-o.done:
	}
}

// ServeWS runs one test-taking view over a websocket: ?testId=...&token=...
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	testID := r.URL.Query().Get("testId")
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	if testID == "" {
		http.Error(w, "missing testId", http.StatusBadRequest)
		return
	}
	session, err := h.auth.Verify(r.Context(), token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	observer := &wsObserver{
		send: make(chan outboundMessage[any], 16),
		done: make(chan struct{}),
	}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case msg := <-observer.send:
				if err := conn.WriteJSON(msg); err != nil {
					log.Debug().Err(err).Msg("ws write error")
					return
				}
			case <-observer.done:
				// flush what was queued before teardown, e.g. a final redirect
				for {
					select {
					case msg := <-observer.send:
						if err := conn.WriteJSON(msg); err != nil {
							return
						}
					default:
						return
					}
				}
			}
		}
	}()

	shutdown := func() {
		close(observer.done)
		<-writerDone
	}

	ctx := r.Context()
	attempt, err := h.attempts.Start(ctx, session.UserID, testID, observer)
	if err != nil {
		h.rejectStart(ctx, observer, err)
		shutdown()
		return
	}

	observer.push(outboundMessage[any]{Type: "started", Payload: startedPayload{Resumed: attempt.Resumed(), View: attempt.View()}})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if inbound.Type == "quit" {
			break
		}
		if err := h.handle(ctx, attempt, inbound); err != nil {
			observer.push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		}
		observer.push(outboundMessage[any]{Type: "view", Payload: attempt.View()})
	}

	// done must close before Close so a blocked observer cannot stall the countdown.
	shutdown()
	attempt.Close()
}

func (h *WSHandler) rejectStart(ctx context.Context, observer *wsObserver, err error) {
	observer.push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
	if !errors.Is(err, domain.ErrTestNotFound) {
		return
	}
	select {
	case <-time.After(h.redirectDelay):
	case <-ctx.Done():
		return
	}
	observer.push(outboundMessage[any]{Type: "redirect", Payload: redirectPayload{To: MockTestsPath}})
}

func (h *WSHandler) handle(ctx context.Context, attempt *app.Attempt, inbound inboundMessage) error {
	var p questionPayload
	if len(inbound.Payload) > 0 {
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			return errors.New("invalid payload")
		}
	}
	switch inbound.Type {
	case "select":
		return attempt.SelectOption(ctx, p.Question, p.Option)
	case "review":
		_, err := attempt.ToggleReview(ctx, p.Question)
		return err
	case "goto":
		return attempt.GoTo(p.Question)
	case "next":
		attempt.Next()
		return nil
	case "prev":
		attempt.Prev()
		return nil
	case "submit":
		_, err := attempt.Submit(ctx)
		return err
	}
	return errors.New("unsupported message type")
}
