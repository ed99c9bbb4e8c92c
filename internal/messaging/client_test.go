package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestSendRetriesOnceAfterInject(t *testing.T) {
	t.Parallel()
	var ready atomic.Bool
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !ready.Load() {
			http.NotFound(w, r)
			return
		}
		var m Message
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil || m.Action != ActionPing {
			t.Errorf("unexpected message %+v: %v", m, err)
		}
		_ = json.NewEncoder(w).Encode(PongResponse{Status: "pong"})
	}))
	defer srv.Close()

	injected := 0
	c := &Client{Endpoint: srv.URL, Inject: func(context.Context) error {
		injected++
		ready.Store(true)
		return nil
	}}
	var out PongResponse
	m, _ := NewMessage(ActionPing, nil)
	if err := c.Send(context.Background(), m, &out); err != nil {
		t.Fatal(err)
	}
	if out.Status != "pong" || injected != 1 || calls.Load() != 2 {
		t.Fatalf("status=%q injected=%d calls=%d", out.Status, injected, calls.Load())
	}
}

func TestSendGivesUpAfterOneRetry(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := &Client{Endpoint: srv.URL, Inject: func(context.Context) error { return nil }}
	err := c.Send(context.Background(), Message{Action: ActionLaunchViewer}, nil)
	if Code(err) != ErrCodeReceiverUnavailable {
		t.Fatalf("expected receiver_unavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "reload the page") {
		t.Fatalf("error should tell the user what to do: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", calls.Load())
	}
}

func TestSendConnectionRefused(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	injectErr := errors.New("cannot inject")
	c := &Client{Endpoint: url, Inject: func(context.Context) error { return injectErr }}
	err := c.Send(context.Background(), Message{Action: ActionPing}, nil)
	if Code(err) != ErrCodeReceiverUnavailable || !errors.Is(err, injectErr) {
		t.Fatalf("got %v", err)
	}
}

func TestSendDecodesCodedErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusBadRequest, &Error{Code: ErrCodeUnknownAction, Action: "dance"})
	}))
	defer srv.Close()

	c := &Client{Endpoint: srv.URL}
	if err := c.Send(context.Background(), Message{Action: "dance"}, nil); Code(err) != ErrCodeUnknownAction {
		t.Fatalf("got %v", err)
	}
}

func TestMessagePayload(t *testing.T) {
	t.Parallel()
	m, err := NewMessage(ActionUpdateDisplayMode, DisplayModePayload{IsSingle: true})
	if err != nil {
		t.Fatal(err)
	}
	if string(m.Payload) != `{"isSingle":true}` {
		t.Fatalf("payload = %s", m.Payload)
	}
	var p DisplayModePayload
	if err := m.Decode(&p); err != nil || !p.IsSingle {
		t.Fatalf("decode: %+v %v", p, err)
	}
	bad := Message{Action: ActionUpdateSiteMode, Payload: json.RawMessage(`[`)}
	if err := bad.Decode(&p); Code(err) != ErrCodeBadPayload {
		t.Fatalf("got %v", err)
	}
}
