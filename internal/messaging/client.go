package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"
)

// Client posts messages to a session endpoint.
type Client struct {
	// Endpoint is the session's message URL.
	Endpoint string
	HTTP     *http.Client
	// Inject is called once when no receiver answers, to start one.
	Inject func(ctx context.Context) error
}

// Send posts m and decodes the JSON response into out (which may be nil).
// When no receiver exists it calls Inject and retries exactly once.
func (c *Client) Send(ctx context.Context, m Message, out any) error {
	err := c.send(ctx, m, out)
	if !errors.Is(err, errNoReceiver) {
		return err
	}
	if c.Inject == nil {
		return &Error{Code: ErrCodeReceiverUnavailable, Action: m.Action, Err: err}
	}
	if ierr := c.Inject(ctx); ierr != nil {
		return &Error{Code: ErrCodeReceiverUnavailable, Action: m.Action, Err: ierr}
	}
	if err := c.send(ctx, m, out); err != nil {
		if errors.Is(err, errNoReceiver) {
			return &Error{Code: ErrCodeReceiverUnavailable, Action: m.Action, Err: err}
		}
		return err
	}
	return nil
}

var errNoReceiver = errors.New("no receiver")

func (c *Client) send(ctx context.Context, m Message, out any) error {
	body, err := json.Marshal(m)
	if err != nil {
		return &Error{Code: ErrCodeTransport, Action: m.Action, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return &Error{Code: ErrCodeTransport, Action: m.Action, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return fmt.Errorf("%w: %v", errNoReceiver, err)
		}
		return &Error{Code: ErrCodeTransport, Action: m.Action, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return &Error{Code: ErrCodeTransport, Action: m.Action, Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", errNoReceiver, resp.Status)
	case resp.StatusCode >= 400:
		var e errorBody
		if json.Unmarshal(data, &e) == nil && e.Code != "" {
			return &Error{Code: e.Code, Action: m.Action, Err: errors.New(e.Message)}
		}
		return &Error{Code: ErrCodeTransport, Action: m.Action, Err: fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Code: ErrCodeTransport, Action: m.Action, Err: err}
	}
	return nil
}

// errorBody is the JSON shape of a failed reply.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

// WriteError writes err as a JSON error reply.
func WriteError(w http.ResponseWriter, status int, err error) {
	code := Code(err)
	if code == "" {
		code = ErrCodeTransport
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Code: code, Message: err.Error()})
}
