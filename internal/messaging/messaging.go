// Package messaging defines the action messages exchanged between the
// command surface and a detection session, and a client for sending them.
package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Action names.
const (
	ActionPing                = "ping"
	ActionLaunchViewer        = "launchViewer"
	ActionTestDetection       = "testDetection"
	ActionUpdateSiteMode      = "updateSiteMode"
	ActionUpdateDetectionMode = "updateDetectionMode"
	ActionUpdateDisplayMode   = "updateDisplayMode"
	ActionUpdateBackground    = "updateBackground"
	ActionUpdateThreshold     = "updateCanvasThreshold"
)

// ReasonInsufficientImages is reported by launchViewer when the session has
// fewer images than the minimum.
const ReasonInsufficientImages = "insufficient_images"

// Message is one request.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a message, encoding payload when it is not nil.
func NewMessage(action string, payload any) (Message, error) {
	m := Message{Action: action}
	if payload == nil {
		return m, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return m, fmt.Errorf("messaging: encode %s payload: %w", action, err)
	}
	m.Payload = raw
	return m, nil
}

// Decode unmarshals the payload into v. A missing payload leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return &Error{Code: ErrCodeBadPayload, Action: m.Action, Err: err}
	}
	return nil
}

// PongResponse answers ping.
type PongResponse struct {
	Status string `json:"status"`
}

// LaunchResponse answers launchViewer.
type LaunchResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// TestDetectionResponse answers testDetection with per-strategy counts.
type TestDetectionResponse struct {
	Success bool           `json:"success"`
	Results map[string]int `json:"results"`
}

// SiteModePayload is the updateSiteMode payload.
type SiteModePayload struct {
	Mode string `json:"mode"`
}

// DetectionModePayload is the updateDetectionMode payload.
type DetectionModePayload struct {
	Mode string `json:"mode"`
}

// DisplayModePayload is the updateDisplayMode payload.
type DisplayModePayload struct {
	IsSingle bool `json:"isSingle"`
}

// BackgroundPayload is the updateBackground payload.
type BackgroundPayload struct {
	Color string `json:"color"`
}

// ThresholdPayload is the updateCanvasThreshold payload.
type ThresholdPayload struct {
	Threshold float64 `json:"threshold"`
}

// Error codes.
const (
	ErrCodeUnknownAction       = "unknown_action"
	ErrCodeBadPayload          = "bad_payload"
	ErrCodeReceiverUnavailable = "receiver_unavailable"
	ErrCodeTransport           = "transport"
)

// Error is a messaging failure with a stable code.
type Error struct {
	Code   string
	Action string
	Err    error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeUnknownAction:
		return fmt.Sprintf("%s: %q", e.Code, e.Action)
	case ErrCodeReceiverUnavailable:
		return fmt.Sprintf("%s: the page is not ready for %s; reload the page and try again", e.Code, e.Action)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Action, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Action)
}

func (e *Error) Unwrap() error { return e.Err }

// Code extracts the error code, or "" when err is not an *Error.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
