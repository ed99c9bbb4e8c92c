package engine

import (
	"context"
	"fmt"

	"mangalens/detect"
	"mangalens/internal/messaging"
	"mangalens/internal/settings"
)

type handlerFunc func(ctx context.Context, m messaging.Message) (any, error)

func (e *Engine) registerHandlers() {
	e.handlers = map[string]handlerFunc{
		messaging.ActionPing:                e.handlePing,
		messaging.ActionLaunchViewer:        e.handleLaunchViewer,
		messaging.ActionTestDetection:       e.handleTestDetection,
		messaging.ActionUpdateSiteMode:      e.handleSiteMode,
		messaging.ActionUpdateDetectionMode: e.handleDetectionMode,
		messaging.ActionUpdateDisplayMode:   e.handleDisplayMode,
		messaging.ActionUpdateBackground:    e.handleBackground,
		messaging.ActionUpdateThreshold:     e.handleThreshold,
	}
}

// Handle dispatches one message. Fire-and-forget actions return a nil
// response.
func (e *Engine) Handle(ctx context.Context, m messaging.Message) (any, error) {
	h, ok := e.handlers[m.Action]
	if !ok {
		return nil, &messaging.Error{Code: messaging.ErrCodeUnknownAction, Action: m.Action}
	}
	return h(ctx, m)
}

func (e *Engine) handlePing(context.Context, messaging.Message) (any, error) {
	return messaging.PongResponse{Status: "pong"}, nil
}

func (e *Engine) handleLaunchViewer(context.Context, messaging.Message) (any, error) {
	e.ctrl.RunNow(reasonLaunch)
	s := e.Session()
	// the launch cutoff is fixed; MinAccept only tunes the auto search
	if len(s.Results) < detect.DefaultMinAccept {
		return messaging.LaunchResponse{Success: false, Reason: messaging.ReasonInsufficientImages}, nil
	}
	e.view.Open(s.Results)
	return messaging.LaunchResponse{Success: true}, nil
}

// handleTestDetection runs every strategy independently without touching
// the session.
func (e *Engine) handleTestDetection(ctx context.Context, _ messaging.Message) (any, error) {
	resp := messaging.TestDetectionResponse{Results: map[string]int{}}
	doc, err := e.src.Snapshot(ctx)
	if err != nil {
		e.logger.Printf("engine %s: testDetection snapshot: %v", e.ID(), err)
		return resp, nil
	}
	threshold := e.Session().Threshold
	for _, c := range e.orch.Diagnose(detect.Env{Doc: doc, CanvasThreshold: threshold}) {
		resp.Results[string(c.Name)] = c.Count
	}
	resp.Success = true
	return resp, nil
}

func (e *Engine) handleSiteMode(_ context.Context, m messaging.Message) (any, error) {
	var p messaging.SiteModePayload
	if err := m.Decode(&p); err != nil {
		return nil, err
	}
	if p.Mode != settings.ModeShow && p.Mode != settings.ModeHide {
		return nil, badPayload(m, fmt.Errorf("mode %q", p.Mode))
	}
	enabled := p.Mode == settings.ModeShow
	e.mu.Lock()
	e.session.Enabled = enabled
	e.persistSiteLocked()
	e.mu.Unlock()
	e.view.SetToggleVisible(enabled)
	if enabled {
		e.ctrl.Schedule(messaging.ActionUpdateSiteMode)
	} else {
		e.view.Close()
	}
	return nil, nil
}

func (e *Engine) handleDetectionMode(_ context.Context, m messaging.Message) (any, error) {
	var p messaging.DetectionModePayload
	if err := m.Decode(&p); err != nil {
		return nil, err
	}
	mode, err := detect.ParseMode(p.Mode)
	if err != nil {
		return nil, badPayload(m, err)
	}
	e.mu.Lock()
	e.session.Mode = mode
	if mode == detect.Auto {
		e.stored = ""
	} else {
		e.stored = mode
	}
	e.persistSiteLocked()
	e.mu.Unlock()
	e.ctrl.Schedule(messaging.ActionUpdateDetectionMode)
	return nil, nil
}

func (e *Engine) handleDisplayMode(_ context.Context, m messaging.Message) (any, error) {
	var p messaging.DisplayModePayload
	if err := m.Decode(&p); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.session.SinglePage = p.IsSingle
	e.persistSiteLocked()
	e.mu.Unlock()
	e.view.SetSinglePage(p.IsSingle)
	return nil, nil
}

func (e *Engine) handleBackground(_ context.Context, m messaging.Message) (any, error) {
	var p messaging.BackgroundPayload
	if err := m.Decode(&p); err != nil {
		return nil, err
	}
	hex, err := settings.NormalizeBackground(p.Color)
	if err != nil {
		return nil, badPayload(m, err)
	}
	e.mu.Lock()
	e.session.Background = hex
	e.persistGlobalLocked()
	e.mu.Unlock()
	e.view.SetBackground(hex)
	return nil, nil
}

func (e *Engine) handleThreshold(_ context.Context, m messaging.Message) (any, error) {
	var p messaging.ThresholdPayload
	if err := m.Decode(&p); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.session.Threshold = detect.ClampThreshold(p.Threshold)
	e.persistGlobalLocked()
	e.mu.Unlock()
	e.ctrl.Schedule(messaging.ActionUpdateThreshold)
	return nil, nil
}

func badPayload(m messaging.Message, err error) error {
	return &messaging.Error{Code: messaging.ErrCodeBadPayload, Action: m.Action, Err: err}
}
