package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/haivivi/voicebridge/pkg/callleg"
	"github.com/haivivi/voicebridge/pkg/sink"
)

// attach returns the session for callID with leg attached, creating the
// session if none exists. A session created through the admin API is
// picked up here by the first leg that names its call id.
func (svc *Service) attach(ctx context.Context, callID string, leg callleg.Conn) (*Session, error) {
	s, err := svc.CreateSession(ctx, callID)
	if errors.Is(err, ErrSessionExists) {
		if s = svc.GetSession(callID); s == nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	if !s.attachLeg(leg) {
		return nil, ErrSessionExists
	}
	return s, nil
}

// ServeCallLeg reads frames from leg until it closes, relaying them to the
// call's session. Frames are handled in arrival order. When the leg ends
// the session is closed.
func (svc *Service) ServeCallLeg(ctx context.Context, leg callleg.Conn) error {
	stop := context.AfterFunc(ctx, func() { leg.Close() })
	defer stop()

	logger := svc.logger
	var s *Session
	reason := "call leg closed"
	defer func() {
		if s != nil {
			s.Close(reason)
		} else {
			leg.Close()
		}
	}()

	for frame, err := range leg.Frames() {
		if err != nil {
			var pe *callleg.ProtocolError
			if errors.As(err, &pe) {
				logger.Warn("dropped call leg frame", "error", err)
				continue
			}
			logger.Warn("call leg connection lost", "error", err)
			reason = "call leg connection lost"
			return nil
		}

		switch f := frame.(type) {
		case *callleg.Connected:
			logger.Debug("call leg connected", "protocol", f.Protocol)

		case *callleg.Start:
			if s != nil {
				logger.Warn("duplicate start frame ignored")
				continue
			}
			var err error
			s, err = svc.attach(ctx, f.CallSID, leg)
			if err != nil {
				logger.Warn("call leg rejected", "provider_call_id", f.CallSID, "error", err)
				return err
			}
			logger = s.logger
			payload := map[string]any{"stream_sid": f.StreamSID}
			if f.AccountSID != "" {
				payload["account_sid"] = f.AccountSID
			}
			for k, v := range f.CustomParameters {
				payload["param_"+k] = v
			}
			s.lifecycle(sink.KindCallStart, payload)

		case *callleg.Media:
			if s == nil {
				logger.Warn("media before start dropped")
				continue
			}
			if err := s.handleMedia(f.Payload); err != nil {
				if errors.Is(err, ErrPendingOverflow) {
					logger.Warn("engine not ready, pending audio limit exceeded")
					s.lifecycle(sink.KindError, map[string]any{"reason": err.Error()})
					reason = "pending audio limit exceeded"
					return err
				}
				logger.Warn("audio relay failed", "error", err)
				reason = "engine send failed"
				return nil
			}

		case *callleg.Stop:
			if s == nil {
				return nil
			}
			if err := s.handleStop(); err != nil {
				logger.Warn("response request failed", "error", err)
				reason = "engine send failed"
				return nil
			}
			s.lifecycle(sink.KindStop, nil)
			sess := s
			time.AfterFunc(svc.cfg.DrainTimeout, func() { sess.Close("drain timeout") })

		case *callleg.Mark:
			logger.Debug("mark", "name", f.Name)

		case *callleg.DTMF:
			logger.Debug("dtmf", "digit", f.Digit)
		}
	}
	return nil
}
