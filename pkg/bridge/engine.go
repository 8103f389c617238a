package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haivivi/voicebridge/pkg/realtime"
	"github.com/haivivi/voicebridge/pkg/sink"
	"github.com/haivivi/voicebridge/pkg/toolrpc"
)

// runEngine dials the engine for s and relays its events until the
// connection ends.
func (svc *Service) runEngine(s *Session) {
	dialCtx, cancel := context.WithTimeout(s.ctx, svc.cfg.HandshakeTimeout)
	eng, err := svc.cfg.Connector.Connect(dialCtx, svc.connectConfig())
	cancel()
	if err != nil {
		s.logger.Error("engine connect failed", "error", err)
		s.lifecycle(sink.KindError, map[string]any{"reason": "engine connect failed", "error": err.Error()})
		s.Close("engine connect failed")
		return
	}
	if !s.setEngine(eng) {
		eng.Close()
		return
	}
	s.logger.Debug("engine connected")

	for ev, err := range eng.Events() {
		if err != nil {
			var pe *realtime.ProtocolError
			if errors.As(err, &pe) {
				s.logger.Warn("dropped engine frame", "error", err)
				continue
			}
			s.logger.Warn("engine connection lost", "error", err)
			s.Close("engine connection lost")
			return
		}
		if err := s.handleEvent(ev); err != nil {
			s.logger.Warn("engine event failed", "type", ev.EventType(), "error", err)
			var te *realtime.TransportError
			if errors.As(err, &te) {
				s.Close("engine send failed")
				return
			}
		}
	}
	s.Close("engine closed")
}

func (s *Session) handleEvent(ev realtime.Event) error {
	s.touch()
	switch e := ev.(type) {
	case *realtime.SessionUpdated:
		return s.activate(e.SessionID)

	case *realtime.AudioDelta:
		leg := s.callLeg()
		if leg == nil {
			return nil
		}
		out, err := s.out.Convert(e.Audio)
		if err != nil {
			return err
		}
		return leg.SendMedia(out)

	case *realtime.TextDelta:
		s.appendText(e.ResponseID, e.ItemID, e.Delta)

	case *realtime.TextDone:
		s.completeText(e.ItemID, e.Text)

	case *realtime.ResponseDone:
		s.flushText(e.ResponseID)

	case *realtime.InputTranscriptionCompleted:
		s.transcript(sink.RoleUser, e.Transcript)

	case *realtime.SpeechStarted:
		// Barge-in: drop assistant audio the far end has not played yet.
		if leg := s.callLeg(); leg != nil {
			return leg.SendClear()
		}

	case *realtime.FunctionCallArgumentsDelta:
		s.logger.Debug("tool call in progress", "tool_call_id", e.CallID)

	case *realtime.FunctionCallArgumentsDone:
		go s.callTool(e)

	case *realtime.EngineError:
		s.logger.Warn("engine error", "type", e.Err.Type, "code", e.Err.Code, "message", e.Err.Message)
		s.lifecycle(sink.KindError, map[string]any{
			"type":    e.Err.Type,
			"code":    e.Err.Code,
			"message": e.Err.Message,
		})
		if s.svc.cfg.TeardownOnError {
			s.Close("engine error")
		}
	}
	return nil
}

// callTool runs an engine-initiated tool call and returns the result, or
// {"error": msg}, to the engine before asking it to continue.
func (s *Session) callTool(e *realtime.FunctionCallArgumentsDone) {
	logger := s.logger.With("tool", e.Name, "tool_call_id", e.CallID)

	var result any
	var err error
	if reg := s.svc.cfg.Tools; reg != nil {
		result, err = reg.Invoke(s.ctx, e.Name, json.RawMessage(e.Arguments))
	} else {
		err = &toolrpc.NotFoundError{Name: e.Name}
	}
	if err != nil {
		logger.Warn("tool call failed", "code", toolrpc.Code(err), "error", err)
		result = map[string]string{"error": err.Error()}
	}
	output, merr := json.Marshal(result)
	if merr != nil {
		output, _ = json.Marshal(map[string]string{"error": merr.Error()})
	}
	s.transcript(sink.RoleTool, fmt.Sprintf("%s(%s) -> %s", e.Name, e.Arguments, output))

	eng := s.engineSession()
	if eng == nil || s.Status() == StatusClosed {
		return
	}
	if err := eng.AddFunctionCallOutput(e.CallID, string(output)); err != nil {
		logger.Warn("tool output not delivered", "error", err)
		return
	}
	if err := eng.CreateResponse(nil); err != nil {
		logger.Warn("response request failed", "error", err)
	}
}
