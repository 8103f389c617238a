// Package realtime connects to a speech-reasoning engine that speaks the
// OpenAI Realtime websocket protocol.
//
// One Session is opened per call. Connect dials the engine and, when a
// SessionConfig is supplied, immediately sends session.update declaring the
// audio formats, voice, turn-detection policy and tools. Outbound frames
// are queued and written by a single writer goroutine, so sends never block
// the caller; a full queue or a dead connection is reported as a
// *TransportError.
//
// Inbound frames are decoded into typed events:
//
//	for ev, err := range sess.Events() {
//	    var perr *realtime.ProtocolError
//	    if errors.As(err, &perr) {
//	        continue // bad frame, connection still usable
//	    }
//	    if err != nil {
//	        return err // connection is gone
//	    }
//	    switch ev := ev.(type) {
//	    case *realtime.AudioDelta:
//	        play(ev.Audio)
//	    case *realtime.FunctionCallArgumentsDone:
//	        runTool(ev.Name, ev.Arguments)
//	    }
//	}
package realtime
