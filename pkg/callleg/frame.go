// Package callleg speaks the telephony media-stream protocol on the
// caller-facing side of the bridge: JSON frames over a websocket carrying
// base64 audio.
package callleg

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Frame event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
	EventClear     = "clear"
)

// Frame is one decoded inbound frame: *Connected, *Start, *Media, *Stop,
// *Mark or *DTMF.
type Frame interface {
	Event() string
}

// Connected is the first frame of a stream.
type Connected struct {
	Protocol string
}

// Start reveals the call the stream belongs to.
type Start struct {
	StreamSID        string
	CallSID          string
	AccountSID       string
	Encoding         string
	SampleRate       int
	CustomParameters map[string]string
}

// Media carries one chunk of caller audio.
type Media struct {
	StreamSID string
	Track     string
	Chunk     string
	Payload   []byte
}

// Stop ends the stream.
type Stop struct {
	StreamSID string
	CallSID   string
}

// Mark acknowledges playback of a previously sent mark.
type Mark struct {
	StreamSID string
	Name      string
}

// DTMF carries a keypad digit.
type DTMF struct {
	StreamSID string
	Digit     string
}

func (*Connected) Event() string { return EventConnected }
func (*Start) Event() string     { return EventStart }
func (*Media) Event() string     { return EventMedia }
func (*Stop) Event() string      { return EventStop }
func (*Mark) Event() string      { return EventMark }
func (*DTMF) Event() string      { return EventDTMF }

type wireFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
	Start     *struct {
		StreamSID        string            `json:"streamSid"`
		CallSID          string            `json:"callSid"`
		AccountSID       string            `json:"accountSid"`
		CustomParameters map[string]string `json:"customParameters"`
		MediaFormat      struct {
			Encoding   string `json:"encoding"`
			SampleRate int    `json:"sampleRate"`
		} `json:"mediaFormat"`
	} `json:"start,omitempty"`
	Media *wireMedia `json:"media,omitempty"`
	Stop  *struct {
		CallSID string `json:"callSid"`
	} `json:"stop,omitempty"`
	Mark *wireMark `json:"mark,omitempty"`
	DTMF *struct {
		Digit string `json:"digit"`
	} `json:"dtmf,omitempty"`
}

type wireMedia struct {
	Track   string `json:"track,omitempty"`
	Chunk   string `json:"chunk,omitempty"`
	Payload string `json:"payload"`
}

type wireMark struct {
	Name string `json:"name"`
}

// ProtocolError reports an inbound frame that was dropped.
type ProtocolError struct {
	Event  string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "callleg: protocol: " + e.Reason
	if e.Event != "" {
		msg += " (" + e.Event + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError reports a failure of the call-leg connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("callleg: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeFrame decodes one inbound frame. Malformed frames, unknown events
// and frames missing required fields return a *ProtocolError.
func DecodeFrame(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &ProtocolError{Reason: "malformed frame", Err: err}
	}

	switch w.Event {
	case EventConnected:
		return &Connected{Protocol: w.Protocol}, nil

	case EventStart:
		if w.Start == nil || w.Start.CallSID == "" {
			return nil, &ProtocolError{Event: w.Event, Reason: "missing start.callSid"}
		}
		sid := w.StreamSID
		if sid == "" {
			sid = w.Start.StreamSID
		}
		return &Start{
			StreamSID:        sid,
			CallSID:          w.Start.CallSID,
			AccountSID:       w.Start.AccountSID,
			Encoding:         w.Start.MediaFormat.Encoding,
			SampleRate:       w.Start.MediaFormat.SampleRate,
			CustomParameters: w.Start.CustomParameters,
		}, nil

	case EventMedia:
		if w.Media == nil {
			return nil, &ProtocolError{Event: w.Event, Reason: "missing media"}
		}
		payload, err := base64.StdEncoding.DecodeString(w.Media.Payload)
		if err != nil {
			return nil, &ProtocolError{Event: w.Event, Reason: "invalid base64 payload", Err: err}
		}
		return &Media{StreamSID: w.StreamSID, Track: w.Media.Track, Chunk: w.Media.Chunk, Payload: payload}, nil

	case EventStop:
		f := &Stop{StreamSID: w.StreamSID}
		if w.Stop != nil {
			f.CallSID = w.Stop.CallSID
		}
		return f, nil

	case EventMark:
		f := &Mark{StreamSID: w.StreamSID}
		if w.Mark != nil {
			f.Name = w.Mark.Name
		}
		return f, nil

	case EventDTMF:
		f := &DTMF{StreamSID: w.StreamSID}
		if w.DTMF != nil {
			f.Digit = w.DTMF.Digit
		}
		return f, nil

	case "":
		return nil, &ProtocolError{Reason: "frame has no event"}
	}
	return nil, &ProtocolError{Event: w.Event, Reason: "unrecognized event"}
}

// EncodeMedia builds an outbound media frame.
func EncodeMedia(streamSID string, payload []byte) ([]byte, error) {
	return json.Marshal(wireFrame{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &wireMedia{Payload: base64.StdEncoding.EncodeToString(payload)},
	})
}

// EncodeClear builds a frame telling the far end to drop queued playback.
func EncodeClear(streamSID string) ([]byte, error) {
	return json.Marshal(wireFrame{Event: EventClear, StreamSID: streamSID})
}

// EncodeMark builds a mark frame, echoed back once playback reaches it.
func EncodeMark(streamSID, name string) ([]byte, error) {
	return json.Marshal(wireFrame{Event: EventMark, StreamSID: streamSID, Mark: &wireMark{Name: name}})
}
