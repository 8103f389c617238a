package realtime

import (
	"encoding/base64"
	"encoding/json"
)

// Client frame types.
const (
	EventTypeSessionUpdate           = "session.update"
	EventTypeInputAudioBufferAppend  = "input_audio_buffer.append"
	EventTypeInputAudioBufferCommit  = "input_audio_buffer.commit"
	EventTypeInputAudioBufferClear   = "input_audio_buffer.clear"
	EventTypeConversationItemCreate  = "conversation.item.create"
	EventTypeResponseCreate          = "response.create"
	EventTypeResponseCancel          = "response.cancel"
)

// Server frame types.
const (
	EventTypeError         = "error"
	EventTypeResponseError = "response.error"

	EventTypeSessionCreated = "session.created"
	EventTypeSessionUpdated = "session.updated"

	EventTypeInputTranscriptionCompleted     = "input_audio_transcription.completed"
	EventTypeItemInputTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventTypeItemInputTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	EventTypeItemInputTranscriptionFailed    = "conversation.item.input_audio_transcription.failed"

	EventTypeInputAudioBufferCommitted     = "input_audio_buffer.committed"
	EventTypeInputAudioBufferCleared       = "input_audio_buffer.cleared"
	EventTypeInputAudioBufferSpeechStarted = "input_audio_buffer.speech_started"
	EventTypeInputAudioBufferSpeechStopped = "input_audio_buffer.speech_stopped"

	EventTypeResponseCreated          = "response.created"
	EventTypeResponseDone             = "response.done"
	EventTypeResponseOutputItemAdded  = "response.output_item.added"
	EventTypeResponseOutputItemDone   = "response.output_item.done"
	EventTypeResponseContentPartAdded = "response.content_part.added"
	EventTypeResponseContentPartDone  = "response.content_part.done"

	EventTypeResponseAudioDelta       = "response.audio.delta"
	EventTypeResponseAudioDone        = "response.audio.done"
	EventTypeResponseOutputAudioDelta = "response.output_audio.delta"
	EventTypeResponseOutputAudioDone  = "response.output_audio.done"

	EventTypeResponseTextDelta       = "response.text.delta"
	EventTypeResponseTextDone        = "response.text.done"
	EventTypeResponseOutputTextDelta = "response.output_text.delta"
	EventTypeResponseOutputTextDone  = "response.output_text.done"

	EventTypeResponseAudioTranscriptDelta       = "response.audio_transcript.delta"
	EventTypeResponseAudioTranscriptDone        = "response.audio_transcript.done"
	EventTypeResponseOutputAudioTranscriptDelta = "response.output_audio_transcript.delta"
	EventTypeResponseOutputAudioTranscriptDone  = "response.output_audio_transcript.done"

	EventTypeResponseFunctionCallArgumentsDelta = "response.function_call_arguments.delta"
	EventTypeResponseFunctionCallArgumentsDone  = "response.function_call_arguments.done"

	EventTypeConversationCreated     = "conversation.created"
	EventTypeConversationItemCreated = "conversation.item.created"
	EventTypeRateLimitsUpdated       = "rate_limits.updated"
)

// Event is one decoded server frame. The concrete type is one of the
// pointer types declared in this file.
type Event interface {
	EventType() string
	isEvent()
}

// Header carries the fields every server frame has.
type Header struct {
	Type    string
	EventID string
}

// EventType returns the wire type of the frame.
func (h Header) EventType() string { return h.Type }

func (Header) isEvent() {}

// SessionUpdated means the engine accepted a session.update.
type SessionUpdated struct {
	Header
	SessionID string
}

// AudioDelta is a fragment of synthesized audio in the session's output
// format.
type AudioDelta struct {
	Header
	ResponseID string
	ItemID     string
	Audio      []byte
}

// TextDelta is a fragment of the assistant transcript, either from a text
// response or from the transcript of an audio response.
type TextDelta struct {
	Header
	ResponseID string
	ItemID     string
	Delta      string
}

// TextDone carries the complete assistant text of one output item.
type TextDone struct {
	Header
	ResponseID string
	ItemID     string
	Text       string
}

// InputTranscriptionCompleted carries the transcript of caller audio.
type InputTranscriptionCompleted struct {
	Header
	ItemID     string
	Transcript string
}

// SpeechStarted means the engine detected the caller speaking.
type SpeechStarted struct {
	Header
	ItemID       string
	AudioStartMs int
}

// FunctionCallArgumentsDelta is a fragment of a tool call in progress.
type FunctionCallArgumentsDelta struct {
	Header
	ResponseID string
	ItemID     string
	CallID     string
	Delta      string
}

// FunctionCallArgumentsDone carries a complete tool call.
type FunctionCallArgumentsDone struct {
	Header
	ResponseID string
	ItemID     string
	CallID     string
	Name       string
	Arguments  string
}

// ResponseDone closes a response.
type ResponseDone struct {
	Header
	ResponseID string
	Status     string
}

// EngineError is an engine-reported runtime error.
type EngineError struct {
	Header
	Err *Error
}

// Notice is a recognized frame the bridge has no use for.
type Notice struct {
	Header
}

// frame is the union of all server frame fields.
type frame struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id"`
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	CallID       string `json:"call_id"`
	Name         string `json:"name"`
	Arguments    string `json:"arguments"`
	Delta        string `json:"delta"`
	Text         string `json:"text"`
	Transcript   string `json:"transcript"`
	AudioStartMs int    `json:"audio_start_ms"`
	Error        *Error `json:"error"`
	Session      *struct {
		ID string `json:"id"`
	} `json:"session"`
	Response *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
}

var notices = map[string]bool{
	EventTypeSessionCreated:                true,
	EventTypeConversationCreated:           true,
	EventTypeConversationItemCreated:       true,
	EventTypeItemInputTranscriptionDelta:   true,
	EventTypeInputAudioBufferCommitted:     true,
	EventTypeInputAudioBufferCleared:       true,
	EventTypeInputAudioBufferSpeechStopped: true,
	EventTypeResponseCreated:               true,
	EventTypeResponseOutputItemAdded:       true,
	EventTypeResponseOutputItemDone:        true,
	EventTypeResponseContentPartAdded:      true,
	EventTypeResponseContentPartDone:       true,
	EventTypeResponseAudioDone:             true,
	EventTypeResponseOutputAudioDone:       true,
	EventTypeRateLimitsUpdated:             true,
}

// DecodeEvent decodes one server frame. Malformed and unrecognized frames
// return a *ProtocolError.
func DecodeEvent(data []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &ProtocolError{Reason: "malformed frame", Err: err}
	}
	if f.Type == "" {
		return nil, &ProtocolError{Reason: "frame has no type"}
	}
	h := Header{Type: f.Type, EventID: f.EventID}

	switch f.Type {
	case EventTypeSessionUpdated:
		ev := &SessionUpdated{Header: h}
		if f.Session != nil {
			ev.SessionID = f.Session.ID
		}
		return ev, nil

	case EventTypeResponseAudioDelta, EventTypeResponseOutputAudioDelta:
		audio, err := base64.StdEncoding.DecodeString(f.Delta)
		if err != nil {
			return nil, &ProtocolError{Type: f.Type, Reason: "invalid base64 audio", Err: err}
		}
		return &AudioDelta{Header: h, ResponseID: f.ResponseID, ItemID: f.ItemID, Audio: audio}, nil

	case EventTypeResponseTextDelta, EventTypeResponseOutputTextDelta,
		EventTypeResponseAudioTranscriptDelta, EventTypeResponseOutputAudioTranscriptDelta:
		return &TextDelta{Header: h, ResponseID: f.ResponseID, ItemID: f.ItemID, Delta: f.Delta}, nil

	case EventTypeResponseTextDone, EventTypeResponseOutputTextDone:
		return &TextDone{Header: h, ResponseID: f.ResponseID, ItemID: f.ItemID, Text: f.Text}, nil

	case EventTypeResponseAudioTranscriptDone, EventTypeResponseOutputAudioTranscriptDone:
		return &TextDone{Header: h, ResponseID: f.ResponseID, ItemID: f.ItemID, Text: f.Transcript}, nil

	case EventTypeInputTranscriptionCompleted, EventTypeItemInputTranscriptionCompleted:
		return &InputTranscriptionCompleted{Header: h, ItemID: f.ItemID, Transcript: f.Transcript}, nil

	case EventTypeInputAudioBufferSpeechStarted:
		return &SpeechStarted{Header: h, ItemID: f.ItemID, AudioStartMs: f.AudioStartMs}, nil

	case EventTypeResponseFunctionCallArgumentsDelta:
		return &FunctionCallArgumentsDelta{
			Header: h, ResponseID: f.ResponseID, ItemID: f.ItemID, CallID: f.CallID, Delta: f.Delta,
		}, nil

	case EventTypeResponseFunctionCallArgumentsDone:
		return &FunctionCallArgumentsDone{
			Header: h, ResponseID: f.ResponseID, ItemID: f.ItemID,
			CallID: f.CallID, Name: f.Name, Arguments: f.Arguments,
		}, nil

	case EventTypeResponseDone:
		ev := &ResponseDone{Header: h, ResponseID: f.ResponseID}
		if f.Response != nil {
			ev.ResponseID = f.Response.ID
			ev.Status = f.Response.Status
		}
		return ev, nil

	case EventTypeError, EventTypeResponseError, EventTypeItemInputTranscriptionFailed:
		e := f.Error
		if e == nil {
			e = &Error{Message: "unspecified engine error"}
		}
		return &EngineError{Header: h, Err: e}, nil
	}

	if notices[f.Type] {
		return &Notice{Header: h}, nil
	}
	return nil, &ProtocolError{Type: f.Type, Reason: "unrecognized frame type"}
}
