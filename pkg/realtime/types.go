package realtime

// Models.
const (
	ModelGPT4oRealtimePreview     = "gpt-4o-realtime-preview"
	ModelGPT4oMiniRealtimePreview = "gpt-4o-mini-realtime-preview"
)

// Audio formats understood by the engine.
const (
	AudioFormatPCM16    = "pcm16"
	AudioFormatG711ULaw = "g711_ulaw"
	AudioFormatG711ALaw = "g711_alaw"
)

// Voices.
const (
	VoiceAlloy   = "alloy"
	VoiceAsh     = "ash"
	VoiceBallad  = "ballad"
	VoiceCoral   = "coral"
	VoiceEcho    = "echo"
	VoiceSage    = "sage"
	VoiceShimmer = "shimmer"
	VoiceVerse   = "verse"
)

// Turn detection types.
const (
	VADServerVAD   = "server_vad"
	VADSemanticVAD = "semantic_vad"
)

// Modalities.
const (
	ModalityText  = "text"
	ModalityAudio = "audio"
)

// Tool choices.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
)

// ConnectConfig configures Client.Connect.
type ConnectConfig struct {
	// Model is passed as the model query parameter.
	// Default: gpt-4o-realtime-preview
	Model string

	// Session, when set, is sent as session.update right after the
	// handshake.
	Session *SessionConfig
}

// SessionConfig is the payload of session.update.
type SessionConfig struct {
	Modalities              []string             `json:"modalities,omitzero"`
	Instructions            string               `json:"instructions,omitzero"`
	Voice                   string               `json:"voice,omitzero"`
	InputAudioFormat        string               `json:"input_audio_format,omitzero"`
	OutputAudioFormat       string               `json:"output_audio_format,omitzero"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitzero"`
	TurnDetection           *TurnDetection       `json:"turn_detection,omitzero"`
	Tools                   []Tool               `json:"tools,omitzero"`
	ToolChoice              string               `json:"tool_choice,omitzero"`
	Temperature             *float64             `json:"temperature,omitzero"`
}

// TranscriptionConfig enables transcription of caller audio.
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// TurnDetection is the voice-activity policy the engine uses to decide when
// the caller has finished speaking.
type TurnDetection struct {
	Type string `json:"type"`

	// Threshold is the activation threshold (0.0-1.0).
	Threshold float64 `json:"threshold,omitzero"`

	// PrefixPaddingMs is the audio kept before detected speech.
	PrefixPaddingMs int `json:"prefix_padding_ms,omitzero"`

	// SilenceDurationMs is the trailing silence that ends a turn.
	SilenceDurationMs int `json:"silence_duration_ms,omitzero"`
}

// Tool declares a function the engine may call.
type Tool struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitzero"`
	Parameters  any    `json:"parameters,omitzero"`
}

// ResponseCreateOptions is the optional payload of response.create.
type ResponseCreateOptions struct {
	Modalities   []string `json:"modalities,omitzero"`
	Instructions string   `json:"instructions,omitzero"`
}
