package realtime

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Outbound client events.
const (
	EventSessionUpdate          = "session.update"
	EventInputAudioBufferAppend = "input_audio_buffer.append"
	EventConversationItemCreate = "conversation.item.create"
	EventResponseCreate         = "response.create"
)

// Inbound server events the classifier recognizes.
const (
	EventSessionCreated              = "session.created"
	EventSessionUpdated              = "session.updated"
	EventInputTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventOutputAudioTranscriptDone   = "response.output_audio_transcript.done"
	EventAudioTranscriptDoneLegacy   = "response.audio_transcript.done"
	EventOutputAudioDelta            = "response.output_audio.delta"
	EventAudioDeltaLegacy            = "response.audio.delta"
	EventOutputItemDone              = "response.output_item.done"
	EventConversationItemCreated     = "conversation.item.created"
	EventConversationItemDone        = "conversation.item.done"
	EventFunctionCallArgumentsDone   = "response.function_call_arguments.done"
	EventError                       = "error"
)

const (
	ItemTypeFunctionCall       = "function_call"
	ItemTypeFunctionCallOutput = "function_call_output"
)

const (
	DefaultTranscriptionModel = "whisper-1"
	DefaultTurnDetection      = "server_vad"
	DefaultAudioFormat        = "audio/pcm"
	DefaultSampleRate         = 24000

	defaultToolChoice      = "auto"
	defaultSessionType     = "realtime"
	defaultMaxOutputTokens = 4096
)

type SessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type SessionConfig struct {
	Type            string              `json:"type"`
	Instructions    string              `json:"instructions"`
	Tools           jsoniter.RawMessage `json:"tools,omitempty"`
	ToolChoice      string              `json:"tool_choice,omitempty"`
	MaxOutputTokens int                 `json:"max_output_tokens,omitempty"`
	Audio           *AudioConfig        `json:"audio,omitempty"`
}

type AudioConfig struct {
	Input  *AudioInputConfig  `json:"input,omitempty"`
	Output *AudioOutputConfig `json:"output,omitempty"`
}

type AudioFormat struct {
	Type string `json:"type"`
	Rate int    `json:"rate,omitempty"`
}

type AudioInputConfig struct {
	Format        *AudioFormat         `json:"format,omitempty"`
	Transcription *TranscriptionConfig `json:"transcription,omitempty"`
	TurnDetection *TurnDetection       `json:"turn_detection,omitempty"`
}

type AudioOutputConfig struct {
	Format *AudioFormat `json:"format,omitempty"`
	Voice  string       `json:"voice,omitempty"`
}

type TranscriptionConfig struct {
	Model string `json:"model"`
}

type TurnDetection struct {
	Type string `json:"type"`
}

// NewSessionUpdate builds the one configuration message sent after the
// transport is established. instructions and tools are forwarded verbatim.
func NewSessionUpdate(instructions string, tools []byte, voice string) SessionUpdateEvent {
	return SessionUpdateEvent{
		Type: EventSessionUpdate,
		Session: SessionConfig{
			Type:            defaultSessionType,
			Instructions:    instructions,
			Tools:           tools,
			ToolChoice:      defaultToolChoice,
			MaxOutputTokens: defaultMaxOutputTokens,
			Audio: &AudioConfig{
				Input: &AudioInputConfig{
					Format:        &AudioFormat{Type: DefaultAudioFormat, Rate: DefaultSampleRate},
					Transcription: &TranscriptionConfig{Model: DefaultTranscriptionModel},
					TurnDetection: &TurnDetection{Type: DefaultTurnDetection},
				},
				Output: &AudioOutputConfig{
					Format: &AudioFormat{Type: DefaultAudioFormat, Rate: DefaultSampleRate},
					Voice:  voice,
				},
			},
		},
	}
}

type InputAudioBufferAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

func NewAudioAppend(encoded string) InputAudioBufferAppendEvent {
	return InputAudioBufferAppendEvent{Type: EventInputAudioBufferAppend, Audio: encoded}
}

type ConversationItemCreateEvent struct {
	Type string             `json:"type"`
	Item FunctionCallOutput `json:"item"`
}

type FunctionCallOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// NewToolResult wraps a result payload as a function_call_output item. The
// output field carries the payload as a JSON string.
func NewToolResult(callID string, result interface{}) (ConversationItemCreateEvent, error) {
	output, err := json.MarshalToString(result)
	if err != nil {
		return ConversationItemCreateEvent{}, err
	}
	return ConversationItemCreateEvent{
		Type: EventConversationItemCreate,
		Item: FunctionCallOutput{
			Type:   ItemTypeFunctionCallOutput,
			CallID: callID,
			Output: output,
		},
	}, nil
}

type ResponseCreateEvent struct {
	Type string `json:"type"`
}

func NewResponseCreate() ResponseCreateEvent {
	return ResponseCreateEvent{Type: EventResponseCreate}
}

// serverEvent is the union of every inbound shape the classifier reads.
type serverEvent struct {
	Type       string              `json:"type"`
	EventID    string              `json:"event_id"`
	Transcript string              `json:"transcript"`
	Delta      string              `json:"delta"`
	Item       *serverItem         `json:"item"`
	ItemID     string              `json:"item_id"`
	CallID     string              `json:"call_id"`
	Name       string              `json:"name"`
	Arguments  jsoniter.RawMessage `json:"arguments"`
	Error      *serverError        `json:"error"`
}

type serverItem struct {
	ID        string              `json:"id"`
	Type      string              `json:"type"`
	Status    string              `json:"status"`
	Name      string              `json:"name"`
	CallID    string              `json:"call_id"`
	Arguments jsoniter.RawMessage `json:"arguments"`
}

type serverError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}
