package deepgram

import (
	"encoding/json"
	"strings"
)

// MessageType is the "type" field carried by every JSON frame on /v1/listen.
type MessageType string

const (
	MessageTypeResults       MessageType = "Results"
	MessageTypeMetadata      MessageType = "Metadata"
	MessageTypeSpeechStarted MessageType = "SpeechStarted"
	MessageTypeUtteranceEnd  MessageType = "UtteranceEnd"
	MessageTypeError         MessageType = "Error"

	MessageTypeKeepAlive   MessageType = "KeepAlive"
	MessageTypeFinalize    MessageType = "Finalize"
	MessageTypeCloseStream MessageType = "CloseStream"
)

type Word struct {
	Word           string  `json:"word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	PunctuatedWord string  `json:"punctuated_word,omitempty"`
	Speaker        *int    `json:"speaker,omitempty"`
}

type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words,omitempty"`
}

type Channel struct {
	Alternatives []Alternative `json:"alternatives"`
}

type ModelInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Arch    string `json:"arch"`
}

type ResultMetadata struct {
	RequestID string    `json:"request_id"`
	ModelUUID string    `json:"model_uuid,omitempty"`
	ModelInfo ModelInfo `json:"model_info"`
}

// Result is a transcript frame. IsFinal marks a segment that will not be
// revised; SpeechFinal marks the end of an utterance detected by endpointing;
// FromFinalize marks the frame that answers a Finalize request.
type Result struct {
	Type         MessageType    `json:"type"`
	ChannelIndex []int          `json:"channel_index"`
	Start        float64        `json:"start"`
	Duration     float64        `json:"duration"`
	IsFinal      bool           `json:"is_final"`
	SpeechFinal  bool           `json:"speech_final"`
	FromFinalize bool           `json:"from_finalize"`
	Channel      Channel        `json:"channel"`
	Metadata     ResultMetadata `json:"metadata"`
}

// Transcript returns the top alternative, trimmed.
func (r *Result) Transcript() string {
	if len(r.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Channel.Alternatives[0].Transcript)
}

// Metadata is sent once by the server after CloseStream, before it closes.
type Metadata struct {
	Type           MessageType          `json:"type"`
	TransactionKey string               `json:"transaction_key"`
	RequestID      string               `json:"request_id"`
	SHA256         string               `json:"sha256"`
	Created        string               `json:"created"`
	Duration       float64              `json:"duration"`
	Channels       int                  `json:"channels"`
	Models         []string             `json:"models"`
	ModelInfo      map[string]ModelInfo `json:"model_info,omitempty"`
}

type SpeechStarted struct {
	Type      MessageType `json:"type"`
	Channel   []int       `json:"channel"`
	Timestamp float64     `json:"timestamp"`
}

type UtteranceEnd struct {
	Type        MessageType `json:"type"`
	Channel     []int       `json:"channel"`
	LastWordEnd float64     `json:"last_word_end"`
}

type ErrorMessage struct {
	Type        MessageType `json:"type"`
	Description string      `json:"description"`
	Message     string      `json:"message"`
	Variant     string      `json:"variant,omitempty"`
}

type envelope struct {
	Type MessageType `json:"type"`
}

func peekType(data []byte) (MessageType, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

// ControlMessage is a JSON text frame sent by the client.
type ControlMessage struct {
	Type MessageType `json:"type"`
}

func NewKeepAliveMessage() ControlMessage {
	return ControlMessage{Type: MessageTypeKeepAlive}
}

func NewFinalizeMessage() ControlMessage {
	return ControlMessage{Type: MessageTypeFinalize}
}

func NewCloseStreamMessage() ControlMessage {
	return ControlMessage{Type: MessageTypeCloseStream}
}
