package deepgram

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultWebSocketURL      = "wss://api.deepgram.com/v1/listen"
	DefaultRESTURL           = "https://api.deepgram.com/v1/listen"
	DefaultBufferQueueSize   = 1000
	DefaultKeepAliveInterval = 5 * time.Second
	DefaultConnectTimeout    = 30 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultModel             = "nova-2"
	DefaultLanguage          = "en-US"
	DefaultEncoding          = "linear16"
	DefaultStreamChunkSize   = 4096
)

// APIKeyFunc returns an API key dynamically (e.g. short-lived keys).
type APIKeyFunc func() (string, error)

type ClientOptions struct {
	WebSocketURL      string
	APIKey            string
	APIKeyFunc        APIKeyFunc // takes precedence over APIKey
	BufferQueueSize   int
	KeepAlive         bool
	KeepAliveInterval time.Duration
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration

	OnStateChange   func(oldState, newState State)
	OnOpen          func()
	OnResult        func(result *Result)
	OnFinalized     func(result *Result)
	OnMetadata      func(metadata *Metadata)
	OnSpeechStarted func(event *SpeechStarted)
	OnUtteranceEnd  func(event *UtteranceEnd)
	OnFinished      func()
	OnDisconnected  func(reason string)
	OnError         func(err *Error)
	OnUnhandled     func(raw []byte)
}

// LiveOptions are sent as query parameters of the listen request.
type LiveOptions struct {
	Model          string
	Language       string
	SmartFormat    bool
	Punctuate      bool
	Encoding       string
	SampleRate     int
	Channels       int
	InterimResults bool
	// Endpointing is the silence in milliseconds that ends an utterance.
	// Zero keeps the server default, negative disables endpointing.
	Endpointing    int
	UtteranceEndMs int
	VADEvents      bool
	Diarize        bool
	Keywords       []string
	Tag            string

	// Per-session callback overrides (take precedence over ClientOptions).
	OnStateChange   func(oldState, newState State)
	OnOpen          func()
	OnResult        func(result *Result)
	OnFinalized     func(result *Result)
	OnMetadata      func(metadata *Metadata)
	OnSpeechStarted func(event *SpeechStarted)
	OnUtteranceEnd  func(event *UtteranceEnd)
	OnFinished      func()
	OnDisconnected  func(reason string)
	OnError         func(err *Error)
	OnUnhandled     func(raw []byte)
}

func (o *ClientOptions) applyDefaults() {
	if o.WebSocketURL == "" {
		o.WebSocketURL = DefaultWebSocketURL
	}
	if o.BufferQueueSize == 0 {
		o.BufferQueueSize = DefaultBufferQueueSize
	}
	if o.KeepAliveInterval == 0 {
		o.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
}

func (o *LiveOptions) applyDefaults() {
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.Language == "" {
		o.Language = DefaultLanguage
	}
	if o.Encoding == "" && o.SampleRate > 0 {
		o.Encoding = DefaultEncoding
	}
}

// Query encodes the options as listen query parameters. Fields at their zero
// value are omitted so that the server default applies.
func (o *LiveOptions) Query() url.Values {
	q := url.Values{}
	q.Set("model", o.Model)
	if o.Language != "" {
		q.Set("language", o.Language)
	}
	if o.SmartFormat {
		q.Set("smart_format", "true")
	}
	if o.Punctuate {
		q.Set("punctuate", "true")
	}
	if o.Encoding != "" {
		q.Set("encoding", o.Encoding)
	}
	if o.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(o.SampleRate))
	}
	if o.Channels > 0 {
		q.Set("channels", strconv.Itoa(o.Channels))
	}
	q.Set("interim_results", strconv.FormatBool(o.InterimResults))
	switch {
	case o.Endpointing > 0:
		q.Set("endpointing", strconv.Itoa(o.Endpointing))
	case o.Endpointing < 0:
		q.Set("endpointing", "false")
	}
	if o.UtteranceEndMs > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(o.UtteranceEndMs))
	}
	if o.VADEvents {
		q.Set("vad_events", "true")
	}
	if o.Diarize {
		q.Set("diarize", "true")
	}
	for _, kw := range o.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			q.Add("keywords", kw)
		}
	}
	if o.Tag != "" {
		q.Set("tag", o.Tag)
	}
	return q
}

func (o *LiveOptions) endpoint(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range o.Query() {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type SendStreamOptions struct {
	ChunkSize    int
	PaceInterval time.Duration
	Finish       bool // calls Stop() after the stream is fully sent
}
