package session

import (
	"log/slog"
	"time"

	deepgram "github.com/moxierobots/deepgram-assist-go"
	"github.com/moxierobots/deepgram-assist-go/capture"
)

const (
	DefaultKeepAliveEvery  = 5
	DefaultFinalizeTimeout = 2 * time.Second
	DefaultCloseTimeout    = 5 * time.Second
	DefaultEndpointingMs   = 10000
)

type Options struct {
	Client deepgram.ClientOptions
	Live   deepgram.LiveOptions

	// KeepAliveEvery sends a KeepAlive frame after every N audio chunks.
	// Negative disables it.
	KeepAliveEvery int
	// FinalizeTimeout bounds the wait for the from_finalize result on Stop.
	FinalizeTimeout time.Duration
	// CloseTimeout bounds the wait for the server to close after CloseStream.
	CloseTimeout time.Duration
	// RecordDir, when set, receives a WAV copy of every session.
	RecordDir string

	OnTranscript func(segment string)
	OnUtterance  func(utterance string)

	Logger *slog.Logger
}

// DefaultLiveOptions mirrors the settings the assistant streams with:
// mono linear16 at the given rate, final results only, 10 s endpointing.
func DefaultLiveOptions(sampleRate int) deepgram.LiveOptions {
	if sampleRate <= 0 {
		sampleRate = capture.DefaultSampleRate
	}
	return deepgram.LiveOptions{
		Model:          deepgram.DefaultModel,
		Language:       deepgram.DefaultLanguage,
		SmartFormat:    true,
		Encoding:       deepgram.DefaultEncoding,
		SampleRate:     sampleRate,
		Channels:       1,
		InterimResults: false,
		Endpointing:    DefaultEndpointingMs,
	}
}

func (o *Options) applyDefaults() {
	if o.KeepAliveEvery == 0 {
		o.KeepAliveEvery = DefaultKeepAliveEvery
	}
	if o.FinalizeTimeout <= 0 {
		o.FinalizeTimeout = DefaultFinalizeTimeout
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = DefaultCloseTimeout
	}
	if o.Live.SampleRate <= 0 {
		o.Live.SampleRate = capture.DefaultSampleRate
	}
	if o.Live.Channels <= 0 {
		o.Live.Channels = capture.DefaultChannels
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}
