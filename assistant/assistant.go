// Package assistant ties capture, transcription and answer generation into
// the two actions a user performs during a call: toggle recording and
// analyze what was said.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/moxierobots/deepgram-assist-go/answer"
	"github.com/moxierobots/deepgram-assist-go/capture"
	"github.com/moxierobots/deepgram-assist-go/session"
)

var (
	ErrRecording    = errors.New("assistant: stop recording before analyzing")
	ErrNoTranscript = errors.New("assistant: nothing was transcribed")
)

type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// SourceFactory opens a fresh audio source for each recording.
type SourceFactory func() (capture.Source, error)

type Options struct {
	Transcriber *session.Transcriber
	Generator   *answer.Generator
	NewSource   SourceFactory

	OnStateChange func(oldState, newState State)
	Logger        *slog.Logger
}

type Assistant struct {
	transcriber *session.Transcriber
	generator   *answer.Generator
	newSource   SourceFactory
	onState     func(oldState, newState State)
	log         *slog.Logger

	mu         sync.Mutex
	state      State
	transcript string
	streamErr  chan error
}

func New(opts Options) *Assistant {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Assistant{
		transcriber: opts.Transcriber,
		generator:   opts.Generator,
		newSource:   opts.NewSource,
		onState:     opts.OnStateChange,
		log:         opts.Logger,
	}
}

func (a *Assistant) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Transcript returns the transcript of the last finished recording.
func (a *Assistant) Transcript() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transcript
}

// Toggle starts a recording when idle and stops it when recording. ctx
// bounds the recording itself, not just the call.
func (a *Assistant) Toggle(ctx context.Context) (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	if a.state == StateRecording {
		err = a.stopLocked(ctx)
	} else {
		err = a.startLocked(ctx)
	}
	return a.state, err
}

func (a *Assistant) startLocked(ctx context.Context) error {
	src, err := a.newSource()
	if err != nil {
		return fmt.Errorf("open audio source: %w", err)
	}

	// The device is opened before connecting so that a missing device fails
	// the toggle instead of an empty recording.
	srcCtx, cancelSrc := context.WithCancel(ctx)
	chunks, err := src.Start(srcCtx)
	if err != nil {
		cancelSrc()
		src.Close()
		return fmt.Errorf("start audio source: %w", err)
	}
	running := &runningSource{
		chunks: chunks,
		stop: func() error {
			cancelSrc()
			return src.Close()
		},
	}

	if err := a.transcriber.Start(ctx); err != nil {
		running.Close()
		return err
	}

	streamErr := make(chan error, 1)
	go func() {
		err := a.transcriber.Stream(ctx, running)
		if err != nil {
			a.log.Error("audio stream ended", "session", a.transcriber.ID(), "error", err)
		}
		streamErr <- err
	}()

	a.streamErr = streamErr
	a.transcript = ""
	a.setStateLocked(StateRecording)
	return nil
}

func (a *Assistant) stopLocked(ctx context.Context) error {
	transcript, err := a.transcriber.Stop(ctx)
	if a.streamErr != nil {
		err = errors.Join(err, <-a.streamErr)
		a.streamErr = nil
	}
	a.transcript = transcript
	a.setStateLocked(StateIdle)
	return err
}

// runningSource hands an already started source to the transcriber.
type runningSource struct {
	chunks <-chan []byte
	stop   func() error
}

func (s *runningSource) Start(context.Context) (<-chan []byte, error) {
	return s.chunks, nil
}

func (s *runningSource) Close() error {
	return s.stop()
}

func (a *Assistant) setStateLocked(s State) {
	old := a.state
	a.state = s
	if a.onState != nil && old != s {
		a.onState(old, s)
	}
}

// Analyze drafts answers for the last recording.
func (a *Assistant) Analyze(ctx context.Context) (*answer.Answers, error) {
	a.mu.Lock()
	state, transcript := a.state, a.transcript
	a.mu.Unlock()

	if state == StateRecording {
		return nil, ErrRecording
	}
	if transcript == "" {
		return nil, ErrNoTranscript
	}
	return a.generator.Answer(ctx, transcript)
}

// Close stops an active recording.
func (a *Assistant) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateRecording {
		return nil
	}
	return a.stopLocked(ctx)
}
