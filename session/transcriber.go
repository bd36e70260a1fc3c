// Package session drives one live transcription of captured audio: it opens
// the stream, pumps chunks with periodic keep-alives, and on Stop finalizes,
// closes and returns the transcript.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	deepgram "github.com/moxierobots/deepgram-assist-go"
	"github.com/moxierobots/deepgram-assist-go/capture"
)

var (
	ErrActive    = errors.New("session: transcription already running")
	ErrNotActive = errors.New("session: no transcription running")
	ErrStreaming = errors.New("session: audio is already streaming")
)

type Transcriber struct {
	opts      Options
	log       *slog.Logger
	client    *deepgram.Client
	assembler *Assembler

	mu           sync.Mutex
	active       bool
	id           string
	segments     []string
	chunks       int
	recorder     *capture.WAVRecorder
	sessionErr   error
	finalized    chan struct{}
	finalizeOnce *sync.Once
	finished     chan struct{}
	finishOnce   *sync.Once
	streamCancel context.CancelFunc
	streamDone   chan struct{}
}

func New(opts Options) *Transcriber {
	opts.applyDefaults()
	t := &Transcriber{
		opts: opts,
		log:  opts.Logger,
	}
	t.assembler = NewAssembler(t.emitUtterance)

	clientOpts := opts.Client
	clientOpts.OnStateChange = t.onStateChange
	clientOpts.OnOpen = t.onOpen
	clientOpts.OnResult = t.onResult
	clientOpts.OnFinalized = t.onFinalized
	clientOpts.OnMetadata = t.onMetadata
	clientOpts.OnUtteranceEnd = t.onUtteranceEnd
	clientOpts.OnDisconnected = t.onDisconnected
	clientOpts.OnError = t.onError
	t.client = deepgram.NewClient(clientOpts)
	return t
}

// ID returns the uuid of the current or last session.
func (t *Transcriber) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

func (t *Transcriber) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// State returns the state of the underlying connection.
func (t *Transcriber) State() deepgram.State {
	return t.client.State()
}

// Transcript returns the final segments received so far, space separated.
func (t *Transcriber) Transcript() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.segments, " ")
}

// Start opens a new transcription session.
func (t *Transcriber) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		return ErrActive
	}
	t.active = true
	t.id = uuid.NewString()
	t.segments = nil
	t.chunks = 0
	t.sessionErr = nil
	t.finalized = make(chan struct{})
	t.finalizeOnce = &sync.Once{}
	t.finished = make(chan struct{})
	t.finishOnce = &sync.Once{}
	t.streamCancel = nil
	t.streamDone = nil
	id := t.id
	t.mu.Unlock()

	t.assembler.Reset()
	log := t.log.With("session", id)
	log.Debug("starting transcription", "model", t.opts.Live.Model, "sample_rate", t.opts.Live.SampleRate)

	if t.opts.RecordDir != "" {
		path := filepath.Join(t.opts.RecordDir, "call-"+id+".wav")
		rec, err := capture.NewWAVRecorder(path, t.opts.Live.SampleRate, t.opts.Live.Channels)
		if err != nil {
			t.release()
			return fmt.Errorf("start transcription: %w", err)
		}
		t.mu.Lock()
		t.recorder = rec
		t.mu.Unlock()
	}

	live := t.opts.Live
	if err := t.client.Start(ctx, live); err != nil {
		log.Error("failed to connect", "error", err)
		t.closeRecorder()
		t.release()
		return fmt.Errorf("start transcription: %w", err)
	}
	return nil
}

// Stream pumps chunks from src into the session until ctx ends, src closes
// or Stop is called. It closes src before returning.
func (t *Transcriber) Stream(ctx context.Context, src capture.Source) error {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return ErrNotActive
	}
	if t.streamDone != nil {
		t.mu.Unlock()
		return ErrStreaming
	}
	streamCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.streamCancel = cancel
	t.streamDone = done
	id := t.id
	t.mu.Unlock()

	defer close(done)
	defer cancel()
	defer src.Close()

	log := t.log.With("session", id)

	chunks, err := src.Start(streamCtx)
	if err != nil {
		return fmt.Errorf("start audio source: %w", err)
	}
	log.Info("started recording audio")

	sent := 0
	defer func() {
		log.Info("recording done", "chunks", sent)
	}()

	for {
		select {
		case <-streamCtx.Done():
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				return nil
			}
			if err := t.sendChunk(chunk); err != nil {
				log.Error("failed to stream audio", "error", err)
				return fmt.Errorf("stream audio: %w", err)
			}
			sent++
		}
	}
}

func (t *Transcriber) sendChunk(chunk []byte) error {
	if err := t.client.SendAudio(chunk); err != nil {
		return err
	}

	t.mu.Lock()
	n := t.chunks
	t.chunks++
	rec := t.recorder
	t.mu.Unlock()

	if rec != nil {
		if err := rec.Write(chunk); err != nil {
			t.log.Warn("failed to record chunk", "error", err)
		}
	}

	if every := t.opts.KeepAliveEvery; every > 0 && n%every == 0 {
		if err := t.client.KeepAlive(); err != nil {
			t.log.Debug("keep-alive failed", "error", err)
		}
	}
	return nil
}

// Stop ends the session and returns its transcript. It halts streaming,
// asks the server to finalize buffered audio and waits for the flushed
// result, then closes the stream and waits for the server to hang up.
func (t *Transcriber) Stop(ctx context.Context) (string, error) {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return "", ErrNotActive
	}
	cancel := t.streamCancel
	streamDone := t.streamDone
	finalized := t.finalized
	finished := t.finished
	id := t.id
	t.mu.Unlock()

	log := t.log.With("session", id)

	if cancel != nil {
		cancel()
		select {
		case <-streamDone:
		case <-ctx.Done():
		}
	}

	if t.client.State() == deepgram.StateRunning {
		if err := t.client.Finalize(); err != nil {
			log.Warn("failed to send finalize", "error", err)
		}
		timer := time.NewTimer(t.opts.FinalizeTimeout)
		select {
		case <-finalized:
		case <-finished:
		case <-timer.C:
			log.Warn("no finalize result before timeout", "timeout", t.opts.FinalizeTimeout)
		case <-ctx.Done():
		}
		timer.Stop()

		if err := t.client.Stop(); err != nil {
			log.Warn("failed to send close stream", "error", err)
		}
	}

	timer := time.NewTimer(t.opts.CloseTimeout)
	select {
	case <-finished:
	case <-timer.C:
		log.Warn("server did not close the stream, canceling", "timeout", t.opts.CloseTimeout)
		t.client.Cancel()
	case <-ctx.Done():
		t.client.Cancel()
	}
	timer.Stop()

	t.assembler.Flush()
	t.closeRecorder()

	t.mu.Lock()
	err := t.sessionErr
	transcript := strings.Join(t.segments, " ")
	t.mu.Unlock()
	t.release()

	log.Debug("transcription done", "characters", len(transcript))
	if err != nil {
		return transcript, fmt.Errorf("transcription failed: %w", err)
	}
	return transcript, nil
}

// Cancel drops the session without waiting for pending results.
func (t *Transcriber) Cancel() {
	t.mu.Lock()
	cancel := t.streamCancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.client.Cancel()
	t.closeRecorder()
	t.release()
}

func (t *Transcriber) release() {
	t.mu.Lock()
	t.active = false
	t.mu.Unlock()
}

func (t *Transcriber) closeRecorder() {
	t.mu.Lock()
	rec := t.recorder
	t.recorder = nil
	t.mu.Unlock()
	if rec == nil {
		return
	}
	if err := rec.Close(); err != nil {
		t.log.Warn("failed to close recording", "path", rec.Path(), "error", err)
		return
	}
	t.log.Info("saved recording", "path", rec.Path(), "duration", rec.Duration())
}

func (t *Transcriber) markFinished() {
	t.mu.Lock()
	once, ch := t.finishOnce, t.finished
	t.mu.Unlock()
	if once != nil {
		once.Do(func() { close(ch) })
	}
}

func (t *Transcriber) onStateChange(oldState, newState deepgram.State) {
	t.log.Debug("connection state", "from", oldState, "to", newState)
	// Error is reported through onError so that the error is recorded first.
	if newState.IsTerminal() && newState != deepgram.StateError {
		t.markFinished()
	}
}

func (t *Transcriber) onOpen() {
	t.log.Debug("connection open", "session", t.ID())
}

func (t *Transcriber) onResult(r *deepgram.Result) {
	t.assembler.Add(r)
	if !r.IsFinal {
		return
	}
	text := r.Transcript()
	if text == "" {
		return
	}
	t.mu.Lock()
	t.segments = append(t.segments, text)
	t.mu.Unlock()

	t.log.Debug("final transcription", "text", text)
	if t.opts.OnTranscript != nil {
		t.opts.OnTranscript(text)
	}
}

func (t *Transcriber) onFinalized(*deepgram.Result) {
	t.mu.Lock()
	once, ch := t.finalizeOnce, t.finalized
	t.mu.Unlock()
	if once != nil {
		once.Do(func() { close(ch) })
	}
}

func (t *Transcriber) onMetadata(m *deepgram.Metadata) {
	t.log.Debug("metadata", "request_id", m.RequestID, "duration", m.Duration)
}

func (t *Transcriber) onUtteranceEnd(*deepgram.UtteranceEnd) {
	t.assembler.Flush()
}

func (t *Transcriber) emitUtterance(utterance string) {
	if t.opts.OnUtterance != nil {
		t.opts.OnUtterance(utterance)
	}
}

func (t *Transcriber) onDisconnected(reason string) {
	t.log.Warn("connection closed by server", "reason", reason)
}

func (t *Transcriber) onError(err *deepgram.Error) {
	t.log.Error("transcription error", "error", err)
	t.mu.Lock()
	if t.sessionErr == nil {
		t.sessionErr = err
	}
	t.mu.Unlock()
	t.markFinished()
}
