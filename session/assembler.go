package session

import (
	"strings"
	"sync"

	deepgram "github.com/moxierobots/deepgram-assist-go"
)

// Assembler joins final segments into utterances. An utterance ends when a
// segment is marked speech_final or when the server reports UtteranceEnd.
type Assembler struct {
	mu    sync.Mutex
	parts []string
	emit  func(utterance string)
}

func NewAssembler(emit func(utterance string)) *Assembler {
	return &Assembler{emit: emit}
}

// Add consumes one result. Interim and empty results are ignored.
func (a *Assembler) Add(r *deepgram.Result) {
	if !r.IsFinal {
		return
	}
	text := r.Transcript()
	if text == "" {
		return
	}

	a.mu.Lock()
	a.parts = append(a.parts, text)
	a.mu.Unlock()

	if r.SpeechFinal {
		a.Flush()
	}
}

// Flush emits the pending utterance, if any.
func (a *Assembler) Flush() {
	a.mu.Lock()
	if len(a.parts) == 0 {
		a.mu.Unlock()
		return
	}
	utterance := strings.Join(a.parts, " ")
	a.parts = nil
	a.mu.Unlock()

	if a.emit != nil {
		a.emit(utterance)
	}
}

func (a *Assembler) Pending() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.Join(a.parts, " ")
}

func (a *Assembler) Reset() {
	a.mu.Lock()
	a.parts = nil
	a.mu.Unlock()
}
