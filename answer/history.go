package answer

import (
	"strings"
	"sync"
)

type Turn struct {
	Query    string
	Response string
}

// History is the conversation so far, shared by every request of a Generator.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

func (h *History) Add(query, response string) {
	h.mu.Lock()
	h.turns = append(h.turns, Turn{Query: query, Response: response})
	h.mu.Unlock()
}

func (h *History) Turns() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

func (h *History) Reset() {
	h.mu.Lock()
	h.turns = nil
	h.mu.Unlock()
}

// Render formats the turns the way the system prompt describes them.
func (h *History) Render() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var b strings.Builder
	for _, t := range h.turns {
		b.WriteString("User query:\n")
		b.WriteString(t.Query)
		b.WriteString("\nGPT Response:\n")
		b.WriteString(t.Response)
		b.WriteString("\n")
	}
	return b.String()
}
