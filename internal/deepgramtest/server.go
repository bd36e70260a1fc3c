// Package deepgramtest provides a scripted /v1/listen server for tests of
// packages built on the live client.
package deepgramtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	deepgram "github.com/moxierobots/deepgram-assist-go"
)

// Script controls how the server answers.
type Script struct {
	// Replies[i] is sent as a final result for the i-th audio frame.
	// Frames past the end, or with an empty reply, get no answer.
	Replies []string
	// SpeechFinal marks every reply as the end of an utterance.
	SpeechFinal bool
	// FinalizeReply is sent with from_finalize set when Finalize arrives.
	FinalizeReply string
	// IgnoreFinalize suppresses the from_finalize answer entirely.
	IgnoreFinalize bool
	// IgnoreCloseStream keeps the connection open after CloseStream.
	IgnoreCloseStream bool
	// FailAfter, when positive, sends an Error frame and closes with 1011
	// once that many audio frames have arrived.
	FailAfter int
}

type Server struct {
	URL    string
	script Script

	mu          sync.Mutex
	authHeader  string
	query       url.Values
	audioFrames int
	audioBytes  int
	controls    []deepgram.MessageType
}

// NewServer starts a server closed by t.Cleanup.
func NewServer(t *testing.T, script Script) *Server {
	t.Helper()
	s := &Server{script: script}
	srv := httptest.NewServer(s.handler())
	t.Cleanup(srv.Close)
	s.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return s
}

func (s *Server) AuthHeader() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authHeader
}

func (s *Server) Query() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

func (s *Server) AudioFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioFrames
}

func (s *Server) AudioBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioBytes
}

// Controls returns the control frame types in arrival order.
func (s *Server) Controls() []deepgram.MessageType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]deepgram.MessageType, len(s.controls))
	copy(out, s.controls)
	return out
}

func (s *Server) ControlCount(typ deepgram.MessageType) int {
	n := 0
	for _, c := range s.Controls() {
		if c == typ {
			n++
		}
	}
	return n
}

func (s *Server) handler() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		s.mu.Lock()
		s.authHeader = r.Header.Get("Authorization")
		s.query = r.URL.Query()
		s.mu.Unlock()

		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}

			if msgType == websocket.BinaryMessage {
				s.mu.Lock()
				n := s.audioFrames
				s.audioFrames++
				s.audioBytes += len(msg)
				s.mu.Unlock()

				if s.script.FailAfter > 0 && n+1 >= s.script.FailAfter {
					writeFrame(conn, deepgram.ErrorMessage{
						Type:        deepgram.MessageTypeError,
						Description: "internal server error",
						Message:     "upstream failure",
					})
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "upstream failure"))
					return
				}
				if n < len(s.script.Replies) && s.script.Replies[n] != "" {
					writeFrame(conn, Result(s.script.Replies[n], s.script.SpeechFinal, false))
				}
				continue
			}

			var ctrl deepgram.ControlMessage
			if err := json.Unmarshal(msg, &ctrl); err != nil {
				continue
			}
			s.mu.Lock()
			s.controls = append(s.controls, ctrl.Type)
			s.mu.Unlock()

			switch ctrl.Type {
			case deepgram.MessageTypeFinalize:
				if !s.script.IgnoreFinalize {
					writeFrame(conn, Result(s.script.FinalizeReply, true, true))
				}
			case deepgram.MessageTypeCloseStream:
				if s.script.IgnoreCloseStream {
					continue
				}
				writeFrame(conn, deepgram.Metadata{
					Type:      deepgram.MessageTypeMetadata,
					RequestID: "req-test",
					Channels:  1,
				})
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}
}

// Result builds a final Results frame.
func Result(text string, speechFinal, fromFinalize bool) deepgram.Result {
	return deepgram.Result{
		Type:         deepgram.MessageTypeResults,
		ChannelIndex: []int{0, 1},
		IsFinal:      true,
		SpeechFinal:  speechFinal,
		FromFinalize: fromFinalize,
		Channel: deepgram.Channel{
			Alternatives: []deepgram.Alternative{{Transcript: text, Confidence: 0.97}},
		},
	}
}

func writeFrame(conn *websocket.Conn, v interface{}) {
	data, _ := json.Marshal(v)
	conn.WriteMessage(websocket.TextMessage, data)
}
