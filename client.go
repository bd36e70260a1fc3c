package deepgram

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a Deepgram live transcription client. A Client runs one session
// at a time; it can be started again once the previous session is terminal.
type Client struct {
	options        ClientOptions
	sessionOptions *LiveOptions

	mu           sync.RWMutex
	writeMu      sync.Mutex
	state        State
	paused       bool
	metadataSeen bool
	conn         *websocket.Conn
	audioQueue   [][]byte
	controlQueue [][]byte
	done         chan struct{}
	closeOnce    sync.Once
	tlsCache     tls.ClientSessionCache
}

// NewClient creates a new client.
func NewClient(options ClientOptions) *Client {
	options.applyDefaults()
	return &Client{
		options:  options,
		state:    StateInit,
		tlsCache: tls.NewLRUClientSessionCache(32),
	}
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// Done is closed when the current session releases its connection.
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

func (c *Client) setState(newState State) {
	c.mu.Lock()
	oldState, changed := c.swapStateLocked(newState)
	c.mu.Unlock()

	if changed {
		c.notifyStateChange(oldState, newState)
	}
}

// swapStateLocked must be called with c.mu held.
func (c *Client) swapStateLocked(newState State) (State, bool) {
	oldState := c.state
	if oldState == newState || oldState.IsTerminal() {
		return oldState, false
	}
	c.state = newState
	return oldState, true
}

func (c *Client) notifyStateChange(oldState, newState State) {
	if c.sessionOptions != nil && c.sessionOptions.OnStateChange != nil {
		c.sessionOptions.OnStateChange(oldState, newState)
	} else if c.options.OnStateChange != nil {
		c.options.OnStateChange(oldState, newState)
	}
}

func (c *Client) getOnOpen() func() {
	if c.sessionOptions != nil && c.sessionOptions.OnOpen != nil {
		return c.sessionOptions.OnOpen
	}
	return c.options.OnOpen
}

func (c *Client) getOnResult() func(*Result) {
	if c.sessionOptions != nil && c.sessionOptions.OnResult != nil {
		return c.sessionOptions.OnResult
	}
	return c.options.OnResult
}

func (c *Client) getOnFinalized() func(*Result) {
	if c.sessionOptions != nil && c.sessionOptions.OnFinalized != nil {
		return c.sessionOptions.OnFinalized
	}
	return c.options.OnFinalized
}

func (c *Client) getOnMetadata() func(*Metadata) {
	if c.sessionOptions != nil && c.sessionOptions.OnMetadata != nil {
		return c.sessionOptions.OnMetadata
	}
	return c.options.OnMetadata
}

func (c *Client) getOnSpeechStarted() func(*SpeechStarted) {
	if c.sessionOptions != nil && c.sessionOptions.OnSpeechStarted != nil {
		return c.sessionOptions.OnSpeechStarted
	}
	return c.options.OnSpeechStarted
}

func (c *Client) getOnUtteranceEnd() func(*UtteranceEnd) {
	if c.sessionOptions != nil && c.sessionOptions.OnUtteranceEnd != nil {
		return c.sessionOptions.OnUtteranceEnd
	}
	return c.options.OnUtteranceEnd
}

func (c *Client) getOnFinished() func() {
	if c.sessionOptions != nil && c.sessionOptions.OnFinished != nil {
		return c.sessionOptions.OnFinished
	}
	return c.options.OnFinished
}

func (c *Client) getOnDisconnected() func(string) {
	if c.sessionOptions != nil && c.sessionOptions.OnDisconnected != nil {
		return c.sessionOptions.OnDisconnected
	}
	return c.options.OnDisconnected
}

func (c *Client) getOnError() func(*Error) {
	if c.sessionOptions != nil && c.sessionOptions.OnError != nil {
		return c.sessionOptions.OnError
	}
	return c.options.OnError
}

func (c *Client) getOnUnhandled() func([]byte) {
	if c.sessionOptions != nil && c.sessionOptions.OnUnhandled != nil {
		return c.sessionOptions.OnUnhandled
	}
	return c.options.OnUnhandled
}

// Start opens a live transcription session. It returns once the socket is
// open; results are delivered through the callbacks.
func (c *Client) Start(ctx context.Context, liveOpts LiveOptions) error {
	c.mu.Lock()
	if c.state.IsActive() {
		c.mu.Unlock()
		return ErrClientAlreadyActive
	}
	c.sessionOptions = &liveOpts
	c.sessionOptions.applyDefaults()
	c.audioQueue = make([][]byte, 0, c.options.BufferQueueSize)
	c.controlQueue = nil
	c.done = make(chan struct{})
	c.closeOnce = sync.Once{}
	c.paused = false
	c.metadataSeen = false
	c.state = StateInit
	c.mu.Unlock()

	c.setState(StateConnecting)

	apiKey, err := c.getAPIKey()
	if err != nil {
		dgErr := NewErrorWithCause(ErrorStatusAPIKeyFetchFailed, "failed to get API key", err)
		c.handleError(dgErr)
		return dgErr
	}

	endpoint, err := c.sessionOptions.endpoint(c.options.WebSocketURL)
	if err != nil {
		dgErr := NewErrorWithCause(ErrorStatusBadRequest, "invalid websocket URL", err)
		c.handleError(dgErr)
		return dgErr
	}

	connCtx, cancel := context.WithTimeout(ctx, c.options.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.options.ConnectTimeout,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			return conn, nil
		},
		TLSClientConfig: &tls.Config{
			ClientSessionCache: c.tlsCache,
		},
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+apiKey)

	conn, resp, err := dialer.DialContext(connCtx, endpoint, header)
	if err != nil {
		var dgErr *Error
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			dgErr = MapAPIError(handshakeMessage(resp), resp.StatusCode)
			dgErr.Cause = err
		} else {
			dgErr = NewErrorWithCause(ErrorStatusWebSocketError, "failed to connect", err)
		}
		c.handleError(dgErr)
		return dgErr
	}

	// Flush what was queued while connecting and switch to Running in the same
	// critical section so that no SendAudio call lands in a drained queue.
	c.mu.Lock()
	c.conn = conn
	for _, msg := range c.audioQueue {
		conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			c.mu.Unlock()
			dgErr := NewErrorWithCause(ErrorStatusWebSocketError, "failed to send queued audio", err)
			c.handleError(dgErr)
			return dgErr
		}
	}
	c.audioQueue = nil
	for _, msg := range c.controlQueue {
		conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.mu.Unlock()
			dgErr := NewErrorWithCause(ErrorStatusWebSocketError, "failed to send queued control message", err)
			c.handleError(dgErr)
			return dgErr
		}
	}
	c.controlQueue = nil
	oldState, changed := c.swapStateLocked(StateRunning)
	done := c.done
	c.mu.Unlock()

	if !changed {
		// Canceled or stopped while the handshake was in flight.
		c.closeResources()
		c.closeConnection()
		return ErrClientClosed
	}
	c.notifyStateChange(oldState, StateRunning)

	if cb := c.getOnOpen(); cb != nil {
		cb()
	}

	go c.readLoop(conn, done)
	go c.keepAliveLoop(done)

	go func() {
		select {
		case <-ctx.Done():
			c.setState(StateCanceled)
			c.closeResources()
		case <-done:
		}
	}()

	return nil
}

func (c *Client) getAPIKey() (string, error) {
	if c.options.APIKeyFunc != nil {
		return c.options.APIKeyFunc()
	}
	if c.options.APIKey == "" {
		return "", errors.New("API key is empty")
	}
	return c.options.APIKey, nil
}

// handshakeMessage extracts err_msg from a rejected upgrade response.
func handshakeMessage(resp *http.Response) string {
	if resp.Body == nil {
		return resp.Status
	}
	var body apiErrorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err != nil || body.message() == "" {
		return resp.Status
	}
	return body.message()
}

// SendAudio sends one chunk of audio in the encoding declared in LiveOptions.
func (c *Client) SendAudio(data []byte) error {
	// An empty binary frame is read by the server as end of stream.
	if len(data) == 0 {
		return nil
	}

	c.mu.RLock()
	state := c.state
	paused := c.paused
	c.mu.RUnlock()

	if paused {
		return nil
	}

	switch state {
	case StateConnecting:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state != StateConnecting {
			return NewError(ErrorStatusInvalidState, "connection state changed while queueing audio")
		}
		if len(c.audioQueue)+len(c.controlQueue) >= c.options.BufferQueueSize {
			return NewError(ErrorStatusQueueLimitExceeded, "message queue limit exceeded")
		}
		c.audioQueue = append(c.audioQueue, data)
		return nil

	case StateRunning:
		return c.writeRaw(websocket.BinaryMessage, data)

	default:
		return NewError(ErrorStatusInvalidState, "cannot send audio in state: "+string(state))
	}
}

// SendStream reads from r and sends audio chunks until EOF.
func (c *Client) SendStream(r io.Reader, opts ...SendStreamOptions) error {
	var opt SendStreamOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = DefaultStreamChunkSize
	}

	buf := make([]byte, opt.ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sendErr := c.SendAudio(chunk); sendErr != nil {
				return sendErr
			}
			if opt.PaceInterval > 0 {
				time.Sleep(opt.PaceInterval)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	if opt.Finish {
		return c.Stop()
	}
	return nil
}

// Pause stops forwarding audio. Keep-alives are sent on every tick while
// paused so the server does not time out the idle stream.
func (c *Client) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume resumes audio transmission.
func (c *Client) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// KeepAlive sends a single KeepAlive frame. It is a no-op unless the socket
// is open.
func (c *Client) KeepAlive() error {
	if !c.State().IsWebSocketActive() {
		return nil
	}
	return c.sendControl(NewKeepAliveMessage())
}

// Finalize asks the server to flush the audio it has buffered. The flushed
// result arrives with FromFinalize set and triggers OnFinalized.
func (c *Client) Finalize() error {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()

	switch state {
	case StateConnecting:
		data, err := json.Marshal(NewFinalizeMessage())
		if err != nil {
			return err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(c.audioQueue)+len(c.controlQueue) >= c.options.BufferQueueSize {
			return NewError(ErrorStatusQueueLimitExceeded, "message queue limit exceeded")
		}
		c.controlQueue = append(c.controlQueue, data)
		return nil

	case StateRunning, StateFinishing:
		return c.sendControl(NewFinalizeMessage())

	default:
		return nil
	}
}

// Stop sends CloseStream. The server flushes its remaining results, sends
// Metadata and closes the socket, which moves the client to Finished.
func (c *Client) Stop() error {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()

	if state == StateConnecting {
		c.handleFinished()
		return nil
	}

	if state == StateRunning {
		c.mu.Lock()
		c.paused = false
		c.mu.Unlock()

		c.setState(StateFinishing)

		if err := c.sendControl(NewCloseStreamMessage()); err != nil {
			var dgErr *Error
			if !errors.As(err, &dgErr) {
				dgErr = NewErrorWithCause(ErrorStatusWebSocketError, "failed to send CloseStream", err)
			}
			c.handleError(dgErr)
			return dgErr
		}
	}

	return nil
}

// Cancel immediately terminates the session without waiting for results.
func (c *Client) Cancel() {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()

	if state.IsActive() {
		c.setState(StateCanceled)
		c.closeResources()
	}
}

// writeRaw writes a message directly to the WebSocket.
func (c *Client) writeRaw(msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrClientNotConnected
	}

	conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
	if err := conn.WriteMessage(msgType, data); err != nil {
		return NewErrorWithCause(ErrorStatusWebSocketError, "write error", err)
	}
	return nil
}

// sendControl sends a JSON control message.
func (c *Client) sendControl(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.writeRaw(websocket.TextMessage, data)
}

// readLoop reads messages from conn until it is closed. done belongs to the
// session that opened conn; once that session has ended the loop leaves the
// client alone, even if a new session is already connecting.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(done, err)
			return
		}
		if !c.owns(done) {
			return
		}

		if msgType != websocket.TextMessage {
			if cb := c.getOnUnhandled(); cb != nil {
				cb(message)
			}
			continue
		}

		if !c.dispatch(message) {
			return
		}
	}
}

// owns reports whether done belongs to the current, unfinished session.
func (c *Client) owns(done chan struct{}) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ownsLocked(done)
}

func (c *Client) ownsLocked(done chan struct{}) bool {
	if c.done != done {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (c *Client) handleReadError(done chan struct{}, err error) {
	c.mu.RLock()
	current := c.ownsLocked(done)
	state := c.state
	metadataSeen := c.metadataSeen
	c.mu.RUnlock()

	if !current || state.IsTerminal() {
		return
	}

	var closeErr *websocket.CloseError
	isClose := errors.As(err, &closeErr)

	if state == StateFinishing {
		if metadataSeen || (isClose && closeErr.Code == websocket.CloseNormalClosure) {
			c.handleFinished()
			return
		}
		c.handleError(NewErrorWithCause(ErrorStatusConnectionClosed, "WebSocket closed before the stream was flushed", err))
		return
	}

	if isClose && closeErr.Code != websocket.CloseNormalClosure && closeErr.Code != websocket.CloseGoingAway {
		c.handleError(MapCloseError(closeErr))
		return
	}

	if cb := c.getOnDisconnected(); cb != nil {
		reason := ""
		if isClose {
			reason = closeErr.Text
		}
		cb(reason)
	}
	c.setState(StateClosed)
	c.closeResources()
}

// dispatch routes one JSON frame to its callback. It returns false when the
// frame ended the session.
func (c *Client) dispatch(message []byte) bool {
	msgType, err := peekType(message)
	if err != nil {
		c.handleError(NewErrorWithCause(ErrorStatusWebSocketError, "failed to parse message", err))
		return false
	}

	switch msgType {
	case MessageTypeResults:
		var result Result
		if err := json.Unmarshal(message, &result); err != nil {
			c.handleError(NewErrorWithCause(ErrorStatusWebSocketError, "failed to parse result", err))
			return false
		}
		if cb := c.getOnResult(); cb != nil {
			cb(&result)
		}
		if result.FromFinalize {
			if cb := c.getOnFinalized(); cb != nil {
				cb(&result)
			}
		}

	case MessageTypeMetadata:
		var metadata Metadata
		if err := json.Unmarshal(message, &metadata); err != nil {
			c.handleError(NewErrorWithCause(ErrorStatusWebSocketError, "failed to parse metadata", err))
			return false
		}
		c.mu.Lock()
		c.metadataSeen = true
		c.mu.Unlock()
		if cb := c.getOnMetadata(); cb != nil {
			cb(&metadata)
		}

	case MessageTypeSpeechStarted:
		var event SpeechStarted
		if err := json.Unmarshal(message, &event); err == nil {
			if cb := c.getOnSpeechStarted(); cb != nil {
				cb(&event)
			}
		}

	case MessageTypeUtteranceEnd:
		var event UtteranceEnd
		if err := json.Unmarshal(message, &event); err == nil {
			if cb := c.getOnUtteranceEnd(); cb != nil {
				cb(&event)
			}
		}

	case MessageTypeError:
		msg := string(message)
		var em ErrorMessage
		if err := json.Unmarshal(message, &em); err == nil {
			if em.Description != "" {
				msg = em.Description
			} else if em.Message != "" {
				msg = em.Message
			}
		}
		c.handleError(NewError(ErrorStatusAPIError, msg))
		return false

	default:
		if cb := c.getOnUnhandled(); cb != nil {
			cb(message)
		}
	}
	return true
}

// keepAliveLoop sends keep-alive messages at regular intervals.
func (c *Client) keepAliveLoop(done <-chan struct{}) {
	ticker := time.NewTicker(c.options.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.RLock()
			state := c.state
			paused := c.paused
			keepAlive := c.options.KeepAlive
			c.mu.RUnlock()

			shouldSend := state.IsWebSocketActive() && (paused || keepAlive)
			if !shouldSend {
				continue
			}

			// Best-effort: a failed write surfaces in the read loop.
			c.sendControl(NewKeepAliveMessage())
		}
	}
}

func (c *Client) handleError(err *Error) {
	c.setState(StateError)
	c.closeResources()

	if cb := c.getOnError(); cb != nil {
		cb(err)
	}
}

func (c *Client) handleFinished() {
	c.setState(StateFinished)
	c.closeResources()

	if cb := c.getOnFinished(); cb != nil {
		cb()
	}
}

func (c *Client) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) closeResources() {
	c.closeOnce.Do(func() {
		c.mu.RLock()
		done := c.done
		c.mu.RUnlock()
		if done != nil {
			close(done)
		}
		c.closeConnection()
		c.mu.Lock()
		c.audioQueue = nil
		c.controlQueue = nil
		c.mu.Unlock()
	})
}

// Close releases all resources.
func (c *Client) Close() error {
	c.Cancel()
	return nil
}
