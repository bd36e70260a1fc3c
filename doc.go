// Package deepgram is a client for the Deepgram speech-to-text API.
//
// The live client streams raw audio over the /v1/listen WebSocket and
// delivers transcripts through callbacks. The prerecorded client uploads a
// complete file to the same path over HTTP.
//
// # Live sessions
//
//	client := deepgram.NewClient(deepgram.ClientOptions{
//	    APIKey: "your-api-key",
//	    OnResult: func(r *deepgram.Result) {
//	        if r.IsFinal {
//	            fmt.Println(r.Transcript())
//	        }
//	    },
//	})
//
//	err := client.Start(ctx, deepgram.LiveOptions{
//	    Model:       "nova-2",
//	    Encoding:    "linear16",
//	    SampleRate:  16000,
//	    Channels:    1,
//	    SmartFormat: true,
//	})
//
//	client.SendAudio(pcm)
//
//	// Flush buffered audio, then end the stream.
//	client.Finalize()
//	client.Stop()
//
// A session moves through Connecting, Running and Finishing before it ends in
// one of the terminal states Finished, Error, Canceled or Closed.
//
// # Finalize and CloseStream
//
// Finalize makes the server emit a result for everything it has buffered; that
// result has FromFinalize set and is also passed to OnFinalized. Stop sends
// CloseStream: the server flushes, sends a Metadata frame and closes the
// socket, and the client reports OnFinished.
//
// # Keep-Alive
//
// The server closes a stream that receives no audio for about ten seconds.
// Enable KeepAlive to send a KeepAlive frame every KeepAliveInterval, or call
// KeepAlive directly from an audio pump. While paused, keep-alives are always
// sent.
//
// # Error Handling
//
// Errors can be type-asserted to *deepgram.Error:
//
//	var dgErr *deepgram.Error
//	if errors.As(err, &dgErr) {
//	    fmt.Printf("Status: %s, Code: %v\n", dgErr.Status, dgErr.Code)
//	}
package deepgram
