// Command assistant listens to a sales call and drafts replies.
//
// It records system audio (or a WAV file), streams it to Deepgram for live
// transcription and, on request, asks OpenAI for a short and a full answer.
//
// Keys:
//
//	r    start / stop recording
//	a    analyze the last recording
//	c    copy the last short answer to the clipboard
//	q    quit (also Esc, Ctrl+C)
//
// Usage:
//
//	go run ./cmd/assistant -env .env
//	go run ./cmd/assistant -file call.wav -record-dir calls
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	"github.com/briandowns/spinner"
	"github.com/eiannone/keyboard"
	"github.com/sashabaranov/go-openai"

	deepgram "github.com/moxierobots/deepgram-assist-go"
	"github.com/moxierobots/deepgram-assist-go/answer"
	"github.com/moxierobots/deepgram-assist-go/assistant"
	"github.com/moxierobots/deepgram-assist-go/capture"
	"github.com/moxierobots/deepgram-assist-go/config"
	"github.com/moxierobots/deepgram-assist-go/logging"
	"github.com/moxierobots/deepgram-assist-go/session"
)

const stopTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "assistant:", err)
		os.Exit(1)
	}
}

func run() error {
	envFile := envFileArg(os.Args[1:])
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("assistant", flag.ExitOnError)
	fs.String("env", envFile, "Path to a .env file")
	wavFile := fs.String("file", "", "Stream a 16-bit WAV file instead of capturing audio")
	listDevices := fs.Bool("list-devices", false, "List capture devices and exit")
	verbose := fs.Bool("verbose", false, "Also print log records to stderr")
	config.BindFlags(fs, &cfg)
	fs.Parse(os.Args[1:])

	if *listDevices {
		names, err := capture.ListDevices(cfg.Loopback)
		if err != nil {
			return fmt.Errorf("list devices: %w", err)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	}

	if err := config.Validate(&cfg); err != nil {
		return err
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	var console io.Writer = io.Discard
	if *verbose || cfg.LogFile == "" {
		console = os.Stderr
	}
	logger := logging.New(logging.Options{File: cfg.LogFile, Level: level, Console: console})
	defer logger.Close()
	log := logger.Logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	live, err := liveOptions(cfg, *wavFile)
	if err != nil {
		return err
	}

	transcriber := session.New(session.Options{
		Client: deepgram.ClientOptions{
			WebSocketURL: cfg.DeepgramURL,
			APIKey:       cfg.DeepgramAPIKey,
		},
		Live:            live,
		KeepAliveEvery:  cfg.KeepAliveEvery,
		FinalizeTimeout: cfg.FinalizeTimeout,
		CloseTimeout:    cfg.CloseTimeout,
		RecordDir:       cfg.RecordDir,
		OnTranscript: func(segment string) {
			printf("  > %s", segment)
		},
		Logger: log,
	})

	openaiCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		openaiCfg.BaseURL = cfg.OpenAIBaseURL
	}
	generator := answer.New(openai.NewClientWithConfig(openaiCfg), answer.Options{
		Model:  cfg.ChatModel,
		Logger: log,
	})

	app := assistant.New(assistant.Options{
		Transcriber: transcriber,
		Generator:   generator,
		NewSource:   sourceFactory(cfg, *wavFile, func(msg string) { log.Debug(msg) }),
		Logger:      log,
	})

	keys, err := keyboard.GetKeys(10)
	if err != nil {
		return fmt.Errorf("open keyboard: %w", err)
	}
	defer keyboard.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	printf("Sales call assistant. [r] record/stop  [a] analyze  [c] copy  [q] quit")
	log.Info("assistant started", "model", cfg.Model, "chat_model", cfg.ChatModel, "loopback", cfg.Loopback)

	var lastShort string
	for {
		select {
		case <-sigChan:
			return shutdown(app)

		case ev := <-keys:
			if ev.Err != nil {
				log.Error("keyboard error", "error", ev.Err)
				continue
			}

			switch {
			case ev.Key == keyboard.KeyEsc || ev.Key == keyboard.KeyCtrlC || ev.Rune == 'q':
				return shutdown(app)

			case ev.Rune == 'r':
				toggle(ctx, app)

			case ev.Rune == 'a':
				if short, ok := analyze(ctx, app); ok {
					lastShort = short
				}

			case ev.Rune == 'c':
				if lastShort == "" {
					printf("Nothing to copy yet.")
					continue
				}
				if err := clipboard.WriteAll(lastShort); err != nil {
					log.Warn("clipboard write failed", "error", err)
					printf("Could not copy: %v", err)
					continue
				}
				printf("Short answer copied.")
			}
		}
	}
}

// envFileArg finds -env before the other flags are bound, since the .env
// file supplies their defaults.
func envFileArg(args []string) string {
	for i, arg := range args {
		name := strings.TrimLeft(arg, "-")
		if name == "env" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(name, "env="); ok {
			return v
		}
	}
	return ".env"
}

// liveOptions declares the format that will be streamed: the capture
// settings, or the header of the WAV file being replayed.
func liveOptions(cfg config.Config, wavFile string) (deepgram.LiveOptions, error) {
	live := session.DefaultLiveOptions(cfg.SampleRate)
	live.Model = cfg.Model
	live.Language = cfg.Language
	live.Endpointing = cfg.EndpointingMs
	if wavFile == "" {
		return live, nil
	}

	format, err := capture.NewWAVSource(wavFile, 0, false).ReadFormat()
	if err != nil {
		return live, err
	}
	live.SampleRate = format.SampleRate
	live.Channels = format.NumChannels
	return live, nil
}

func sourceFactory(cfg config.Config, wavFile string, onLog func(string)) assistant.SourceFactory {
	if wavFile != "" {
		return func() (capture.Source, error) {
			return capture.NewWAVSource(wavFile, 0, true), nil
		}
	}
	return func() (capture.Source, error) {
		return capture.NewDevice(capture.DeviceOptions{
			SampleRate: cfg.SampleRate,
			Channels:   1,
			Loopback:   cfg.Loopback,
			DeviceName: cfg.Device,
			OnLog:      onLog,
		}), nil
	}
}

func toggle(ctx context.Context, app *assistant.Assistant) {
	wasRecording := app.State() == assistant.StateRecording
	if wasRecording {
		printf("Stopping...")
	}
	state, err := app.Toggle(ctx)
	if err != nil {
		printf("Error: %v", err)
		if !wasRecording {
			return
		}
	}
	switch state {
	case assistant.StateRecording:
		printf("Recording... press r to stop.")
	case assistant.StateIdle:
		if t := app.Transcript(); t != "" {
			printf("Transcript: %s", t)
		}
		printf("Recording stopped. Press a to analyze.")
	}
}

func analyze(ctx context.Context, app *assistant.Assistant) (string, bool) {
	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond)
	s.Suffix = " ChatGPT is working..."
	s.Start()
	answers, err := app.Analyze(ctx)
	s.Stop()

	switch {
	case errors.Is(err, assistant.ErrRecording):
		printf("Stop recording before analyzing.")
		return "", false
	case errors.Is(err, assistant.ErrNoTranscript):
		printf("Nothing was transcribed yet. Record first.")
		return "", false
	case err != nil && answers == nil:
		printf("Error: %v", err)
		return "", false
	case err != nil:
		printf("Error: %v", err)
	}

	printf("Quick answer:\n%s", answers.Short)
	printf("Full answer:\n%s", answers.Full)
	return answers.Short, answers.Short != ""
}

func shutdown(app *assistant.Assistant) error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := app.Close(ctx); err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}
	printf("Bye.")
	return nil
}

// printf writes one line; the terminal is in raw mode while keys are read.
func printf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	fmt.Print(strings.ReplaceAll(line, "\n", "\r\n") + "\r\n")
}
