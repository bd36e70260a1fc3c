// Package answer turns a call transcript into suggested replies using an
// OpenAI chat model, carrying the conversation history between calls.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
)

const (
	DefaultModel            = openai.GPT4oMini
	DefaultShortTemperature = 0.3
	DefaultLongTemperature  = 0.7
)

var (
	ErrEmptyTranscript = errors.New("answer: transcript is empty")
	ErrNoChoices       = errors.New("answer: model returned no choices")
)

// ChatClient is the part of *openai.Client the generator needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Options struct {
	Model string
	// ShortTemperature and LongTemperature default when nil; zero is a
	// valid setting.
	ShortTemperature *float32
	LongTemperature  *float32
	Logger           *slog.Logger
}

// Temperature returns a pointer to t for Options.
func Temperature(t float32) *float32 {
	return &t
}

func (o *Options) applyDefaults() {
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.ShortTemperature == nil {
		o.ShortTemperature = Temperature(DefaultShortTemperature)
	}
	if o.LongTemperature == nil {
		o.LongTemperature = Temperature(DefaultLongTemperature)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type Request struct {
	Length      Length
	Temperature float32
}

// Answers holds the replies produced for one transcript.
type Answers struct {
	Transcript string
	Short      string
	Full       string
}

type Generator struct {
	client  ChatClient
	opts    Options
	log     *slog.Logger
	history *History
}

func New(client ChatClient, opts Options) *Generator {
	opts.applyDefaults()
	return &Generator{
		client:  client,
		opts:    opts,
		log:     opts.Logger,
		history: &History{},
	}
}

func (g *Generator) History() *History {
	return g.history
}

// Generate asks the model for one reply. It does not touch the history.
func (g *Generator) Generate(ctx context.Context, transcript string, req Request) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", ErrEmptyTranscript
	}

	// The client omits a zero temperature, which the API reads as 1.
	temperature := req.Temperature
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       g.opts.Model,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: BuildSystemPrompt(req.Length, g.history.Render()),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: transcript,
			},
		},
	}

	g.log.Debug("generating answer", "length", req.Length, "temperature", req.Temperature, "history_turns", g.history.Len())

	resp, err := g.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		g.log.Error("can't generate answer", "length", req.Length, "error", err)
		return "", fmt.Errorf("generate %s answer: %w", req.Length, err)
	}
	if len(resp.Choices) == 0 {
		g.log.Error("can't generate answer", "length", req.Length, "error", ErrNoChoices)
		return "", ErrNoChoices
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Answer produces the short and full replies concurrently and records the
// short one as the next history turn.
func (g *Generator) Answer(ctx context.Context, transcript string) (*Answers, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, ErrEmptyTranscript
	}

	var (
		wg                sync.WaitGroup
		short, full       string
		shortErr, fullErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		short, shortErr = g.Generate(ctx, transcript, Request{Length: Short, Temperature: *g.opts.ShortTemperature})
	}()
	go func() {
		defer wg.Done()
		full, fullErr = g.Generate(ctx, transcript, Request{Length: Long, Temperature: *g.opts.LongTemperature})
	}()
	wg.Wait()

	answers := &Answers{Transcript: transcript, Short: short, Full: full}
	if err := errors.Join(shortErr, fullErr); err != nil {
		return answers, err
	}

	g.history.Add(transcript, short)
	return answers, nil
}
