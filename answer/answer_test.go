package answer

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sashabaranov/go-openai"
)

// fakeChat answers by system prompt length instruction.
type fakeChat struct {
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
	err      error
	failLong bool
	empty    bool
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	if f.empty {
		return openai.ChatCompletionResponse{}, nil
	}
	content := " short reply "
	if strings.Contains(req.Messages[0].Content, LongInstruction) {
		if f.failLong {
			return openai.ChatCompletionResponse{}, errors.New("rate limited")
		}
		content = "full reply"
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
		},
	}, nil
}

func (f *fakeChat) last() openai.ChatCompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func TestHistoryRender(t *testing.T) {
	var h History
	if h.Render() != "" {
		t.Fatal("empty history should render empty")
	}
	h.Add("Do you fix heat pumps?", "Yes we do.")
	h.Add("How much?", "$79 diagnostic fee.")

	want := "User query:\nDo you fix heat pumps?\nGPT Response:\nYes we do.\n" +
		"User query:\nHow much?\nGPT Response:\n$79 diagnostic fee.\n"
	if got := h.Render(); got != want {
		t.Errorf("unexpected render:\n%s", got)
	}
	if h.Len() != 2 || h.Turns()[1].Query != "How much?" {
		t.Errorf("unexpected turns %+v", h.Turns())
	}
	h.Reset()
	if h.Len() != 0 {
		t.Error("reset should clear history")
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	p := BuildSystemPrompt(Short, "User query:\nhi\nGPT Response:\nhello\n")
	if !strings.HasPrefix(p, SystemPrompt) {
		t.Error("prompt should start with the sales script")
	}
	if !strings.HasSuffix(p, ShortInstruction+"User query:\nhi\nGPT Response:\nhello\n") {
		t.Errorf("instruction and history should follow the script, got tail %q", p[len(SystemPrompt):])
	}
	if !strings.Contains(BuildSystemPrompt(Long, ""), LongInstruction) {
		t.Error("long prompt should carry the long instruction")
	}
}

func TestGenerate(t *testing.T) {
	chat := &fakeChat{}
	g := New(chat, Options{})

	got, err := g.Generate(context.Background(), "  my AC is broken ", Request{Length: Short, Temperature: 0.2})
	if err != nil {
		t.Fatal(err)
	}
	if got != "short reply" {
		t.Errorf("expected trimmed reply, got %q", got)
	}

	req := chat.last()
	if req.Model != DefaultModel || req.Temperature != 0.2 {
		t.Errorf("unexpected model/temperature %s/%v", req.Model, req.Temperature)
	}
	if len(req.Messages) != 2 || req.Messages[1].Role != openai.ChatMessageRoleUser || req.Messages[1].Content != "my AC is broken" {
		t.Errorf("unexpected messages %+v", req.Messages)
	}
	if g.History().Len() != 0 {
		t.Error("Generate should not record history")
	}
}

func TestGenerateErrors(t *testing.T) {
	if _, err := New(&fakeChat{}, Options{}).Generate(context.Background(), " ", Request{}); !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("expected ErrEmptyTranscript, got %v", err)
	}
	if _, err := New(&fakeChat{empty: true}, Options{}).Generate(context.Background(), "hi", Request{}); !errors.Is(err, ErrNoChoices) {
		t.Errorf("expected ErrNoChoices, got %v", err)
	}
	boom := errors.New("boom")
	_, err := New(&fakeChat{err: boom}, Options{}).Generate(context.Background(), "hi", Request{Length: Long})
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "long") {
		t.Errorf("expected wrapped error naming the length, got %v", err)
	}
}

func TestAnswerRecordsHistory(t *testing.T) {
	chat := &fakeChat{}
	g := New(chat, Options{})

	answers, err := g.Answer(context.Background(), "I need service")
	if err != nil {
		t.Fatal(err)
	}
	if answers.Short != "short reply" || answers.Full != "full reply" || answers.Transcript != "I need service" {
		t.Errorf("unexpected answers %+v", answers)
	}

	turns := g.History().Turns()
	if len(turns) != 1 || turns[0].Response != "short reply" {
		t.Fatalf("expected one turn with the short reply, got %+v", turns)
	}

	temps := map[float32]bool{}
	for _, r := range chat.requests {
		temps[r.Temperature] = true
	}
	if !temps[DefaultShortTemperature] || !temps[DefaultLongTemperature] {
		t.Errorf("expected both temperatures, got %v", temps)
	}

	if _, err := g.Answer(context.Background(), "My name is Sam"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(chat.last().Messages[0].Content, "User query:\nI need service\nGPT Response:\nshort reply\n") {
		t.Error("second request should carry the first turn")
	}
}

func TestAnswerPartialFailure(t *testing.T) {
	g := New(&fakeChat{failLong: true}, Options{})

	answers, err := g.Answer(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected an error")
	}
	if answers == nil || answers.Short != "short reply" {
		t.Errorf("short answer should still be returned, got %+v", answers)
	}
	if g.History().Len() != 0 {
		t.Error("failed answers should not be recorded")
	}
}

func TestGenerateWithOpenAIClient(t *testing.T) {
	var gotAuth string
	var gotReq openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:     "chatcmpl-1",
			Object: "chat.completion",
			Model:  gotReq.Model,
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "Thank you for calling Dooley Service Pro"},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = srv.URL + "/v1"
	g := New(openai.NewClientWithConfig(cfg), Options{})

	got, err := g.Generate(context.Background(), "hi", Request{Length: Short, Temperature: 0.3})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Thank you for calling Dooley Service Pro" {
		t.Errorf("unexpected reply %q", got)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotReq.Model != openai.GPT4oMini {
		t.Errorf("unexpected model %q", gotReq.Model)
	}
}

func TestZeroTemperature(t *testing.T) {
	chat := &fakeChat{}
	g := New(chat, Options{ShortTemperature: Temperature(0)})

	if _, err := g.Answer(context.Background(), "what does it cost"); err != nil {
		t.Fatal(err)
	}

	var short, long float32 = -1, -1
	for _, r := range chat.requests {
		if strings.Contains(r.Messages[0].Content, LongInstruction) {
			long = r.Temperature
		} else {
			short = r.Temperature
		}
	}
	if short != math.SmallestNonzeroFloat32 {
		t.Errorf("zero temperature should be sent as the smallest non-zero value, got %v", short)
	}
	if long != DefaultLongTemperature {
		t.Errorf("unset temperature should default, got %v", long)
	}

	body, err := json.Marshal(chat.requests[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `"temperature"`) {
		t.Errorf("temperature must not be omitted: %s", body)
	}
}
