package deepgram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPrerecordedTranscribe(t *testing.T) {
	var gotAuth, gotType, gotBody string
	var gotQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotQuery = r.URL.Query()
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"metadata": {"request_id": "abc", "duration": 1.5, "channels": 1},
			"results": {"channels": [{"alternatives": [{"transcript": " my furnace is broken ", "confidence": 0.99}]}]}
		}`))
	}))
	defer server.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "call.wav")
	if err := os.WriteFile(path, []byte("RIFFfake"), 0o644); err != nil {
		t.Fatal(err)
	}

	client := NewPrerecordedClient(PrerecordedClientOptions{URL: server.URL, APIKey: "k"})
	resp, err := client.TranscribeFile(context.Background(), path, PrerecordedOptions{SmartFormat: true})
	if err != nil {
		t.Fatalf("TranscribeFile failed: %v", err)
	}

	if resp.Transcript() != "my furnace is broken" {
		t.Errorf("unexpected transcript %q", resp.Transcript())
	}
	if resp.Metadata.RequestID != "abc" {
		t.Errorf("unexpected request id %q", resp.Metadata.RequestID)
	}
	if gotAuth != "Token k" {
		t.Errorf("unexpected Authorization %q", gotAuth)
	}
	if gotType != "audio/wav" {
		t.Errorf("unexpected Content-Type %q", gotType)
	}
	if gotBody != "RIFFfake" {
		t.Errorf("body not forwarded: %q", gotBody)
	}
	if gotQuery["model"][0] != DefaultModel || gotQuery["smart_format"][0] != "true" {
		t.Errorf("unexpected query %v", gotQuery)
	}
}

func TestPrerecordedErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"err_code":"ASR_PAYMENT_REQUIRED","err_msg":"Project does not have enough credits"}`))
	}))
	defer server.Close()

	client := NewPrerecordedClient(PrerecordedClientOptions{URL: server.URL, APIKey: "k"})
	_, err := client.Transcribe(context.Background(), strings.NewReader("x"), "", PrerecordedOptions{})
	if !IsErrorStatus(err, ErrorStatusQuotaExceeded) {
		t.Fatalf("expected quota_exceeded, got %v", err)
	}
	if !strings.Contains(err.Error(), "enough credits") {
		t.Errorf("expected err_msg in error, got %v", err)
	}
}

func TestPrerecordedRequiresKey(t *testing.T) {
	client := NewPrerecordedClient(PrerecordedClientOptions{URL: "http://127.0.0.1:1"})
	_, err := client.Transcribe(context.Background(), strings.NewReader("x"), "", PrerecordedOptions{})
	if !IsErrorStatus(err, ErrorStatusAuthError) {
		t.Fatalf("expected auth_error, got %v", err)
	}
}

func TestPrerecordedEmptyResults(t *testing.T) {
	resp := &PrerecordedResponse{}
	if resp.Transcript() != "" {
		t.Errorf("expected empty transcript, got %q", resp.Transcript())
	}
}

func TestMimeTypeFor(t *testing.T) {
	cases := map[string]string{
		"a.WAV":  "audio/wav",
		"b.mp3":  "audio/mpeg",
		"c.ogg":  "audio/ogg",
		"d.bin":  "",
		"noext":  "",
		"e.webm": "audio/webm",
	}
	for in, want := range cases {
		if got := mimeTypeFor(in); got != want {
			t.Errorf("%s: expected %q, got %q", in, want, got)
		}
	}
}
