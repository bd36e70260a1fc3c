package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const DefaultRequestTimeout = 60 * time.Second

// PrerecordedOptions are the query parameters of a batch transcription.
type PrerecordedOptions struct {
	Model       string
	Language    string
	SmartFormat bool
	Punctuate   bool
	Diarize     bool
	Keywords    []string
}

func (o *PrerecordedOptions) query() url.Values {
	q := url.Values{}
	model := o.Model
	if model == "" {
		model = DefaultModel
	}
	q.Set("model", model)
	if o.Language != "" {
		q.Set("language", o.Language)
	}
	if o.SmartFormat {
		q.Set("smart_format", "true")
	}
	if o.Punctuate {
		q.Set("punctuate", "true")
	}
	if o.Diarize {
		q.Set("diarize", "true")
	}
	for _, kw := range o.Keywords {
		q.Add("keywords", kw)
	}
	return q
}

type PrerecordedMetadata struct {
	TransactionKey string   `json:"transaction_key"`
	RequestID      string   `json:"request_id"`
	SHA256         string   `json:"sha256"`
	Created        string   `json:"created"`
	Duration       float64  `json:"duration"`
	Channels       int      `json:"channels"`
	Models         []string `json:"models"`
}

type PrerecordedResults struct {
	Channels []Channel `json:"channels"`
}

type PrerecordedResponse struct {
	Metadata PrerecordedMetadata `json:"metadata"`
	Results  PrerecordedResults  `json:"results"`
}

// Transcript returns the top alternative of the first channel.
func (r *PrerecordedResponse) Transcript() string {
	if len(r.Results.Channels) == 0 || len(r.Results.Channels[0].Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Results.Channels[0].Alternatives[0].Transcript)
}

type apiErrorBody struct {
	ErrCode   string `json:"err_code"`
	ErrMsg    string `json:"err_msg"`
	Reason    string `json:"reason"`
	RequestID string `json:"request_id"`
}

func (b apiErrorBody) message() string {
	if b.ErrMsg != "" {
		return b.ErrMsg
	}
	return b.Reason
}

type PrerecordedClientOptions struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

// PrerecordedClient transcribes complete audio files through the REST API.
type PrerecordedClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

func NewPrerecordedClient(opts PrerecordedClientOptions) *PrerecordedClient {
	if opts.URL == "" {
		opts.URL = DefaultRESTURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &PrerecordedClient{
		url:        opts.URL,
		apiKey:     opts.APIKey,
		httpClient: opts.HTTPClient,
	}
}

// Transcribe uploads audio read from r. mimeType may be empty, in which case
// the server sniffs the container.
func (p *PrerecordedClient) Transcribe(ctx context.Context, r io.Reader, mimeType string, opts PrerecordedOptions) (*PrerecordedResponse, error) {
	if p.apiKey == "" {
		return nil, NewError(ErrorStatusAuthError, "API key is empty")
	}
	u, err := url.Parse(p.url)
	if err != nil {
		return nil, NewErrorWithCause(ErrorStatusBadRequest, "invalid URL", err)
	}
	u.RawQuery = opts.query().Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), r)
	if err != nil {
		return nil, NewErrorWithCause(ErrorStatusBadRequest, "failed to build request", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	if mimeType != "" {
		req.Header.Set("Content-Type", mimeType)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, NewErrorWithCause(ErrorStatusNetworkError, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewErrorWithCause(ErrorStatusNetworkError, "failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiErrorBody
		msg := resp.Status
		if json.Unmarshal(body, &apiErr) == nil && apiErr.message() != "" {
			msg = apiErr.message()
		}
		return nil, MapAPIError(msg, resp.StatusCode)
	}

	var out PrerecordedResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, NewErrorWithCause(ErrorStatusAPIError, "failed to parse response", err)
	}
	return &out, nil
}

// TranscribeFile uploads the file at path.
func (p *PrerecordedClient) TranscribeFile(ctx context.Context, path string, opts PrerecordedOptions) (*PrerecordedResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()
	return p.Transcribe(ctx, f, mimeTypeFor(path), opts)
}

func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".webm":
		return "audio/webm"
	default:
		return ""
	}
}
