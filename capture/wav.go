package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSource replays a 16-bit PCM WAV file as a Source.
type WAVSource struct {
	path        string
	chunkFrames int
	realtime    bool

	mu         sync.Mutex
	file       *os.File
	sampleRate int
	channels   int
}

// NewWAVSource returns a source for path. With realtime set, chunks are
// paced at the rate they would be captured live.
func NewWAVSource(path string, chunkFrames int, realtime bool) *WAVSource {
	return &WAVSource{path: path, chunkFrames: chunkFrames, realtime: realtime}
}

// SampleRate is known once Start or ReadFormat has returned.
func (s *WAVSource) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleRate
}

func (s *WAVSource) Channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels
}

// ReadFormat reads the file header only and reports the format Start will
// stream in.
func (s *WAVSource) ReadFormat() (audio.Format, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return audio.Format{}, fmt.Errorf("capture: open wav: %w", err)
	}
	defer f.Close()

	_, format, err := s.decodeHeader(f)
	if err != nil {
		return audio.Format{}, err
	}
	s.mu.Lock()
	s.sampleRate = format.SampleRate
	s.channels = format.NumChannels
	s.mu.Unlock()
	return *format, nil
}

func (s *WAVSource) decodeHeader(f *os.File) (*wav.Decoder, *audio.Format, error) {
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, nil, fmt.Errorf("capture: %s is not a valid WAV file", s.path)
	}
	if dec.BitDepth != 16 {
		return nil, nil, fmt.Errorf("capture: %s has %d-bit samples, want 16", s.path, dec.BitDepth)
	}
	format := dec.Format()
	if format.SampleRate <= 0 || format.NumChannels <= 0 {
		return nil, nil, fmt.Errorf("capture: %s has an invalid format header", s.path)
	}
	return dec, format, nil
}

func (s *WAVSource) Start(ctx context.Context) (<-chan []byte, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("capture: open wav: %w", err)
	}

	dec, format, err := s.decodeHeader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	chunkFrames := s.chunkFrames
	if chunkFrames <= 0 {
		chunkFrames = ChunkFramesFor(format.SampleRate)
	}

	s.mu.Lock()
	s.file = f
	s.sampleRate = format.SampleRate
	s.channels = format.NumChannels
	s.mu.Unlock()

	out := make(chan []byte, DefaultBuffer)
	chunkDuration := time.Duration(chunkFrames) * time.Second / time.Duration(format.SampleRate)

	go func() {
		defer close(out)
		defer s.Close()

		buf := &audio.IntBuffer{
			Format: format,
			Data:   make([]int, chunkFrames*format.NumChannels),
		}
		for {
			n, err := dec.PCMBuffer(buf)
			if err != nil || n == 0 {
				return
			}
			select {
			case out <- IntsToPCM16(buf.Data[:n]):
			case <-ctx.Done():
				return
			}
			if s.realtime {
				select {
				case <-time.After(chunkDuration):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *WAVSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

// WAVRecorder writes 16-bit PCM chunks to a WAV file.
type WAVRecorder struct {
	path   string
	mu     sync.Mutex
	file   *os.File
	enc    *wav.Encoder
	format *audio.Format
	frames int
}

func NewWAVRecorder(path string, sampleRate, channels int) (*WAVRecorder, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("capture: invalid recorder format %d Hz x %d", sampleRate, channels)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("capture: create wav: %w", err)
	}
	return &WAVRecorder{
		path: path,
		file: f,
		enc:  wav.NewEncoder(f, sampleRate, 16, channels, 1),
		format: &audio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
	}, nil
}

func (r *WAVRecorder) Path() string {
	return r.path
}

// Duration returns the length of the audio written so far.
func (r *WAVRecorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.frames) * time.Second / time.Duration(r.format.SampleRate)
}

func (r *WAVRecorder) Write(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return errors.New("capture: recorder is closed")
	}
	samples := PCM16ToInts(pcm)
	if len(samples) == 0 {
		return nil
	}
	err := r.enc.Write(&audio.IntBuffer{
		Format:         r.format,
		Data:           samples,
		SourceBitDepth: 16,
	})
	if err != nil {
		return fmt.Errorf("capture: write wav: %w", err)
	}
	r.frames += len(samples) / r.format.NumChannels
	return nil
}

// Close finalizes the WAV header and closes the file.
func (r *WAVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return nil
	}
	encErr := r.enc.Close()
	fileErr := r.file.Close()
	r.enc = nil
	if encErr != nil {
		return fmt.Errorf("capture: finalize wav: %w", encErr)
	}
	return fileErr
}
