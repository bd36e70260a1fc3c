package capture

import (
	"context"
	"sync"
	"time"
)

// StaticSource replays chunks held in memory, e.g. a previous recording.
// With Hold set the channel stays open after the last chunk until the
// context ends or Close is called, like a live device with silence.
type StaticSource struct {
	Chunks   [][]byte
	Interval time.Duration
	Hold     bool

	initOnce  sync.Once
	closeOnce sync.Once
	stop      chan struct{}
}

func NewStaticSource(chunks [][]byte, interval time.Duration) *StaticSource {
	return &StaticSource{Chunks: chunks, Interval: interval}
}

func (s *StaticSource) Start(ctx context.Context) (<-chan []byte, error) {
	s.init()
	out := make(chan []byte)
	go func() {
		defer close(out)
		for _, chunk := range s.Chunks {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
			if s.Interval > 0 {
				select {
				case <-time.After(s.Interval):
				case <-ctx.Done():
					return
				case <-s.stop:
					return
				}
			}
		}
		if s.Hold {
			select {
			case <-ctx.Done():
			case <-s.stop:
			}
		}
	}()
	return out, nil
}

func (s *StaticSource) init() {
	s.initOnce.Do(func() { s.stop = make(chan struct{}) })
}

func (s *StaticSource) Close() error {
	s.init()
	s.closeOnce.Do(func() { close(s.stop) })
	return nil
}
