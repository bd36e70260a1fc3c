// Package capture produces little-endian 16-bit PCM chunks from system audio
// or from WAV files.
package capture

import (
	"context"
	"encoding/binary"
	"math"
)

const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultBuffer     = 64
)

// Source emits PCM chunks until its context ends or it is closed. The
// returned channel is closed when the source stops.
type Source interface {
	Start(ctx context.Context) (<-chan []byte, error)
	Close() error
}

// ChunkFramesFor returns the frame count of a 100 ms chunk.
func ChunkFramesFor(sampleRate int) int {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return sampleRate / 10
}

// Float32ToPCM16 converts float samples in [-1, 1] to 16-bit PCM. Samples
// outside the range are clamped.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			v = 0
		}
		v = math.Max(-1, math.Min(1, v))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return out
}

// PCM16ToInts widens 16-bit PCM to ints. A trailing odd byte is ignored.
func PCM16ToInts(pcm []byte) []int {
	out := make([]int, len(pcm)/2)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

// IntsToPCM16 narrows samples to 16-bit PCM, saturating out-of-range values.
func IntsToPCM16(samples []int) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > math.MaxInt16 {
			s = math.MaxInt16
		} else if s < math.MinInt16 {
			s = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}
