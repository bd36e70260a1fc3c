package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var ErrDeviceNotFound = errors.New("capture: device not found")

type DeviceOptions struct {
	SampleRate  int
	Channels    int
	ChunkFrames int
	// Loopback records what the output device plays. It needs a backend with
	// loopback support (WASAPI); elsewhere the device falls back to capture,
	// where DeviceName can select a monitor source.
	Loopback bool
	// DeviceName selects the first device whose name contains it,
	// case-insensitively. Empty selects the system default.
	DeviceName string
	Buffer     int
	OnLog      func(message string)
}

func (o *DeviceOptions) applyDefaults() {
	if o.SampleRate <= 0 {
		o.SampleRate = DefaultSampleRate
	}
	if o.Channels <= 0 {
		o.Channels = DefaultChannels
	}
	if o.ChunkFrames <= 0 {
		o.ChunkFrames = ChunkFramesFor(o.SampleRate)
	}
	if o.Buffer <= 0 {
		o.Buffer = DefaultBuffer
	}
}

// Device captures system audio through miniaudio.
type Device struct {
	opts DeviceOptions

	mu      sync.Mutex
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	chunker *Chunker
	out     chan []byte
	closed  bool
	dropped atomic.Uint64
}

func NewDevice(opts DeviceOptions) *Device {
	opts.applyDefaults()
	return &Device{opts: opts}
}

// Dropped returns how many chunks were discarded because the consumer fell
// behind.
func (d *Device) Dropped() uint64 {
	return d.dropped.Load()
}

func (d *Device) logf(format string, args ...interface{}) {
	if d.opts.OnLog != nil {
		d.opts.OnLog(fmt.Sprintf(format, args...))
	}
}

// Start opens the device and begins emitting chunks of ChunkFrames frames.
func (d *Device) Start(ctx context.Context) (<-chan []byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device != nil {
		return nil, errors.New("capture: device already started")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		d.logf("miniaudio: %s", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("capture: init context: %w", err)
	}

	d.chunker = NewChunker(d.opts.ChunkFrames * d.opts.Channels * 2)
	d.out = make(chan []byte, d.opts.Buffer)
	d.closed = false

	callbacks := malgo.DeviceCallbacks{Data: d.onFrames}

	var device *malgo.Device
	if d.opts.Loopback {
		device, err = d.initDevice(mctx, malgo.Loopback, callbacks)
		if err != nil {
			d.logf("loopback capture unavailable (%v), falling back to capture device", err)
		}
	}
	if device == nil {
		device, err = d.initDevice(mctx, malgo.Capture, callbacks)
	}
	if err != nil {
		mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("capture: init device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("capture: start device: %w", err)
	}

	d.mctx = mctx
	d.device = device
	out := d.out

	go func() {
		<-ctx.Done()
		d.Close()
	}()

	return out, nil
}

func (d *Device) initDevice(mctx *malgo.AllocatedContext, kind malgo.DeviceType, callbacks malgo.DeviceCallbacks) (*malgo.Device, error) {
	cfg := malgo.DefaultDeviceConfig(kind)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(d.opts.Channels)
	cfg.SampleRate = uint32(d.opts.SampleRate)
	cfg.Alsa.NoMMap = 1

	if d.opts.DeviceName != "" {
		// Loopback records an output device, so it is looked up among playback devices.
		lookup := malgo.Capture
		if kind == malgo.Loopback {
			lookup = malgo.Playback
		}
		infos, err := mctx.Devices(lookup)
		if err != nil {
			return nil, err
		}
		info, ok := findDevice(infos, d.opts.DeviceName)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, d.opts.DeviceName)
		}
		cfg.Capture.DeviceID = info.ID.Pointer()
		d.logf("using device %q", info.Name())
	}

	return malgo.InitDevice(mctx.Context, cfg, callbacks)
}

func findDevice(infos []malgo.DeviceInfo, name string) (malgo.DeviceInfo, bool) {
	needle := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), needle) {
			return info, true
		}
	}
	return malgo.DeviceInfo{}, false
}

// onFrames runs on the audio thread and must not block.
func (d *Device) onFrames(_, input []byte, _ uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	for _, chunk := range d.chunker.Write(input) {
		select {
		case d.out <- chunk:
		default:
			d.dropped.Add(1)
		}
	}
}

// Close stops the device, emits the buffered tail and closes the channel.
func (d *Device) Close() error {
	d.mu.Lock()
	device := d.device
	mctx := d.mctx
	d.device = nil
	d.mctx = nil
	d.mu.Unlock()

	if device == nil {
		return nil
	}

	// Stop waits for in-flight callbacks, so no onFrames runs after it.
	err := device.Stop()
	device.Uninit()
	if mctx != nil {
		mctx.Uninit()
		mctx.Free()
	}

	d.mu.Lock()
	d.closed = true
	if tail := d.chunker.Flush(); tail != nil {
		select {
		case d.out <- tail:
		default:
			d.dropped.Add(1)
		}
	}
	close(d.out)
	d.mu.Unlock()

	return err
}

// ListDevices returns the names of the devices that can be recorded. With
// loopback set it lists output devices.
func ListDevices(loopback bool) ([]string, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		mctx.Uninit()
		mctx.Free()
	}()

	kind := malgo.Capture
	if loopback {
		kind = malgo.Playback
	}
	infos, err := mctx.Devices(kind)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}
