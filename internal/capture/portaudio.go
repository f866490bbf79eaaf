package capture

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/whisperkey/whisperkey/pkg/audio"
)

// deviceSource opens input streams through PortAudio.
type deviceSource struct{}

// NewDeviceSource returns the production [Source] backed by PortAudio.
func NewDeviceSource() Source {
	return deviceSource{}
}

func (deviceSource) Open(device string, chunkFrames int) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, wrapHostError(err)
	}

	info, err := findInputDevice(device)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	channels := info.MaxInputChannels
	if channels > 2 {
		channels = 2
	}

	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = channels
	params.FramesPerBuffer = chunkFrames

	buf := make([]float32, chunkFrames*channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, wrapHostError(err)
	}

	return &deviceStream{
		stream: stream,
		buf:    buf,
		gate:   newReadGate(),
		format: audio.Format{
			SampleRate: int(params.SampleRate),
			Channels:   channels,
		},
	}, nil
}

// findInputDevice resolves the configured device name. An empty name
// selects the host default; otherwise the first input device whose name
// contains the string (case-insensitively) wins.
func findInputDevice(device string) (*portaudio.DeviceInfo, error) {
	if device == "" {
		info, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoInputDevice, err)
		}
		return info, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, wrapHostError(err)
	}
	want := strings.ToLower(device)
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: no input device name contains %q", ErrNoInputDevice, device)
}

// errStreamClosed is returned by Read once Close has begun.
var errStreamClosed = errors.New("capture: input stream closed")

type deviceStream struct {
	stream *portaudio.Stream
	buf    []float32
	format audio.Format
	gate   *readGate

	closeOnce sync.Once
	closeErr  error
}

func (d *deviceStream) Format() audio.Format {
	return d.format
}

func (d *deviceStream) Start() error {
	if err := d.stream.Start(); err != nil {
		return wrapHostError(err)
	}
	return nil
}

func (d *deviceStream) Read(out []float32) (int, error) {
	if !d.gate.enter() {
		return 0, errStreamClosed
	}
	err := d.stream.Read()
	d.gate.leave()

	if err != nil {
		// Overflow means the host dropped frames; the buffer that did
		// arrive is still valid.
		if errors.Is(err, portaudio.InputOverflowed) {
			err = nil
		} else {
			return 0, err
		}
	}
	return copy(out, d.buf), err
}

func (d *deviceStream) Close() error {
	d.closeOnce.Do(func() {
		// Abort returns a blocked Pa_ReadStream call with an error; the
		// stream must not be freed until that reader is out.
		d.gate.shut(func() { d.stream.Abort() })
		d.closeErr = d.stream.Close()
		portaudio.Terminate()
	})
	return d.closeErr
}

// readGate coordinates one blocking reader with a one-shot close. The
// closer marks the gate shut, interrupts the read in progress, and waits
// until the reader has left before the underlying stream may be freed.
type readGate struct {
	mu      sync.Mutex
	cond    *sync.Cond
	reading bool
	closed  bool
}

func newReadGate() *readGate {
	g := &readGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// enter marks a read in progress. Returns false once the gate is shut.
func (g *readGate) enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.reading = true
	return true
}

// leave marks the read finished.
func (g *readGate) leave() {
	g.mu.Lock()
	g.reading = false
	g.cond.Broadcast()
	g.mu.Unlock()
}

// shut closes the gate, runs interrupt to unblock a read in progress, and
// returns once no reader is inside.
func (g *readGate) shut(interrupt func()) {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	interrupt()

	g.mu.Lock()
	for g.reading {
		g.cond.Wait()
	}
	g.mu.Unlock()
}

// wrapHostError maps host API failures onto the package's sentinel errors
// where the message makes the cause recognizable.
func wrapHostError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "denied") {
		return fmt.Errorf("%w: %v", ErrMicPermission, err)
	}
	return err
}
