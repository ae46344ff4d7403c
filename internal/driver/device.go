// Package driver implements the final pipeline element's DAC boundary
// (spec §2 item 6, §6): a malgo-backed PCMProcessor bridging the
// pipeline's push-style fragment delivery to malgo's pull-style playback
// callback via a ring buffer, using malgo's device enumeration/selection
// pattern and internal/errors' builder for every failure path.
package driver

import (
	"runtime"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"
	"github.com/waveforge/netrender/internal/errors"
)

// DeviceConfig selects and configures the playback device.
type DeviceConfig struct {
	Name       string
	SampleRate int
	Channels   int
	BitDepth   int
	// RingBytes sizes the bridge between ProcessFragment* pushes and
	// malgo's pull callback; large enough to absorb scheduling jitter
	// without ever blocking the pipeline's real-time pull loop for long.
	RingBytes int
}

func backendForPlatform() (malgo.Backend, error) {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	case "darwin":
		return malgo.BackendCoreaudio, nil
	default:
		return malgo.BackendNull, errors.New(nil).
			Component("driver").
			Category(errors.CategoryResource).
			Context("error", "unsupported operating system").
			Context("os", runtime.GOOS).
			Build()
	}
}

func formatForBitDepth(bitDepth int) malgo.FormatType {
	switch bitDepth {
	case 8:
		return malgo.FormatU8
	case 16:
		return malgo.FormatS16
	case 24:
		return malgo.FormatS24
	default:
		return malgo.FormatS32
	}
}

// selectDevice finds a playback device matching name, falling back to
// the system default, then to the first device available.
func selectDevice(ctx *malgo.AllocatedContext, name string) (malgo.DeviceInfo, error) {
	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return malgo.DeviceInfo{}, errors.New(err).
			Component("driver").
			Category(errors.CategoryResource).
			Context("operation", "enumerate_playback_devices").
			Build()
	}
	if len(infos) == 0 {
		return malgo.DeviceInfo{}, errors.New(nil).
			Component("driver").
			Category(errors.CategoryResource).
			Context("error", "no playback devices available").
			Build()
	}

	if name == "" || name == "default" || name == "sysdefault" {
		for i := range infos {
			if infos[i].IsDefault == 1 {
				return infos[i], nil
			}
		}
		return infos[0], nil
	}
	for i := range infos {
		if infos[i].Name() == name {
			return infos[i], nil
		}
	}
	for i := range infos {
		if strings.Contains(infos[i].Name(), name) {
			return infos[i], nil
		}
	}
	return infos[0], nil
}

// MalgoProcessor is the default PCMProcessor, driving a real output
// device via gen2brain/malgo. Pushed fragments are copied into a ring
// buffer; malgo's playback callback drains it on its own schedule.
type MalgoProcessor struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	cfg    DeviceConfig

	mu   sync.Mutex
	ring *ringbuffer.RingBuffer
	cond *sync.Cond
}

// NewMalgoProcessor opens and starts a playback device per cfg.
func NewMalgoProcessor(cfg DeviceConfig) (*MalgoProcessor, error) {
	backend, err := backendForPlatform()
	if err != nil {
		return nil, err
	}

	ctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("driver").
			Category(errors.CategoryResource).
			Context("operation", "init_context").
			Build()
	}

	info, err := selectDevice(ctx, cfg.Name)
	if err != nil {
		_ = ctx.Uninit()
		return nil, err
	}

	if cfg.RingBytes <= 0 {
		cfg.RingBytes = cfg.SampleRate * cfg.Channels * (cfg.BitDepth / 8) // ~1s
	}

	p := &MalgoProcessor{
		ctx:  ctx,
		cfg:  cfg,
		ring: ringbuffer.New(cfg.RingBytes),
	}
	p.cond = sync.NewCond(&p.mu)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = formatForBitDepth(cfg.BitDepth)
	deviceConfig.Playback.Channels = uint32(cfg.Channels)
	deviceConfig.Playback.DeviceID = info.ID.Pointer()
	deviceConfig.SampleRate = uint32(cfg.SampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			p.fill(out)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		return nil, errors.New(err).
			Component("driver").
			Category(errors.CategoryResource).
			Context("device_name", info.Name()).
			Context("operation", "init_device").
			Build()
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		return nil, errors.New(err).
			Component("driver").
			Category(errors.CategoryResource).
			Context("device_name", info.Name()).
			Context("operation", "start_device").
			Build()
	}
	p.device = device
	return p, nil
}

// fill is malgo's playback data callback: it drains as much of the ring
// buffer as is available and pads any shortfall with silence, since
// malgo always expects a fully populated output buffer.
func (p *MalgoProcessor) fill(out []byte) {
	p.mu.Lock()
	n, _ := p.ring.Read(out)
	p.cond.Broadcast()
	p.mu.Unlock()
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}

// push blocks until all of data has been written into the ring buffer.
func (p *MalgoProcessor) push(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	written := 0
	for written < len(data) {
		for p.ring.Free() == 0 {
			p.cond.Wait()
		}
		n, _ := p.ring.Write(data[written:])
		written += n
	}
}

func (p *MalgoProcessor) BeginBlock() {}
func (p *MalgoProcessor) EndBlock()   {}

func (p *MalgoProcessor) ProcessFragment8(data []byte, channels int) bool {
	p.push(data)
	return true
}

func (p *MalgoProcessor) ProcessFragment16(data []byte, channels int) bool {
	p.push(data)
	return true
}

func (p *MalgoProcessor) ProcessFragment24(data []byte, channels int) bool {
	p.push(data)
	return true
}

func (p *MalgoProcessor) ProcessSample8(data []byte, channels int)  { p.push(data) }
func (p *MalgoProcessor) ProcessSample16(data []byte, channels int) { p.push(data) }
func (p *MalgoProcessor) ProcessSample24(data []byte, channels int) { p.push(data) }

// Close stops and tears down the device.
func (p *MalgoProcessor) Close() error {
	if p.device != nil {
		p.device.Uninit()
	}
	if p.ctx != nil {
		return p.ctx.Uninit()
	}
	return nil
}
