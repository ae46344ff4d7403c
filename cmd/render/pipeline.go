package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/waveforge/netrender/internal/codec"
	"github.com/waveforge/netrender/internal/codec/flaccodec"
	"github.com/waveforge/netrender/internal/codec/wavcodec"
	"github.com/waveforge/netrender/internal/conf"
	"github.com/waveforge/netrender/internal/driver"
	"github.com/waveforge/netrender/internal/health"
	"github.com/waveforge/netrender/internal/jiffies"
	"github.com/waveforge/netrender/internal/logging"
	"github.com/waveforge/netrender/internal/manager"
	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/metrics"
	"github.com/waveforge/netrender/internal/pipeline"
	"github.com/waveforge/netrender/internal/reservoir"
	"github.com/waveforge/netrender/internal/rewinder"
)

// renderChain wires every element between the codec controller and the
// playback device: the shared-discipline pipeline stages (spec §4.5),
// the Gorger reservoir, the Renderer, and the malgo-backed driver. It is
// built once per process and outlives any single protocol/track.
type renderChain struct {
	factory  *message.Factory
	encoded  *reservoir.Reservoir
	rewinder *rewinder.Rewinder
	manager  *manager.Manager
	health   *health.Monitor
	metrics  *metrics.Collector

	driverDone chan struct{}
	pcmProc    *driver.MalgoProcessor
	stageDone  chan struct{}
	stopHealth context.CancelFunc
}

func buildRenderChain(s *conf.Settings) (*renderChain, error) {
	logger := logging.ForService("cmd")

	factory := message.NewFactory(message.FactoryConfig{
		ControlCells:      s.Pool.ControlCells,
		StreamCells:       s.Pool.StreamCells,
		AudioEncodedCells: s.Pool.AudioEncodedCells,
		AudioPcmCells:     s.Pool.AudioPcmCells,
		SilenceCells:      s.Pool.SilenceCells,
		PlayableCells:     s.Pool.PlayableCells,
	})

	mcol := metrics.New(s.Metrics.Enabled)
	metrics.InitMetrics(mcol)

	encoded := reservoir.New(s.Pool.EncodedReservoirBytes)
	decoded := reservoir.New(s.Pool.DecodedReservoirBytes)

	rw := rewinder.New(reservoirSource{encoded}, 0)
	codecs := []codec.Codec{flaccodec.New(), wavcodec.New()}
	controller := codec.New(factory, rw, decoded, codecs)

	rampDuration := s.Pipeline.RampDuration
	skipper := pipeline.NewSkipper(factory, rampDuration)
	stopper := pipeline.NewStopper(factory, rampDuration)
	waiter := pipeline.NewWaiter(factory)
	muter := pipeline.NewMuter(factory, rampDuration)
	ramper := pipeline.NewRamper(factory, rampDuration)

	gorgeThresholdJiffies := durationToJiffies(s.Pipeline.GorgeThreshold)
	gorger := pipeline.NewGorger(gorgeThresholdJiffies)

	stage1 := reservoir.New(0)
	stage2 := reservoir.New(0)
	stage3 := reservoir.New(0)
	stage4 := reservoir.New(0)

	go pipeline.Run(decoded, stage1, skipper)
	go pipeline.Run(stage1, stage2, stopper)
	go pipeline.Run(stage2, stage3, waiter)
	go pipeline.Run(stage3, stage4, muter)
	go pipeline.Run(stage4, gorger.Reservoir, ramper)

	monitor := health.New(s.Pipeline.StarvationTimeout, s.Pipeline.StarvationTimeout/4)
	monitor.RegisterTarget(gorger)
	monitor.RegisterTarget(waiter)
	healthCtx, stopHealth := context.WithCancel(context.Background())
	go monitor.Run(healthCtx)

	var currentStreamID uint64
	decoded.OnPush(message.KindDecodedStream, func(_ *reservoir.Reservoir, msg message.Message) bool {
		ds := msg.(message.DecodedStream)
		currentStreamID = ds.Payload().StreamID
		monitor.Track(currentStreamID, "pipeline", nil)
		return true
	})
	decoded.OnPush(message.KindAudioPcm, func(r *reservoir.Reservoir, msg message.Message) bool {
		monitor.Heartbeat(currentStreamID)
		return true
	})

	mgr := manager.New(factory, encoded, rw, controller)
	mgr.RunController()

	processor, err := driver.NewMalgoProcessor(driver.DeviceConfig{
		Name:       s.Driver.Device,
		SampleRate: s.Driver.SampleRate,
		Channels:   s.Driver.Channels,
		BitDepth:   s.Driver.BitDepth,
		RingBytes:  1 << 20,
	})
	if err != nil {
		return nil, err
	}

	renderer := driver.NewRenderer(factory)
	driverReservoir := reservoir.New(0)
	stageDone := make(chan struct{})
	go func() {
		defer close(stageDone)
		for {
			msg := gorger.Pop()
			if msg == nil {
				return
			}
			quit := msg.Kind() == message.KindQuit
			for _, out := range renderer.Process(msg) {
				driverReservoir.Push(out)
			}
			if quit {
				return
			}
		}
	}()

	drv := driver.New(driverReservoir, processor, s.Driver.Channels, s.Driver.BitDepth, s.Driver.SampleRate, logger)
	driverDone := make(chan struct{})
	go func() {
		defer close(driverDone)
		drv.Run()
	}()

	if s.Metrics.Enabled {
		srv := metrics.NewServer(s.Metrics.ListenAddr, mcol)
		go func() {
			_ = srv.Start(context.Background())
		}()
	}

	return &renderChain{
		factory:    factory,
		encoded:    encoded,
		rewinder:   rw,
		manager:    mgr,
		health:     monitor,
		metrics:    mcol,
		driverDone: driverDone,
		pcmProc:    processor,
		stageDone:  stageDone,
		stopHealth: stopHealth,
	}, nil
}

// reservoirSource adapts *reservoir.Reservoir to rewinder.Source.
type reservoirSource struct {
	r *reservoir.Reservoir
}

func (s reservoirSource) Pop() message.Message {
	return s.r.Pop()
}

func durationToJiffies(d time.Duration) int64 {
	return int64(d.Seconds() * float64(jiffies.PerSecond))
}

func closeAll(logger *slog.Logger, c *renderChain) {
	if c.stopHealth != nil {
		c.stopHealth()
	}
	if c.pcmProc != nil {
		if err := c.pcmProc.Close(); err != nil && logger != nil {
			logger.Warn("closing playback device", "err", err)
		}
	}
}
