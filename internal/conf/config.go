// Package conf loads renderer settings from an embedded default, an
// optional user config file, and environment variables, via a layered
// viper setup.
package conf

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var defaultConfig embed.FS

// Rotation policies for the main log file.
const (
	RotationDaily  = "daily"
	RotationWeekly = "weekly"
	RotationSize   = "size"
)

// LogConfig configures the main application log file.
type LogConfig struct {
	Path     string
	Rotation string
	MaxSize  int64
}

// PoolConfig sizes the message/buffer pools (spec §4.1).
type PoolConfig struct {
	AudioEncodedCells     int
	AudioPcmCells         int
	ControlCells          int
	StreamCells           int
	SilenceCells          int
	PlayableCells         int
	EncodedReservoirBytes int
	DecodedReservoirBytes int
}

// PipelineConfig configures shared pipeline-stage timing (spec §4.5).
type PipelineConfig struct {
	ChunkDuration     time.Duration
	GorgeThreshold    time.Duration
	RampDuration      time.Duration
	StarvationTimeout time.Duration
}

// DriverConfig selects and configures the playback device (spec §2.6).
type DriverConfig struct {
	Device     string
	SampleRate int
	Channels   int
	BitDepth   int
}

// HTTPProtoConfig configures the HTTP/ICY protocol (spec §4.6).
type HTTPProtoConfig struct {
	UserAgent      string
	ConnectTimeout time.Duration
}

// RAOPProtoConfig configures the RAOP protocol (spec §4.7).
type RAOPProtoConfig struct {
	ControlPort int
}

// SongcastProtoConfig configures the Songcast OHM/OHU protocol (spec §4.8).
type SongcastProtoConfig struct {
	TTL int
}

// ProtocolsConfig groups per-protocol configuration.
type ProtocolsConfig struct {
	HTTP     HTTPProtoConfig
	RAOP     RAOPProtoConfig
	Songcast SongcastProtoConfig
}

// RepairConfig configures the shared Repairer (spec §4.9).
type RepairConfig struct {
	ListCapacity              int
	InitialTimeoutMax         time.Duration
	SubsequentTimeout         time.Duration
	MaxFramesPerResendRequest int
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled    bool
	ListenAddr string
}

// TelemetryConfig configures optional Sentry error reporting.
type TelemetryConfig struct {
	SentryDSN string
	Enabled   bool
}

// Settings is the renderer's full configuration tree.
type Settings struct {
	Debug bool

	Main struct {
		Name string
		Log  LogConfig
	}

	Pool      PoolConfig
	Pipeline  PipelineConfig
	Driver    DriverConfig
	Protocols ProtocolsConfig
	Repair    RepairConfig
	Metrics   MetricsConfig
	Telemetry TelemetryConfig
}

var (
	settings     *Settings
	settingsOnce sync.Once
	settingsMu   sync.RWMutex
)

// Load reads the embedded defaults, merges an optional user config file at
// userConfigPath (skipped if empty or missing), binds RENDER_-prefixed
// environment variables, and returns the resulting Settings.
func Load(userConfigPath string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaultBytes, err := defaultConfig.ReadFile("config.yaml")
	if err != nil {
		return nil, fmt.Errorf("conf: reading embedded defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaultBytes)); err != nil {
		return nil, fmt.Errorf("conf: parsing embedded defaults: %w", err)
	}

	if userConfigPath != "" {
		if _, statErr := os.Stat(userConfigPath); statErr == nil {
			v.SetConfigFile(userConfigPath)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("conf: merging user config %s: %w", userConfigPath, err)
			}
		}
	}

	v.SetEnvPrefix("render")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	s := &Settings{}
	s.Debug = v.GetBool("debug")
	s.Main.Name = v.GetString("main.name")
	s.Main.Log.Path = v.GetString("main.log.path")
	s.Main.Log.Rotation = v.GetString("main.log.rotation")
	s.Main.Log.MaxSize = v.GetInt64("main.log.maxsize")

	s.Pool.AudioEncodedCells = v.GetInt("pool.audioencodedcells")
	s.Pool.AudioPcmCells = v.GetInt("pool.audiopcmcells")
	s.Pool.ControlCells = v.GetInt("pool.controlcells")
	s.Pool.StreamCells = v.GetInt("pool.streamcells")
	s.Pool.SilenceCells = v.GetInt("pool.silencecells")
	s.Pool.PlayableCells = v.GetInt("pool.playablecells")
	s.Pool.EncodedReservoirBytes = v.GetInt("pool.encodedreservoirbytes")
	s.Pool.DecodedReservoirBytes = v.GetInt("pool.decodedreservoirbytes")

	s.Pipeline.ChunkDuration = v.GetDuration("pipeline.chunkduration")
	s.Pipeline.GorgeThreshold = v.GetDuration("pipeline.gorgethreshold")
	s.Pipeline.RampDuration = v.GetDuration("pipeline.rampduration")
	s.Pipeline.StarvationTimeout = v.GetDuration("pipeline.starvationtimeout")

	s.Driver.Device = v.GetString("driver.device")
	s.Driver.SampleRate = v.GetInt("driver.samplerate")
	s.Driver.Channels = v.GetInt("driver.channels")
	s.Driver.BitDepth = v.GetInt("driver.bitdepth")

	s.Protocols.HTTP.UserAgent = v.GetString("protocols.http.useragent")
	s.Protocols.HTTP.ConnectTimeout = v.GetDuration("protocols.http.connecttimeout")
	s.Protocols.RAOP.ControlPort = v.GetInt("protocols.raop.controlport")
	s.Protocols.Songcast.TTL = v.GetInt("protocols.songcast.ttl")

	s.Repair.ListCapacity = v.GetInt("repair.listcapacity")
	s.Repair.InitialTimeoutMax = time.Duration(v.GetInt("repair.initialtimeoutmaxmillis")) * time.Millisecond
	s.Repair.SubsequentTimeout = time.Duration(v.GetInt("repair.subsequenttimeoutmillis")) * time.Millisecond
	s.Repair.MaxFramesPerResendRequest = v.GetInt("repair.maxframesperresendrequest")

	s.Metrics.Enabled = v.GetBool("metrics.enabled")
	s.Metrics.ListenAddr = v.GetString("metrics.listenaddr")

	s.Telemetry.SentryDSN = v.GetString("telemetry.sentrydsn")
	s.Telemetry.Enabled = v.GetBool("telemetry.enabled")

	settingsMu.Lock()
	settings = s
	settingsMu.Unlock()

	return s, nil
}

// Setting returns the most recently Load-ed settings, or embedded defaults
// if Load has never been called (keeps packages that just need a default,
// like internal/logging, usable in tests without a full CLI bootstrap).
func Setting() *Settings {
	settingsMu.RLock()
	s := settings
	settingsMu.RUnlock()
	if s != nil {
		return s
	}

	settingsOnce.Do(func() {
		loaded, err := Load("")
		if err != nil {
			// The embedded config is part of the binary; a failure here is
			// a build-time defect, not a runtime condition to recover from.
			panic(fmt.Sprintf("conf: embedded defaults failed to load: %v", err))
		}
		settingsMu.Lock()
		settings = loaded
		settingsMu.Unlock()
	})

	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settings
}

// EnsureDir creates the directory portion of path if it doesn't exist.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
