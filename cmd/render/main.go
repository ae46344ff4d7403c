// Command render is the renderer's entrypoint: a cobra root command
// with one subcommand per source protocol.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/waveforge/netrender/internal/conf"
	"github.com/waveforge/netrender/internal/errors"
	"github.com/waveforge/netrender/internal/logging"
)

func main() {
	logging.Init()
	settings := conf.Setting()

	initTelemetry(settings)

	root := RootCommand(settings)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initTelemetry(settings *conf.Settings) {
	reporter := errors.NewSentryReporter(settings.Telemetry.Enabled)
	errors.SetTelemetryReporter(reporter)
	if !settings.Telemetry.Enabled || settings.Telemetry.SentryDSN == "" {
		return
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Telemetry.SentryDSN,
		AttachStacktrace: true,
	}); err != nil {
		logging.ForService("cmd").Warn("sentry init failed", "err", err)
	}
}

// RootCommand builds the render CLI: one persistent flag set bound to
// Settings, plus a subcommand per source protocol (spec §4.6-§4.8).
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "render",
		Short: "Network audio renderer",
		PersistentPreRun: func(*cobra.Command, []string) {
			if settings.Debug {
				logging.SetLevel(slog.LevelDebug)
			}
		},
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Fprintf(os.Stderr, "error setting up flags: %v\n", err)
	}

	rootCmd.AddCommand(
		httpCommand(settings),
		raopCommand(settings),
		songcastCommand(settings),
	)

	return rootCmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	cmd.PersistentFlags().StringVar(&settings.Driver.Device, "device", viper.GetString("driver.device"), "Playback device name")
	cmd.PersistentFlags().IntVar(&settings.Driver.SampleRate, "samplerate", viper.GetInt("driver.samplerate"), "Playback sample rate")
	cmd.PersistentFlags().IntVar(&settings.Driver.Channels, "channels", viper.GetInt("driver.channels"), "Playback channel count")
	cmd.PersistentFlags().StringVar(&settings.Metrics.ListenAddr, "metrics-addr", viper.GetString("metrics.listenaddr"), "Prometheus /metrics listen address")
	cmd.PersistentFlags().BoolVar(&settings.Metrics.Enabled, "metrics", viper.GetBool("metrics.enabled"), "Enable the Prometheus metrics server")

	return viper.BindPFlags(cmd.PersistentFlags())
}
