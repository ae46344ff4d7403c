package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/waveforge/netrender/internal/conf"
	"github.com/waveforge/netrender/internal/logging"
)

// waitForSignal blocks until SIGINT/SIGTERM, then tears down the chain:
// a Quit message drains the pipeline stages, followed by closing the
// playback device and stopping the health monitor.
func waitForSignal(c *renderChain) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger := logging.ForService("cmd")
	logger.Info("shutting down")
	c.encoded.Push(c.factory.CreateMsgQuit())
	<-c.stageDone
	<-c.driverDone
	closeAll(logger, c)
}

func httpCommand(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "http [uri]",
		Short: "Play an HTTP/ICY audio stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := buildRenderChain(settings)
			if err != nil {
				return fmt.Errorf("cmd: building render chain: %w", err)
			}
			chain.manager.PlayHTTP(settings.Protocols.HTTP, args[0], nil)
			waitForSignal(chain)
			return nil
		},
	}
	cmd.SilenceUsage = true
	if err := setupHTTPFlags(cmd, settings); err != nil {
		fmt.Fprintf(os.Stderr, "error setting up flags: %v\n", err)
		os.Exit(1)
	}
	return cmd
}

func setupHTTPFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Protocols.HTTP.UserAgent, "user-agent", viper.GetString("protocols.http.useragent"), "User-Agent header sent to the stream source")
	return viper.BindPFlags(cmd.Flags())
}

func raopCommand(settings *conf.Settings) *cobra.Command {
	var controlAddr, audioAddr string

	cmd := &cobra.Command{
		Use:   "raop [sender-uri]",
		Short: "Receive an AirPlay (RAOP) session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := buildRenderChain(settings)
			if err != nil {
				return fmt.Errorf("cmd: building render chain: %w", err)
			}
			if _, err := chain.manager.PlayRAOP(args[0], settings.Repair, controlAddr, audioAddr); err != nil {
				return fmt.Errorf("cmd: starting raop receiver: %w", err)
			}
			waitForSignal(chain)
			return nil
		},
	}
	cmd.SilenceUsage = true
	cmd.Flags().StringVar(&controlAddr, "control-addr", ":6001", "RTSP/RTP control listen address")
	cmd.Flags().StringVar(&audioAddr, "audio-addr", ":6000", "RTP audio listen address")
	return cmd
}

func songcastCommand(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "songcast [multicast-uri]",
		Short: "Join an OHM/OHU Songcast session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := buildRenderChain(settings)
			if err != nil {
				return fmt.Errorf("cmd: building render chain: %w", err)
			}
			if _, err := chain.manager.PlaySongcast(args[0], settings.Protocols.Songcast.TTL, settings.Repair); err != nil {
				return fmt.Errorf("cmd: joining songcast session: %w", err)
			}
			waitForSignal(chain)
			return nil
		},
	}
	cmd.SilenceUsage = true
	if err := setupSongcastFlags(cmd, settings); err != nil {
		fmt.Fprintf(os.Stderr, "error setting up flags: %v\n", err)
		os.Exit(1)
	}
	return cmd
}

func setupSongcastFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().IntVar(&settings.Protocols.Songcast.TTL, "ttl", viper.GetInt("protocols.songcast.ttl"), "Multicast TTL")
	return viper.BindPFlags(cmd.Flags())
}
