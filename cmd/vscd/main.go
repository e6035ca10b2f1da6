// Command vscd is a thin demo process wiring a Supervisor to a stub host
// audio callback: a free-running ticker standing in for a real audio host.
// It exists only to exercise Supervisor.CreateReceiver/CreateSender end to
// end against a config.Bundle.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/aes67/govsc/clock"
	"github.com/aes67/govsc/config"
	"github.com/aes67/govsc/supervisor"
)

func main() {
	configPath := pflag.StringP("config", "c", "vscd.yaml", "path to the descriptor bundle YAML file")
	verbose := pflag.BoolP("verbose", "v", false, "enable debug logging")
	pflag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := run(*configPath); err != nil {
		log.Error().Err(err).Msg("vscd exited with error")
		os.Exit(1)
	}
}

func run(configPath string) error {
	bundle, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("vscd: %w", err)
	}

	sup := supervisor.New(256)
	defer sup.Shutdown()

	go logStats(sup)

	var rxHandles []*supervisor.RxHandle
	for _, rs := range bundle.Receivers {
		desc, err := rs.ToDescriptor(bundle.Interface)
		if err != nil {
			return fmt.Errorf("vscd: receiver %s: %w", rs.ID, err)
		}
		h, err := sup.CreateReceiver(desc, supervisor.ClockConfig{SampleRate: desc.SampleRate, Kind: supervisor.ClockSystem})
		if err != nil {
			return fmt.Errorf("vscd: create receiver %s: %w", rs.ID, err)
		}
		log.Info().Str("session", h.ID).Msg("receiver created")
		rxHandles = append(rxHandles, h)
	}

	var txHandles []*supervisor.TxHandle
	for _, ts := range bundle.Senders {
		desc, err := ts.ToDescriptor(bundle.Interface)
		if err != nil {
			return fmt.Errorf("vscd: sender %s: %w", ts.ID, err)
		}
		h, err := sup.CreateSender(desc, net.IPv4zero, supervisor.ClockConfig{SampleRate: desc.SampleRate, Kind: supervisor.ClockSystem}, 8)
		if err != nil {
			return fmt.Errorf("vscd: create sender %s: %w", ts.ID, err)
		}
		log.Info().Str("session", h.ID).Msg("sender created")
		txHandles = append(txHandles, h)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	for _, h := range txHandles {
		go feedSilence(h, 2, 48, 48000)
	}
	for _, h := range rxHandles {
		go drainToNowhere(h, 2, 48)
	}

	<-stop
	log.Info().Msg("shutting down")
	return nil
}

// feedSilence stands in for the host audio callback on the playback side:
// every packet_time window it hands the TxBuffer a block of silence,
// timestamped from its own System clock.
func feedSilence(h *supervisor.TxHandle, channels, frames int, sampleRate uint32) {
	buffers := make([][]float32, channels)
	for i := range buffers {
		buffers[i] = make([]float32, frames)
	}

	ticker := time.NewTicker(time.Duration(frames) * time.Second / time.Duration(sampleRate))
	defer ticker.Stop()

	clk := clock.NewSystem(sampleRate)
	for range ticker.C {
		if err := h.Producer.Write(buffers, clk.Now()); err != nil {
			log.Debug().Err(err).Str("session", h.ID).Msg("tx write skipped")
		}
	}
}

// drainToNowhere stands in for the host callback on the capture side: it
// reads successive blocks from the RxBuffer, starting at frame 0, as fast as
// Read returns, and discards the result, demonstrating that the only
// suspension point is RxConsumer.Read.
func drainToNowhere(h *supervisor.RxHandle, channels, frames int) {
	buffers := make([][]float32, channels)
	for i := range buffers {
		buffers[i] = make([]float32, frames)
	}

	var egress clock.MediaTime
	for {
		if err := h.Consumer.Read(buffers, egress); err != nil {
			return
		}
		egress += clock.MediaTime(frames)
	}
}

func logStats(sup *supervisor.Supervisor) {
	for ev := range sup.Stats() {
		log.Debug().Str("event", fmt.Sprintf("%T", ev)).Str("entity", ev.EntityID()).Msg("stats")
	}
}
