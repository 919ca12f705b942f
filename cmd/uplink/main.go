package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/fieldlens/uplink/internal/capture"
	"github.com/fieldlens/uplink/internal/codec"
	"github.com/fieldlens/uplink/internal/config"
	"github.com/fieldlens/uplink/internal/encoder"
	"github.com/fieldlens/uplink/internal/pipeline"
	"github.com/fieldlens/uplink/internal/sender"
	"github.com/fieldlens/uplink/internal/stats"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("uplink starting",
		"version", version,
		"transport", cfg.Transport,
		"stream_key", cfg.StreamKey,
		"width", cfg.Width, "height", cfg.Height, "fps", cfg.FPS,
		"target_bps", cfg.TargetBitrate, "prefer_hevc", cfg.PreferHEVC)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	opts := encoder.Options{}
	if cfg.PreferHEVC {
		opts.Probe = func() encoder.Capabilities { return encoder.Capabilities{HardwareHEVC: true} }
	}

	p := pipeline.New(encoder.Config{
		FPS:              cfg.FPS,
		KeyframeInterval: cfg.KeyframeInterval,
		KeyframeMaxGap:   cfg.KeyframeMaxGap(),
		TargetBitrate:    cfg.TargetBitrate,
		MaxBitrate:       cfg.MaxBitrate,
	}, opts, nil)

	snd := buildSender(cfg)
	p.Sink().SetConsumer(snd)
	p.Prepare(cfg.Width, cfg.Height)
	announceFormat(p, snd)

	source := capture.NewSource(cfg.Width, cfg.Height, cfg.FPS)
	metrics := stats.NewMetrics()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := source.Run(ctx, p.Encode)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		reportStats(ctx, p, metrics, cfg.Transport, snd.Errors, cfg.StatsInterval())
		return nil
	})

	if cfg.MetricsAddr != "" {
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
		g.Go(func() error {
			slog.Info("metrics server listening", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()

	// Drain in order: no new frames are arriving, so flush the compressor,
	// release it, then close the transport.
	p.Flush()
	p.Close()
	snd.Close()

	if err != nil {
		slog.Error("uplink error", "error", err)
		os.Exit(1)
	}
	slog.Info("uplink stopped")
}

// buildSender constructs the configured transport.
func buildSender(cfg config.Config) sender.Sender {
	switch cfg.Transport {
	case "srt":
		return sender.NewSRTSender(sender.SRTConfig{
			Addr:      cfg.SRTAddr,
			StreamKey: cfg.StreamKey,
		}, nil)
	default:
		return sender.NewQUICSender(sender.QUICConfig{
			Addr:            cfg.QUICAddr,
			CertFingerprint: cfg.CertFingerprint,
			Insecure:        cfg.Insecure,
		}, nil)
	}
}

// announceFormat hands the negotiated decoder configuration record to the
// sender so it precedes the first video packet on the wire.
func announceFormat(p *pipeline.Pipeline, snd sender.Sender) {
	desc := p.Format()
	if desc == nil {
		return
	}
	if record := codec.DecoderConfig(desc); record != nil {
		slog.Info("announcing format",
			"codec", codec.CodecString(desc), "record_bytes", len(record))
		snd.SetFormat(desc.Variant().String(), record)
	}
}

// reportStats logs a snapshot and refreshes the Prometheus instruments on
// every tick until the context ends.
func reportStats(ctx context.Context, p *pipeline.Pipeline, m *stats.Metrics,
	transport string, senderErrors func() int64, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := p.Snapshot()
	var prevErrs int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cur := p.Snapshot()
		m.Observe(prev, cur)
		prev = cur

		errs := senderErrors()
		if d := errs - prevErrs; d > 0 {
			m.SenderErrors.WithLabelValues(transport).Add(float64(d))
		}
		prevErrs = errs

		slog.Info("stream stats",
			"frames", cur.TotalFrames,
			"key", cur.KeyFrames,
			"kbps", int(cur.BitrateKbps),
			"fps", int(cur.FrameRate),
			"delivered", cur.Delivered,
			"dropped", cur.Dropped,
			"fallbacks", cur.Fallbacks)
	}
}
