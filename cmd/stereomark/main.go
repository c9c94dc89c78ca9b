// Stereomark runs the stereo marker pipeline against a simulated or replayed
// research-mode device and serves the marker position over HTTP.
//
// Usage:
//
//	stereomark                          # flat synthetic frames, consent granted
//	stereomark --replay ./captures      # replay recorded left/ and right/ frames
//	stereomark --pose-feed ws://host:9000/pose --debug-ticks
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/teslashibe/go-stereomark/internal/config"
	"github.com/teslashibe/go-stereomark/internal/log"
	"github.com/teslashibe/go-stereomark/pkg/calibration"
	"github.com/teslashibe/go-stereomark/pkg/consent"
	"github.com/teslashibe/go-stereomark/pkg/debug"
	"github.com/teslashibe/go-stereomark/pkg/detection"
	"github.com/teslashibe/go-stereomark/pkg/posefeed"
	"github.com/teslashibe/go-stereomark/pkg/render"
	"github.com/teslashibe/go-stereomark/pkg/scenario"
	"github.com/teslashibe/go-stereomark/pkg/sensor"
	"github.com/teslashibe/go-stereomark/pkg/sensor/sim"
	"github.com/teslashibe/go-stereomark/pkg/web"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		os.Exit(2)
	}

	log.InitWithFile(cfg.LogLevel, log.FileOptions{Path: cfg.LogFile})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Error("stereomark exited", "error", err)
		os.Exit(1)
	}
}

// parseFlags loads env configuration and overlays command line flags.
func parseFlags() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}

	debugFlag := flag.Bool("debug", false, "Enable verbose debug logging")
	debugTicks := flag.Bool("debug-ticks", false, "Log every render tick (very verbose)")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	port := flag.String("port", cfg.WebPort, "Web API port")
	tick := flag.Duration("tick", cfg.TickInterval, "Render tick interval")
	frame := flag.Duration("frame-interval", cfg.FrameInterval, "Simulated camera frame interval")
	alpha := flag.Float64("alpha", cfg.SmoothingAlpha, "Position smoothing weight of a new measurement")
	dict := flag.String("dict", cfg.Dictionary, "ArUco dictionary: "+strings.Join(detection.Dictionaries(), ", "))
	replay := flag.String("replay", cfg.ReplayDir, "Directory with left/ and right/ frame captures")
	poseFeed := flag.String("pose-feed", cfg.PoseFeedURL, "Websocket URL of a head pose feed")
	consentAnswer := flag.String("consent", cfg.Consent, "Simulated access prompt answer")
	flag.Parse()

	cfg.LogLevel, cfg.WebPort = *logLevel, *port
	cfg.TickInterval, cfg.FrameInterval = *tick, *frame
	cfg.SmoothingAlpha, cfg.Dictionary = *alpha, *dict
	cfg.ReplayDir, cfg.PoseFeedURL, cfg.Consent = *replay, *poseFeed, *consentAnswer
	if *debugFlag {
		cfg.LogLevel = "debug"
	}
	debug.SetEnabled(*debugFlag)
	debug.SetTicks(*debugTicks)

	if problems := cfg.Validate(); len(problems) > 0 {
		return cfg, errors.New(strings.Join(problems, "; "))
	}
	return cfg, nil
}

// newDevice builds the simulated device described by cfg.
func newDevice(cfg config.Config) (*sim.Device, error) {
	answer, err := consent.Parse(cfg.Consent)
	if err != nil {
		return nil, err
	}

	simCfg := sim.DefaultConfig()
	simCfg.FrameInterval = cfg.FrameInterval
	simCfg.Consent = answer
	if cfg.ReplayDir != "" {
		src, err := sim.NewReplaySource(cfg.ReplayDir, sensor.Resolution{Width: simCfg.Width, Height: simCfg.Height})
		if err != nil {
			return nil, fmt.Errorf("replay source: %w", err)
		}
		simCfg.Source = src
	}
	return sim.New(simCfg)
}

func run(ctx context.Context, cfg config.Config) error {
	if _, err := detection.ParseDictionary(cfg.Dictionary); err != nil {
		return err
	}

	device, err := newDevice(cfg)
	if err != nil {
		return err
	}

	scCfg := scenario.DefaultConfig()
	scCfg.Alpha = cfg.SmoothingAlpha
	sc := scenario.New(scCfg, device, func(sensor.Kind) (detection.Algorithm, error) {
		return detection.NewAruco(cfg.Dictionary)
	})
	defer sc.Close()

	if err := sc.InitializeSensors(); err != nil {
		return fmt.Errorf("initialize sensors: %w", err)
	}
	if err := sc.InitializeDetectionPipeline(); err != nil {
		return fmt.Errorf("initialize detection: %w", err)
	}

	var feed *posefeed.Client
	if cfg.PoseFeedURL != "" {
		feed = posefeed.New(cfg.PoseFeedURL)
		go feed.Run(ctx)
	}

	rec := render.NewRecorder()
	server := web.NewServer(cfg.WebPort, sc, rec)
	if feed != nil {
		server.AttachPoseFeed(feed)
	}
	server.StartAsync(ctx)
	defer server.Shutdown()

	log.Info("stereomark running", "session", sc.Session(), "tick", cfg.TickInterval, "dictionary", cfg.Dictionary)

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-ticker.C:
		}

		pose := calibration.IdentityPose()
		if feed != nil {
			pose, _ = feed.Pose()
		}

		tick, err := sc.UpdateModels(pose)
		if err != nil {
			return err
		}
		sc.RenderModels(rec)
		rec.EndFrame()
		server.PublishTick(tick)
	}
}
