// Command moqplay-demo is a minimal CLI around the player package: it dials
// a relay and a broadcast path, logs rendition switches/stalls/stats to
// slog, and serves a small debug/stats surface over gin.
//
// Grounded on cmd/prism/main.go (slog bootstrap, envOr, signal handling)
// and cmd/qumo-relay/main.go (YAML config file + flag-selected path,
// gopkg.in/yaml.v3 decoding).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"

	"github.com/moqsub/player/internal/catalog"
	"github.com/moqsub/player/internal/container"
	"github.com/moqsub/player/internal/observability"
	"github.com/moqsub/player/internal/path"
	"github.com/moqsub/player/internal/player"
	"github.com/moqsub/player/internal/source"
)

type fileConfig struct {
	Relay struct {
		URL       string `yaml:"url"`
		Broadcast string `yaml:"broadcast"`
	} `yaml:"relay"`
	Playback struct {
		LatencyMS int    `yaml:"latency_ms"`
		Rendition string `yaml:"rendition"`
	} `yaml:"playback"`
	Metrics bool `yaml:"metrics"`
}

func loadConfig(filename string) (*fileConfig, error) {
	if filename == "" {
		return &fileConfig{}, nil
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg fileConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	configFile := flag.String("config", "", "path to YAML config file")
	catalogFile := flag.String("catalog-file", "", "dev mode: watch a static catalog JSON fixture instead of dialing a relay")
	apiAddr := flag.String("api-addr", envOr("API_ADDR", ":4545"), "address for /stats and /healthz")
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("moqplay-demo: %v", err)
	}

	relayURL := envOr("RELAY_URL", cfg.Relay.URL)
	broadcastPath := envOr("BROADCAST", cfg.Relay.Broadcast)
	latency := time.Duration(cfg.Playback.LatencyMS) * time.Millisecond
	if latency <= 0 {
		latency = 2 * time.Second
	}

	if err := observability.Setup(context.Background(), observability.Config{Service: "moqplay-demo", Metrics: cfg.Metrics}); err != nil {
		logger.Error("failed to set up observability", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := newApp(logger)

	engine := gin.New()
	engine.GET("/healthz", app.healthz)
	engine.GET("/stats", app.stats)
	httpSrv := &http.Server{Addr: *apiAddr, Handler: engine}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("debug http server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	if *catalogFile != "" {
		runDevMode(ctx, logger, app, *catalogFile, cfg.Playback.Rendition)
		return
	}

	if relayURL == "" {
		log.Fatalf("moqplay-demo: no relay URL configured (set --config, RELAY_URL, or relay.url)")
	}

	runLive(ctx, logger, app, relayURL, broadcastPath, latency, cfg.Playback.Rendition)
}

// app holds state shared between the gin debug surface and the
// player/dev-mode goroutines.
type app struct {
	logger *slog.Logger

	mu      sync.Mutex
	catalog *catalog.Catalog
	p       *player.Player
}

func newApp(logger *slog.Logger) *app {
	return &app{logger: logger}
}

func (a *app) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *app) stats(c *gin.Context) {
	a.mu.Lock()
	cat := a.catalog
	p := a.p
	a.mu.Unlock()

	resp := gin.H{}
	if cat != nil {
		resp["renditions"] = cat.RenditionNames()
	}
	if p != nil {
		resp["status"] = p.Status().String()
		resp["active_rendition"] = p.ActiveRendition()
		resp["buffer_status"] = p.BufferStatus()
		resp["sync_status"] = p.SyncStatus().String()
		resp["stats"] = p.StatsSnapshot()
	}
	c.JSON(http.StatusOK, resp)
}

func (a *app) setCatalog(cat *catalog.Catalog) {
	a.mu.Lock()
	a.catalog = cat
	a.mu.Unlock()
}

func (a *app) setPlayer(p *player.Player) {
	a.mu.Lock()
	a.p = p
	a.mu.Unlock()
}

// runDevMode watches catalogFile for changes and, on each write, re-parses
// it and logs the rendition the selection policy would pick for the
// configured target — exercising catalog.Select without a relay.
func runDevMode(ctx context.Context, logger *slog.Logger, a *app, catalogFile, rendition string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Fatalf("moqplay-demo: fsnotify: %v", err)
	}
	defer watcher.Close()

	if err := watcher.Add(catalogFile); err != nil {
		log.Fatalf("moqplay-demo: watch %s: %v", catalogFile, err)
	}

	reload := func() {
		data, err := os.ReadFile(catalogFile)
		if err != nil {
			logger.Warn("dev mode: read catalog fixture", "error", err)
			return
		}
		cat, err := catalog.Parse(data)
		if err != nil {
			logger.Warn("dev mode: malformed catalog fixture, keeping previous", "error", err)
			return
		}
		a.setCatalog(cat)

		target := catalog.Target{Rendition: rendition}
		selected := catalog.Select(cat.RenditionNames(), cat.Video, target)
		logger.Info("dev mode: catalog reloaded", "renditions", cat.RenditionNames(), "selected", selected)
	}

	reload()
	logger.Info("dev mode watching catalog fixture", "file", catalogFile)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("dev mode: watcher error", "error", err)
		}
	}
}

// runLive dials the relay and runs the player until ctx ends. It uses a
// logging-only Decoder stand-in since this CLI has no real platform
// decoder; it exists to exercise the Source pipeline end to end.
func runLive(ctx context.Context, logger *slog.Logger, a *app, relayURL, broadcastPath string, latency time.Duration, rendition string) {
	p := player.New(player.Options{
		RelayURL:     relayURL,
		Broadcast:    path.New(splitPath(broadcastPath)...),
		Latency:      latency,
		VideoFactory: loggingDecoderFactory(logger, "video"),
		AudioFactory: loggingDecoderFactory(logger, "audio"),
		Checker:      func(source.DecoderConfig) bool { return true },
		Logger:       logger,
	})
	if rendition != "" {
		p.SetTarget(catalog.Target{Rendition: rendition})
	}
	a.setPlayer(p)

	if err := p.Start(ctx); err != nil {
		logger.Error("player failed to start", "error", err)
		os.Exit(1)
	}
	defer p.Close()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case st := <-p.StatusChanges():
			logger.Info("status changed", "status", st.String())
		}
	}
}

func splitPath(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '/' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// loggingDecoderFactory returns a source.Factory producing a Decoder that
// just logs what it would decode, standing in for the external platform
// decoder this CLI has no access to.
func loggingDecoderFactory(logger *slog.Logger, kind string) source.Factory {
	return func(cfg source.DecoderConfig) (source.Decoder, error) {
		d := &loggingDecoder{
			logger: logger.With("kind", kind, "codec", cfg.Codec),
			frames: make(chan source.DecodedFrame, 4),
			errs:   make(chan error, 1),
		}
		return d, nil
	}
}

type loggingDecoder struct {
	logger *slog.Logger
	frames chan source.DecodedFrame
	errs   chan error
}

func (d *loggingDecoder) IsConfigSupported(source.DecoderConfig) bool { return true }

func (d *loggingDecoder) Decode(ctx context.Context, sample container.Sample) error {
	d.logger.Debug("decoded sample", "timestamp", sample.Timestamp, "keyframe", sample.Keyframe, "bytes", len(sample.Data))
	select {
	case d.frames <- source.DecodedFrame{Timestamp: sample.Timestamp, Data: sample.Data}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (d *loggingDecoder) Frames() <-chan source.DecodedFrame { return d.frames }
func (d *loggingDecoder) Errors() <-chan error               { return d.errs }
func (d *loggingDecoder) Close() error                       { return nil }
