// Package web serves the pipeline status API and a live position stream.
package web

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/golang/geo/r3"

	"github.com/teslashibe/go-stereomark/internal/log"
	"github.com/teslashibe/go-stereomark/pkg/detection"
	"github.com/teslashibe/go-stereomark/pkg/hub"
	"github.com/teslashibe/go-stereomark/pkg/render"
	"github.com/teslashibe/go-stereomark/pkg/scenario"
	"github.com/teslashibe/go-stereomark/pkg/sensor"
)

// Source is the pipeline state the server exposes. *scenario.Scenario
// satisfies it.
type Source interface {
	Session() string
	Health() scenario.Health
	LastTick() scenario.Tick
	Position() (r3.Vector, error)
	Detections(kind sensor.Kind) (*detection.Result, error)
}

// SceneSource supplies the last rendered frame. *render.Recorder satisfies it.
type SceneSource interface {
	Frame() []render.DrawCall
}

// PoseFeed reports the state of the head pose input. *posefeed.Client
// satisfies it.
type PoseFeed interface {
	Connected() bool
	Messages() uint64
	Received() time.Time
}

// Server is the HTTP and websocket surface
type Server struct {
	app   *fiber.App
	port  string
	src   Source
	scene SceneSource
	log   *slog.Logger

	positionHub *hub.Hub

	mu       sync.Mutex
	poseFeed PoseFeed
	stopHub  context.CancelFunc
}

// NewServer creates a server for src. scene may be nil.
func NewServer(port string, src Source, scene SceneSource) *Server {
	s := &Server{
		port:        port,
		src:         src,
		scene:       scene,
		log:         log.Component("web"),
		positionHub: hub.New("position"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "stereomark",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/position", s.handlePosition)
	api.Get("/cameras/:camera/detections", s.handleDetections)
	api.Get("/scene", s.handleScene)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/position", websocket.New(s.handlePositionWS))

	s.app = app
	return s
}

// AttachPoseFeed adds the pose feed state to /api/status.
func (s *Server) AttachPoseFeed(f PoseFeed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poseFeed = f
}

// Start runs the hub and blocks serving HTTP until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("web api listening", "addr", "http://localhost:"+s.port)
	s.startHub(ctx)
	return s.app.Listen(":" + s.port)
}

func (s *Server) startHub(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopHub != nil {
		return
	}
	ctx, s.stopHub = context.WithCancel(ctx)
	go s.positionHub.Run(ctx)
}

// StartAsync starts the server in a goroutine
func (s *Server) StartAsync(ctx context.Context) {
	go func() {
		if err := s.Start(ctx); err != nil {
			s.log.Error("web server stopped", "error", err)
		}
	}()
}

// PublishTick broadcasts a tick to position stream clients.
func (s *Server) PublishTick(t scenario.Tick) {
	if s.positionHub.ClientCount() == 0 {
		return
	}
	if err := s.positionHub.BroadcastJSON(newPositionResponse(t)); err != nil {
		s.log.Warn("encode position", "error", err)
	}
}

// Shutdown gracefully stops the web server and waits for the position hub
// to close its clients.
func (s *Server) Shutdown() error {
	err := s.app.Shutdown()

	s.mu.Lock()
	stop := s.stopHub
	s.mu.Unlock()
	if stop != nil {
		stop()
		<-s.positionHub.Done()
	}
	return err
}
