package web

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang/geo/r3"

	"github.com/teslashibe/go-stereomark/pkg/hub"
	"github.com/teslashibe/go-stereomark/pkg/scenario"
	"github.com/teslashibe/go-stereomark/pkg/sensor"
)

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	scenario.Health
	Healthy  bool            `json:"healthy"`
	Stream   StreamStatus    `json:"stream"`
	PoseFeed *PoseFeedStatus `json:"pose_feed,omitempty"`
}

// StreamStatus describes the /ws/position broadcast hub.
type StreamStatus struct {
	Running bool   `json:"running"`
	Clients int    `json:"clients"`
	Dropped uint64 `json:"dropped"` // Broadcasts lost on a full queue
}

// PoseFeedStatus describes the head pose input.
type PoseFeedStatus struct {
	Connected bool       `json:"connected"`
	Messages  uint64     `json:"messages"`
	Received  *time.Time `json:"received,omitempty"`
}

// PositionResponse is the body of GET /api/position and each /ws/position message
type PositionResponse struct {
	Seq      uint64     `json:"seq"`
	Position r3.Vector  `json:"position"`
	Moved    bool       `json:"moved"`
	Stale    bool       `json:"stale"`
	Detected *time.Time `json:"detected,omitempty"`
}

func newPositionResponse(t scenario.Tick) PositionResponse {
	resp := PositionResponse{Seq: t.Seq, Position: t.Position, Moved: t.Moved, Stale: t.Stale}
	if !t.Detected.IsZero() {
		ts := t.Detected
		resp.Detected = &ts
	}
	return resp
}

// handleStatus returns pipeline health
func (s *Server) handleStatus(c *fiber.Ctx) error {
	h := s.src.Health()
	resp := StatusResponse{
		Health:  h,
		Healthy: h.Healthy(),
		Stream: StreamStatus{
			Running: s.positionHub.IsRunning(),
			Clients: s.positionHub.ClientCount(),
			Dropped: s.positionHub.Dropped(),
		},
	}

	s.mu.Lock()
	feed := s.poseFeed
	s.mu.Unlock()
	if feed != nil {
		ps := &PoseFeedStatus{Connected: feed.Connected(), Messages: feed.Messages()}
		if ts := feed.Received(); !ts.IsZero() {
			ps.Received = &ts
		}
		resp.PoseFeed = ps
	}
	return c.JSON(resp)
}

// handlePosition returns the latest smoothed marker position
func (s *Server) handlePosition(c *fiber.Ctx) error {
	if _, err := s.src.Position(); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(newPositionResponse(s.src.LastTick()))
}

// handleDetections returns the latest detection result for one camera
func (s *Server) handleDetections(c *fiber.Ctx) error {
	kind, err := sensor.ParseKind(c.Params("camera"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	res, err := s.src.Detections(kind)
	switch {
	case errors.Is(err, sensor.ErrSensorNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	case res == nil:
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(res)
}

// handleScene returns the draw calls of the last rendered frame
func (s *Server) handleScene(c *fiber.Ctx) error {
	if s.scene == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no renderer attached"})
	}
	return c.JSON(s.scene.Frame())
}

// handlePositionWS streams every tick to the client
func (s *Server) handlePositionWS(c *websocket.Conn) {
	client := hub.NewClient(s.positionHub, c)
	if client == nil {
		return
	}

	if data, err := json.Marshal(newPositionResponse(s.src.LastTick())); err == nil {
		if err := client.WriteInitial(data); err != nil {
			s.log.Debug("initial position write failed", "error", err)
		}
	}
	client.Run()
}
