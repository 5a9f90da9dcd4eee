// Package api wires the fiber app: health, the doctor status endpoint, and
// the websocket upgrade route.
package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/KeertanaGupta/mediprior-V0/internal/auth"
	"github.com/KeertanaGupta/mediprior-V0/internal/models"
	"github.com/KeertanaGupta/mediprior-V0/internal/ws"
)

type Server struct {
	app       *fiber.App
	gw        *ws.Gateway
	wsHandler *ws.Handler
	jwtSecret string
	logger    *zap.SugaredLogger
}

func NewServer(gw *ws.Gateway, wsHandler *ws.Handler, jwtSecret string, logger *zap.SugaredLogger) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	s := &Server{app: app, gw: gw, wsHandler: wsHandler, jwtSecret: jwtSecret, logger: logger}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// doctor availability push, the profile-update side channel
	s.app.Patch("/api/status", s.setStatus)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws/chat/:conversationID", websocket.New(s.wsHandler.Serve))
}

func (s *Server) setStatus(c *fiber.Ctx) error {
	token, err := auth.ParseBearer(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	}
	claims, err := auth.ParseAndValidate(s.jwtSecret, token)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	}
	if claims.Role != models.RoleDoctor {
		return fiber.NewError(fiber.StatusForbidden, "only doctors set availability")
	}

	var body struct {
		Status models.Availability `json:"status"`
	}
	if err := c.BodyParser(&body); err != nil || !body.Status.Valid() {
		return fiber.NewError(fiber.StatusBadRequest, "status must be AVAILABLE, BUSY or OFFLINE")
	}
	if err := s.gw.SetStatus(c.Context(), claims.UserID, body.Status); err != nil {
		s.logger.Errorw("status push failed", "doctor_id", claims.UserID, "err", err)
		return fiber.NewError(fiber.StatusInternalServerError, "could not update status")
	}
	return c.JSON(fiber.Map{"status": body.Status})
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
