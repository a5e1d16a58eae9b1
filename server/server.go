package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/shepherd/internal/profile"
	apiv1 "github.com/hrygo/shepherd/server/router/api/v1"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	Profile *profile.Profile

	echoServer *echo.Echo
}

func NewServer(_ context.Context, profile *profile.Profile, apiV1Service *apiv1.APIV1Service) (*Server, error) {
	if apiV1Service == nil {
		return nil, fmt.Errorf("api service is nil")
	}

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	// Streams run for minutes; only bound how long headers may take.
	echoServer.Server.ReadHeaderTimeout = 10 * time.Second

	apiV1Service.RegisterRoutes(echoServer)

	return &Server{
		Profile:    profile,
		echoServer: echoServer,
	}, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Start serves until Shutdown is called. It returns http.ErrServerClosed after
// a graceful shutdown.
func (s *Server) Start(_ context.Context) error {
	address := net.JoinHostPort(s.Profile.Addr, fmt.Sprint(s.Profile.Port))
	slog.Info("server listening", "addr", address, "mode", s.Profile.Mode)
	return s.echoServer.Start(address)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", slog.String("error", err.Error()))
	}
	slog.Info("server stopped properly")
}
