package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/tech-arch1tect/verifyd/config"
	"github.com/tech-arch1tect/verifyd/services/logging"
	"go.uber.org/zap"
)

type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	logger *logging.Service
}

func New(cfg *config.Config, logger *logging.Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	configureTrustedProxies(e, cfg.Server.TrustedProxies, logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if logger != nil {
		e.Use(logging.RequestLogger(logger, "/healthz"))
	}

	return &Server{
		echo:   e,
		cfg:    cfg,
		logger: logger,
	}
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port)
}

// Start blocks until the server stops. A graceful shutdown returns nil.
func (s *Server) Start() error {
	addr := s.Addr()

	if s.logger != nil {
		s.logger.Info("starting HTTP server", zap.String("address", addr))
		for _, route := range s.echo.Routes() {
			s.logger.Debug("route registered",
				zap.String("method", route.Method),
				zap.String("path", route.Path),
				zap.String("handler", shortenHandlerName(route.Name)))
		}
	}

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.logger != nil {
		s.logger.Info("shutting down HTTP server")
	}
	return s.echo.Shutdown(ctx)
}

func (s *Server) Get(path string, handler echo.HandlerFunc) {
	s.echo.GET(path, handler)
}

func (s *Server) Post(path string, handler echo.HandlerFunc) {
	s.echo.POST(path, handler)
}

func (s *Server) Group(prefix string) *echo.Group {
	return s.echo.Group(prefix)
}

func (s *Server) SetValidator(v echo.Validator) {
	s.echo.Validator = v
}

func (s *Server) SetErrorHandler(h echo.HTTPErrorHandler) {
	s.echo.HTTPErrorHandler = h
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func configureTrustedProxies(e *echo.Echo, proxies []string, logger *logging.Service) {
	var trusted []echo.TrustOption
	for _, proxy := range proxies {
		proxy = strings.TrimSpace(proxy)
		if proxy == "" {
			continue
		}

		if !strings.Contains(proxy, "/") {
			if ip := net.ParseIP(proxy); ip != nil {
				if ip.To4() != nil {
					proxy += "/32"
				} else {
					proxy += "/128"
				}
			}
		}

		_, network, err := net.ParseCIDR(proxy)
		if err != nil {
			if logger != nil {
				logger.Warn("ignoring invalid trusted proxy", zap.String("proxy", proxy))
			}
			continue
		}
		trusted = append(trusted, echo.TrustIPRange(network))
	}

	if len(trusted) == 0 {
		e.IPExtractor = echo.ExtractIPDirect()
		return
	}

	// only the configured ranges are trusted, not echo's private-network defaults
	options := append([]echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}, trusted...)
	e.IPExtractor = echo.ExtractIPFromXFFHeader(options...)
}

func shortenHandlerName(name string) string {
	if idx := strings.Index(name, "/"); idx != -1 {
		name = name[idx+1:]
	}
	if len(name) > 80 {
		return name[:77] + "..."
	}
	return name
}
