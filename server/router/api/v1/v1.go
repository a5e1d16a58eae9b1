package v1

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hrygo/shepherd/ai/observability/logging"
	"github.com/hrygo/shepherd/ai/pastoral"
	"github.com/hrygo/shepherd/ai/routing"
	"github.com/hrygo/shepherd/internal/profile"
	"github.com/hrygo/shepherd/internal/version"
)

type APIV1Service struct {
	AIService       *AIService
	PastoralService *PastoralService

	Profile *profile.Profile
	Metrics http.Handler
}

func NewAPIV1Service(profile *profile.Profile, router *routing.Router, generator *pastoral.Generator, metrics http.Handler) *APIV1Service {
	// Limit concurrent SSE responses; each holds an upstream connection open.
	streamSemaphore := semaphore.NewWeighted(profile.MaxConcurrentStreams)

	return &APIV1Service{
		AIService: &AIService{
			Router:          router,
			streamSemaphore: streamSemaphore,
		},
		PastoralService: &PastoralService{
			Generator:       generator,
			streamSemaphore: streamSemaphore,
		},
		Profile: profile,
		Metrics: metrics,
	}
}

// RegisterRoutes installs middleware and every endpoint on echoServer.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			ctx := logging.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	}))
	echoServer.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/healthz" || c.Path() == "/metrics"
		},
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				slog.Warn("http_request_failed", append(attrs, "error", v.Error)...)
				return nil
			}
			slog.Info("http_request", attrs...)
			return nil
		},
	}))

	echoServer.GET("/healthz", s.health)
	if s.Metrics != nil {
		echoServer.GET("/metrics", echo.WrapHandler(s.Metrics))
	}

	api := echoServer.Group("/api/v1")
	if limiter := s.rateLimiter(); limiter != nil {
		api.Use(limiter)
	}

	ai := api.Group("/ai")
	ai.POST("/completions", s.AIService.CreateCompletion)
	ai.POST("/simple", s.AIService.SimpleCompletion)
	ai.POST("/reasoning", s.AIService.ComplexReasoning)
	ai.POST("/creative", s.AIService.CreativeTask)
	ai.POST("/stream", s.AIService.StreamingCompletion)
	ai.GET("/compact-mode", s.AIService.GetCompactMode)
	ai.PUT("/compact-mode", s.AIService.SetCompactMode)

	if s.PastoralService.Generator != nil {
		pastoralGroup := api.Group("/pastoral")
		pastoralGroup.POST("/devotional", s.PastoralService.Devotional)
		pastoralGroup.POST("/devotional/stream", s.PastoralService.StreamDevotional)
		pastoralGroup.POST("/sermon-outline", s.PastoralService.SermonOutline)
		pastoralGroup.POST("/prayer-response", s.PastoralService.PrayerResponse)
		pastoralGroup.POST("/reading-summary", s.PastoralService.ReadingPlanSummary)
	}
}

// rateLimiter limits each client IP to Profile.RateLimit requests per second.
func (s *APIV1Service) rateLimiter() echo.MiddlewareFunc {
	if s.Profile.RateLimit <= 0 {
		return nil
	}

	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(s.Profile.RateLimit),
		Burst:     s.Profile.RateBurst,
		ExpiresIn: 3 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, _ error) error {
			return writeError(c, http.StatusForbidden, "unable to identify client")
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return writeError(c, http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}

type healthResponse struct {
	Status      string       `json:"status"`
	Version     version.Info `json:"version"`
	CompactMode bool         `json:"compact_mode"`
}

func (s *APIV1Service) health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:      "ok",
		Version:     version.Get(),
		CompactMode: s.AIService.Router.CompactMode(),
	})
}
