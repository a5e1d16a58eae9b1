package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/semaphore"

	"github.com/hrygo/shepherd/ai/pastoral"
)

// PastoralService exposes the pastoral content generator over HTTP.
type PastoralService struct {
	Generator *pastoral.Generator

	streamSemaphore *semaphore.Weighted
}

// Devotional handles POST /api/v1/pastoral/devotional.
func (s *PastoralService) Devotional(c echo.Context) error {
	return generate(c, s.Generator.Devotional)
}

// SermonOutline handles POST /api/v1/pastoral/sermon-outline.
func (s *PastoralService) SermonOutline(c echo.Context) error {
	return generate(c, s.Generator.SermonOutline)
}

// PrayerResponse handles POST /api/v1/pastoral/prayer-response.
func (s *PastoralService) PrayerResponse(c echo.Context) error {
	return generate(c, s.Generator.PrayerResponse)
}

// ReadingPlanSummary handles POST /api/v1/pastoral/reading-summary.
func (s *PastoralService) ReadingPlanSummary(c echo.Context) error {
	return generate(c, s.Generator.ReadingPlanSummary)
}

// StreamDevotional handles POST /api/v1/pastoral/devotional/stream.
func (s *PastoralService) StreamDevotional(c echo.Context) error {
	var req pastoral.DevotionalRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request body")
	}

	if !s.streamSemaphore.TryAcquire(1) {
		return writeError(c, http.StatusTooManyRequests, "too many concurrent streams")
	}
	defer s.streamSemaphore.Release(1)

	sse := newSSEWriter(c)
	if err := s.Generator.StreamDevotional(c.Request().Context(), req, sse.chunk); err != nil {
		if !sse.started {
			return writeRoutingError(c, err)
		}
		return sse.fail(err)
	}
	return sse.done(requestID(c), "", false)
}

func generate[T any](c echo.Context, fn func(context.Context, T) (string, error)) error {
	var req T
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request body")
	}
	content, err := fn(c.Request().Context(), req)
	if err != nil {
		return writeRoutingError(c, err)
	}
	return c.JSON(http.StatusOK, contentResponse{Content: content})
}
