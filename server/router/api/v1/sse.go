package v1

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/shepherd/ai/observability/logging"
)

// sseWriter writes server-sent events. Headers are sent with the first
// event, so a handler can still answer with a JSON error before that.
type sseWriter struct {
	c       echo.Context
	started bool
	err     error
}

func newSSEWriter(c echo.Context) *sseWriter {
	return &sseWriter{c: c}
}

type chunkEvent struct {
	Content string `json:"content"`
}

type doneEvent struct {
	RequestID string `json:"request_id"`
	Model     string `json:"model,omitempty"`
	Fallback  bool   `json:"fallback"`
}

type errorEvent struct {
	Error string `json:"error"`
}

func (w *sseWriter) start() {
	if w.started {
		return
	}
	w.started = true
	h := w.c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.c.Response().WriteHeader(http.StatusOK)
}

// write sends one event. After the first write error further events are dropped.
func (w *sseWriter) write(event string, payload any) {
	if w.err != nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		w.err = err
		return
	}

	w.start()
	resp := w.c.Response()
	if event != "" {
		_, w.err = fmt.Fprintf(resp, "event: %s\n", event)
	}
	if w.err == nil {
		_, w.err = fmt.Fprintf(resp, "data: %s\n\n", data)
	}
	if w.err != nil {
		logging.FromContext(w.c.Request().Context()).Debug("sse_write_failed", "error", w.err)
		return
	}
	resp.Flush()
}

// chunk sends one content fragment as a default "message" event.
func (w *sseWriter) chunk(content string) {
	w.write("", chunkEvent{Content: content})
}

func (w *sseWriter) done(requestID, model string, fallback bool) error {
	w.write("done", doneEvent{RequestID: requestID, Model: model, Fallback: fallback})
	return nil
}

// fail reports an error that happened after the stream started.
func (w *sseWriter) fail(err error) error {
	logging.FromContext(w.c.Request().Context()).Warn("AI routing: stream failed", "error", err)
	w.write("error", errorEvent{Error: err.Error()})
	return nil
}
