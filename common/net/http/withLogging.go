package http

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/marcua/ayb/common/logging"
)

// RequestInfo is a struct design to store http access log data.
type RequestInfo struct {
	Method        string
	URI           string
	Referer       string
	RemoteAddress string
	Status        int
	Date          time.Time
	Duration      time.Duration
	UserAgent     string
	CorrelationID string
	Protocol      string
	Size          int
}

// NewRequestInfo creates an instance of RequestInfo.
func NewRequestInfo(c *fiber.Ctx) *RequestInfo {
	referer := "-"
	if c.Get("Referer") != "" {
		referer = c.Get("Referer")
	}

	return &RequestInfo{
		Method:        c.Method(),
		URI:           c.OriginalURL(),
		Referer:       referer,
		UserAgent:     c.Get(headerUserAgent),
		CorrelationID: c.Get(headerCorrelationID),
		RemoteAddress: c.IP(),
		Protocol:      c.Protocol(),
		Date:          time.Now().UTC(),
	}
}

// CLFString produces a log entry format similar to Common Log Format (CLF).
// Ref: https://httpd.apache.org/docs/trunk/logs.html#common
func (r *RequestInfo) CLFString() string {
	return strings.Join([]string{
		r.RemoteAddress,
		`"` + r.Method,
		r.URI,
		`"` + r.Protocol,
		strconv.Itoa(r.Status),
		strconv.Itoa(r.Size),
		r.Referer,
		r.UserAgent,
	}, " ")
}

func (r *RequestInfo) finish(status, size int) {
	r.Duration = time.Now().UTC().Sub(r.Date)
	r.Status = status
	r.Size = size
}

// WithHTTPLogging is a middleware that logs access to the HTTP server using
// a Common-Log-Format-style line, tagged with the request's correlation ID.
func WithHTTPLogging(logger logging.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/health" {
			return c.Next()
		}

		info := NewRequestInfo(c)

		requestLogger := logger.With("correlation_id", info.CorrelationID)

		err := c.Next()

		info.finish(c.Response().StatusCode(), len(c.Response().Body()))

		requestLogger.Info(info.CLFString(), "duration_ms", info.Duration.Milliseconds())

		return err
	}
}
