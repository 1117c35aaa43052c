package middleware

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const redacted = "REDACTED"

// AccessLog is gin's request logger with the ?token= credential masked.
// A nil out writes to gin.DefaultWriter.
func AccessLog(out io.Writer) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Output:    out,
		Formatter: accessLogFormat,
		SkipPaths: []string{"/metrics", "/healthz"},
	})
}

func accessLogFormat(p gin.LogFormatterParams) string {
	if p.Latency > time.Minute {
		p.Latency = p.Latency.Truncate(time.Second)
	}
	line := fmt.Sprintf("[GIN] %v | %3d | %13v | %15s | %-7s %#v\n",
		p.TimeStamp.Format("2006/01/02 - 15:04:05"),
		p.StatusCode,
		p.Latency,
		p.ClientIP,
		p.Method,
		redactQuery(p.Path),
	)
	if p.ErrorMessage != "" {
		line += p.ErrorMessage
	}
	return line
}

// redactQuery masks the token query parameter in a logged path.
func redactQuery(path string) string {
	base, raw, ok := strings.Cut(path, "?")
	if !ok {
		return path
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		if strings.Contains(raw, "token=") {
			return base + "?" + redacted
		}
		return path
	}
	if _, ok := q["token"]; !ok {
		return path
	}
	for i := range q["token"] {
		q["token"][i] = redacted
	}
	return base + "?" + q.Encode()
}
