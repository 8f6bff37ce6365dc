package proxy

import (
	"log/slog"
	"strconv"

	uuid "github.com/satori/go.uuid"
)

// serverLogger identifies one Server instance in log output and owns the
// verbose gating: lifecycle and accounting logs only reach the handler when
// Options.Verbose is set, while unexpected errors always do.
type serverLogger struct {
	instanceID string
	verbose    bool
	logger     *slog.Logger
}

func newServerLogger(serverType string, verbose bool) *serverLogger {
	id := uuid.NewV4().String()[:8]
	return &serverLogger{
		instanceID: id,
		verbose:    verbose,
		logger: slog.Default().With(
			"instance_id", id,
			"server_type", serverType,
		),
	}
}

// bindPort attaches the resolved listen port once Listen has bound it.
func (l *serverLogger) bindPort(port int) {
	l.logger = l.logger.With("port", strconv.Itoa(port))
}

// verboseInfo logs at info level only when verbose logging is enabled.
func (l *serverLogger) verboseInfo(msg string, args ...any) {
	if l.verbose {
		l.logger.Info(msg, args...)
	}
}

// verboseDebug logs at debug level only when verbose logging is enabled.
func (l *serverLogger) verboseDebug(msg string, args ...any) {
	if l.verbose {
		l.logger.Debug(msg, args...)
	}
}

// verboseWarn logs at warn level only when verbose logging is enabled. Used
// for the raw-socket fallback warning, which is advisory: the connection
// keeps working on application-layer counters.
func (l *serverLogger) verboseWarn(msg string, args ...any) {
	if l.verbose {
		l.logger.Warn(msg, args...)
	}
}
