package call

import (
	"io"

	"github.com/pion/logging"
)

// loggerFor scopes a logger from lf. A nil factory discards everything.
func loggerFor(lf logging.LoggerFactory, scope string) logging.LeveledLogger {
	if lf == nil {
		lf = &logging.DefaultLoggerFactory{
			Writer:          io.Discard,
			DefaultLogLevel: logging.LogLevelDisabled,
			ScopeLevels:     map[string]logging.LogLevel{},
		}
	}
	return lf.NewLogger(scope)
}
