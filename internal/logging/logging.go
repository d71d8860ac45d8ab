package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/labstack/gommon/log"
)

const header = "${time_rfc3339} ${level} ${prefix}"

// Build a leveled logger, e.g. New("SENDER", "info")
func New(prefix, level string) (*log.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	logger := log.New(prefix)
	logger.SetHeader(header)
	logger.SetLevel(lvl)

	return logger, nil
}

// A logger that writes nowhere, for tests and library callers
func Discard() *log.Logger {
	logger := log.New("")
	logger.SetOutput(io.Discard)
	logger.SetLevel(log.OFF)

	return logger
}

func ParseLevel(level string) (log.Lvl, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DEBUG, nil
	case "", "info":
		return log.INFO, nil
	case "warn", "warning":
		return log.WARN, nil
	case "error":
		return log.ERROR, nil
	case "off":
		return log.OFF, nil
	default:
		return log.OFF, fmt.Errorf("unknown log level %q", level)
	}
}
