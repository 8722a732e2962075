package anvil

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// We use this environment variable to control logging.  It should be a
// comma-separated list of log tags (see below) or "*" to enable all logging.
const logConfigVar = "ANVIL_LOG"

// Pre-defined log types
const (
	logTypeCrypto    = "crypto"
	logTypeHandshake = "handshake"
	logTypeRecord    = "record"
	logTypeIO        = "io"
	logTypeWorkflow  = "workflow"
	logTypeVerbose   = "verbose"
)

var (
	logMu       sync.RWMutex
	logger      = zap.NewNop().Sugar()
	logAll      = false
	logSettings = map[string]bool{}
)

func init() {
	parseLogEnv(os.Environ())
}

func parseLogEnv(env []string) {
	for _, stmt := range env {
		if strings.HasPrefix(stmt, logConfigVar+"=") {
			val := stmt[len(logConfigVar)+1:]

			if val == "*" {
				logAll = true
			} else {
				for _, t := range strings.Split(val, ",") {
					logSettings[t] = true
				}
			}
		}
	}
}

// SetLogger installs the process-wide sink for engine logs. It is meant to be
// called once during program start-up; the engine itself never builds a
// logger.
func SetLogger(l *zap.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	logger = l.Sugar()
}

func currentLogger() *zap.SugaredLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger
}

func logf(tag string, format string, args ...interface{}) {
	if logAll || logSettings[tag] {
		currentLogger().Debugf("["+tag+"] "+format, args...)
	}
}

// warnf is not filtered by tag. Tolerated peer misbehaviour is always worth
// seeing.
func warnf(tag string, format string, args ...interface{}) {
	currentLogger().Warnf("["+tag+"] "+format, args...)
}
