// Package log adapts structured logging onto github.com/luxfi/log, the
// teacher's own logging interface: every subsystem that takes a logger
// at construction in the teacher repo (poll/poll.go, networking/router/
// chain_router.go, protocol/nova/consensus.go, protocol/prism/set.go)
// takes a github.com/luxfi/log.Logger, the same seam this repo's
// validator, holdback queue, and façade build on.
//
// github.com/luxfi/log.Logger's Debug/Info/Warn/Error methods take
// loose key-value pairs (the teacher's own Geth-style convention, e.g.
// ai/ai.go's "a.log.Info(\"upgrade decision\", \"chain\", chainID, ...)"),
// not zap.Field values — call sites in this repo follow that same
// "msg, key, value, key, value, ..." shape.
package log

import (
	"log/slog"

	luxlog "github.com/luxfi/log"
)

// Logger is the teacher's own structured logging interface, used
// unmodified.
type Logger = luxlog.Logger

// New returns a named production logger at the given level.
func New(name string, level slog.Level) Logger {
	l := luxlog.NewLogger(name)
	l.SetLevel(level)
	return l
}

// NewNoOp returns a logger that discards everything, for tests and
// benchmarks where log output is noise.
func NewNoOp() Logger { return luxlog.NewNoOpLogger() }
