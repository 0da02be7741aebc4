package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// Logger writes leveled, tagged log lines. Loggers derived from one another
// via WithTag/WithDefaultLevel share the same output and mutex, so that
// concurrent goroutines logging through different tags never interleave.
type Logger struct {
	Level

	// Tag classifies and filters log messages, e.g. "ice", "stun", "netaccess".
	Tag string

	out io.Writer
	mu  *sync.Mutex
}

// DefaultLogger writes to stderr at the level determined by LOGLEVEL.
var DefaultLogger = &Logger{defaultLevel, "", os.Stderr, new(sync.Mutex)}

// SetDestination overrides where this logger (and loggers derived from it
// afterwards) writes. Loggers already derived via WithTag/WithDefaultLevel
// keep the destination they were created with.
func (log *Logger) SetDestination(out io.Writer) {
	log.out = out
}

// WithTag derives a new logger with the given tag, looking up its level
// override from the LOGLEVEL environment variable.
func (log *Logger) WithTag(tag string) *Logger {
	return &Logger{determineLevel(tag, log.Level), tag, log.out, log.mu}
}

// WithDefaultLevel derives a new logger with the given default level. A
// LOGLEVEL directive for the same tag still takes precedence.
func (log *Logger) WithDefaultLevel(level Level) *Logger {
	return &Logger{determineLevel(log.Tag, level), log.Tag, log.out, log.mu}
}

type buffer []byte

func (b *buffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

func (b *buffer) writeByte(c byte) {
	*b = append(*b, c)
}

var bufPool = sync.Pool{
	New: func() interface{} {
		return make(buffer, 256)
	},
}

// Log writes a message at the given level, attributing it to the source
// line 'calldepth' steps up the call stack from the public Error/Warn/Info/
// Debug wrapper that invoked it.
func (log *Logger) Log(level Level, calldepth int, format string, a ...interface{}) {
	if level > log.Level {
		return
	}

	buf := bufPool.Get().(buffer)
	defer bufPool.Put(buf[:0])

	buf = time.Now().AppendFormat(buf, timestampFormat)

	prefix := level.color().Sprintf("%c/%s", level.letter(), log.Tag)
	fmt.Fprintf(&buf, " %s ", prefix)

	_, file, line, ok := runtime.Caller(calldepth + 1)
	if !ok {
		file = "?"
	}
	fmt.Fprintf(&buf, "[%s:%d] ", filepath.Base(file), line)

	fmt.Fprintf(&buf, format, a...)
	if n := len(format); n == 0 || format[n-1] != '\n' {
		buf.writeByte('\n')
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	if _, err := log.out.Write(buf); err != nil {
		panic(fmt.Sprintf("failed to log to %v: %v", log.out, err))
	}
}

func (log *Logger) Error(format string, a ...interface{}) {
	log.Log(Error, 1, format, a...)
}

func (log *Logger) Warn(format string, a ...interface{}) {
	log.Log(Warn, 1, format, a...)
}

func (log *Logger) Info(format string, a ...interface{}) {
	log.Log(Info, 1, format, a...)
}

func (log *Logger) Debug(format string, a ...interface{}) {
	log.Log(Debug, 1, format, a...)
}

func (log *Logger) Trace(n int, format string, a ...interface{}) {
	log.Log(Level(n), 1, format, a...)
}
