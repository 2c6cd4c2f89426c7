package logging

import (
	"bytes"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the logging surface the stages depend on
type Logger = logrus.FieldLogger

// New creates a text logger writing to out. Debug output is enabled when
// verbose is set.
func New(out io.Writer, verbose bool, color bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{
		DisableColors:    !color,
		DisableTimestamp: !verbose,
		FullTimestamp:    verbose,
	})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// Discard returns a logger that drops everything, for tests
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// DebugWriter returns a writer that logs every complete line written to it
// at debug level, for forwarding subprocess output
func DebugWriter(log Logger) io.Writer {
	return &lineWriter{log: log}
}

type lineWriter struct {
	mu      sync.Mutex
	log     Logger
	partial []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(w.partial[:i], "\r")
		if len(line) > 0 {
			w.log.Debug(string(line))
		}
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}
