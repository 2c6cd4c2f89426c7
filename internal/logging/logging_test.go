package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer

	log := New(&buf, false, false)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	log.Debug("hidden")
	log.WithField("run", "abc").Info("visible")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
	assert.Contains(t, buf.String(), "run=abc")

	verbose := New(&buf, true, false)
	assert.Equal(t, logrus.DebugLevel, verbose.GetLevel())
}

func TestDebugWriter(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	w := DebugWriter(log)
	w.Write([]byte("first line\nsecond "))
	w.Write([]byte("line\r\n\n"))
	w.Write([]byte("unterminated"))

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "first line", entries[0].Message)
	assert.Equal(t, "second line", entries[1].Message)
	assert.Equal(t, logrus.DebugLevel, entries[1].Level)
}
