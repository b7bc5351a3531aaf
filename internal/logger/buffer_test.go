package logger

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferedLogger(t *testing.T, level zapcore.Level) (*zap.SugaredLogger, *Buffer) {
	t.Helper()
	buf := NewBuffer(0)
	buf.SetLevel(level)
	return zap.New(buf).Sugar(), buf
}

func TestBufferCapturesSeverity(t *testing.T) {
	log, buf := newBufferedLogger(t, zapcore.DebugLevel)

	log.Debug("d")
	log.Info("i")
	log.Warn("w")
	log.Error("e")

	recs := buf.Drain()
	require.Len(t, recs, 4)
	want := []Severity{SeverityDebug, SeverityInfo, SeverityWarning, SeverityError}
	for i, r := range recs {
		assert.Equal(t, want[i], r.Severity, "record %d", i)
		assert.False(t, r.Timestamp.IsZero())
		assert.Equal(t, time.UTC, r.Timestamp.Location())
	}
}

func TestSeverityOfCriticalLevels(t *testing.T) {
	for _, l := range []zapcore.Level{zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel} {
		assert.Equal(t, SeverityCritical, SeverityOf(l), l.String())
	}
}

func TestBufferRespectsLevel(t *testing.T) {
	log, buf := newBufferedLogger(t, zapcore.WarnLevel)

	log.Info("dropped")
	log.Warn("kept")

	recs := buf.Drain()
	require.Len(t, recs, 1)
	assert.Equal(t, "kept", recs[0].Message)
}

func TestBufferRendersFields(t *testing.T) {
	log, buf := newBufferedLogger(t, zapcore.DebugLevel)

	log.With("component", "control").Infow("reloaded config", "speed", 5, "power", true)

	recs := buf.Drain()
	require.Len(t, recs, 1)
	assert.Equal(t, "reloaded config component=control power=true speed=5", recs[0].Message)
}

func TestBufferRendersErrors(t *testing.T) {
	log, buf := newBufferedLogger(t, zapcore.DebugLevel)

	log.Errorw("publish failed", "err", errors.New("broker down"))

	recs := buf.Drain()
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0].Message, "err=broker down")
}

func TestDrainEmptiesBuffer(t *testing.T) {
	log, buf := newBufferedLogger(t, zapcore.DebugLevel)
	for i := 0; i < 5; i++ {
		log.Infof("line %d", i)
	}
	require.Equal(t, 5, buf.Len())

	recs := buf.Drain()
	assert.Len(t, recs, 5)
	assert.Equal(t, 0, buf.Len())
	assert.Empty(t, buf.Drain())
}

func TestBufferDropsOldestWhenFull(t *testing.T) {
	buf := NewBuffer(3)
	for i := 0; i < 5; i++ {
		buf.Append(Record{Message: string(rune('a' + i))})
	}

	recs := buf.Drain()
	require.Len(t, recs, 3)
	assert.Equal(t, "c", recs[0].Message)
	assert.Equal(t, "e", recs[2].Message)
	assert.Equal(t, 2, buf.Dropped())
}

func TestDrainConcurrentAppendsAreNotLost(t *testing.T) {
	buf := NewBuffer(0)
	const writers, perWriter = 4, 500

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				buf.Append(Record{Message: "x"})
			}
		}()
	}

	total := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-done:
			total += len(buf.Drain())
			assert.Equal(t, writers*perWriter, total)
			return
		default:
			total += len(buf.Drain())
		}
	}
}

func TestNewTeesIntoBuffer(t *testing.T) {
	buf := NewBuffer(0)
	log := New(WarnLevel, buf)

	log.Info("console only")
	log.Warn("both")

	recs := buf.Drain()
	require.Len(t, recs, 1)
	assert.True(t, strings.HasPrefix(recs[0].Message, "both"))
}

func TestToZapLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": defaultLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, toZapLevel(in), in)
	}
}
