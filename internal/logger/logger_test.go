package logger

import (
	"bytes"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordPattern = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] \[([A-Z]+)\] (.+)$`)

func TestRecordFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG")

	Info("server started", "port", 5000)

	line := strings.TrimSuffix(buf.String(), "\n")
	m := recordPattern.FindStringSubmatch(line)
	require.NotNil(t, m, "record %q does not match format", line)
	assert.Equal(t, "INFO", m[1])
	assert.Equal(t, "server started port=5000", m[2])
}

func TestSeverityLevels(t *testing.T) {
	t.Run("WarnRendersAsWARNING", func(t *testing.T) {
		var buf bytes.Buffer
		InitWithWriter(&buf, "DEBUG")

		Warn("queue almost full")
		assert.Contains(t, buf.String(), "[WARNING]")
	})

	t.Run("DebugSuppressedAtInfo", func(t *testing.T) {
		var buf bytes.Buffer
		InitWithWriter(&buf, "INFO")

		Debug("noisy detail")
		assert.Empty(t, buf.String())
	})

	t.Run("ErrorAlwaysLogged", func(t *testing.T) {
		var buf bytes.Buffer
		InitWithWriter(&buf, "ERROR")

		Info("hidden")
		Error("broken pipe")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "[ERROR] broken pipe")
	})
}

func TestOperationalTags(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO")

	Tag(TagJoin, "User joined room", "user", "alice", "room", "room1")

	line := buf.String()
	assert.Contains(t, line, "[JOIN]")
	assert.Contains(t, line, "User joined room")
	assert.Contains(t, line, "user=alice")
	assert.NotContains(t, line, "log_tag")
}

func TestShutdownShortCircuits(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG")

	Info("before")
	Shutdown()
	Info("after")
	Tag(TagServer, "after tag")
	Error("after error")

	out := buf.String()
	assert.Contains(t, out, "before")
	assert.NotContains(t, out, "after")

	// Reset for other tests.
	InitWithWriter(&buf, "INFO")
}

func TestConcurrentWriters(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				Info("concurrent record")
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 16*50)
	for _, line := range lines {
		assert.True(t, recordPattern.MatchString(line), "malformed record %q", line)
	}
}
