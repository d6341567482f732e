package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLevel("info")
	})

	SetLevel("warn")
	Infof("hidden %d", 1)
	Warnf("shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden 1")
	assert.Contains(t, buf.String(), "shown 2")
	assert.False(t, DebugEnabled())

	SetLevel("debug")
	assert.True(t, DebugEnabled())
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetFormat("json")
	t.Cleanup(func() {
		SetFormat("text")
		SetOutput(os.Stdout)
	})
	Infof("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestDecisionTrace(t *testing.T) {
	var buf bytes.Buffer
	LogDecisionTrace("propose", "p1", "", nil)
	assert.Empty(t, buf.String())

	SetTraceWriter(&buf)
	t.Cleanup(func() { SetTraceWriter(nil) })
	assert.True(t, TraceEnabled())

	LogDecisionTrace("propose", "p1", "abc", []TraceSection{
		{Title: "frontier", Body: "11 points"},
		{Body: "plain\n"},
	})
	out := buf.String()
	assert.Contains(t, out, "[TRACE][propose][p1][abc]\n")
	assert.Contains(t, out, "--- FRONTIER ---\n11 points\n")
	assert.Contains(t, out, "--- CONTENT ---\nplain\n=====")
}
