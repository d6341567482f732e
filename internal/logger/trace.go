package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	traceMu  sync.Mutex
	traceLog *log.Logger
)

// SetTraceWriter 设置决策追踪输出；nil 关闭追踪。
func SetTraceWriter(w io.Writer) {
	traceMu.Lock()
	defer traceMu.Unlock()
	if w == nil {
		traceLog = nil
		return
	}
	traceLog = log.New(w, "", log.LstdFlags)
}

func TraceEnabled() bool {
	traceMu.Lock()
	defer traceMu.Unlock()
	return traceLog != nil
}

// TraceSection is one titled block of a decision trace.
type TraceSection struct {
	Title string
	Body  string
}

// LogDecisionTrace writes one sectioned block:
//
//	[TRACE][propose][partner][trace-id]
//	--- FRONTIER ---
//	...
//	=====
func LogDecisionTrace(kind, partner, traceID string, sections []TraceSection) {
	traceMu.Lock()
	l := traceLog
	traceMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[TRACE]")
	for _, tag := range []string{kind, partner, traceID} {
		if tag == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(tag)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(strings.ToUpper(t))
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	l.Print(b.String())
}
