package logsink

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type site struct {
	file string
	line int
	msg  string
}

// callerLogger records where each line would be attributed to.
type callerLogger struct {
	Discard
	sites []site
}

func (c *callerLogger) logDepth(depth int, _ severity, _ int, msg string) {
	_, file, line, _ := runtime.Caller(depth + 1)
	c.sites = append(c.sites, site{file: filepath.Base(file), line: line, msg: msg})
}

func TestWithPrefixKeepsCallSite(t *testing.T) {
	c := &callerLogger{}
	l := WithPrefix(c, "[run-1] ")

	_, _, line, _ := runtime.Caller(0)
	l.Infof("record %d", 3)
	WithPrefix(l, "[sink] ").Warningf("slow")

	require.Len(t, c.sites, 2)
	assert.Equal(t, site{file: "logsink_test.go", line: line + 1, msg: "[run-1] record 3"}, c.sites[0])
	assert.Equal(t, site{file: "logsink_test.go", line: line + 2, msg: "[run-1] [sink] slow"}, c.sites[1])
}

func TestWithPrefixOnPlainLogger(t *testing.T) {
	r := &Recorder{}
	l := WithPrefix(r, "[run-1] ")
	l.Infof("100%% done")
	l.Debugf(2, "poll %d", 7)
	l.Errorf("failed: %s", "boom")
	l.Flush()

	assert.Equal(t, []string{"I [run-1] 100% done", "V2 [run-1] poll 7", "E [run-1] failed: boom"}, r.Lines)
	assert.Equal(t, 1, r.Flushes)
}
