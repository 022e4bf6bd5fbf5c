// Package logsink provides the logger handed to the acquisition code. The
// run driver owns it: it is used from run start and flushed when the run ends,
// so library packages never touch process-wide log state themselves.
package logsink

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
)

type Logger interface {
	Infof(format string, args ...any)
	Warningf(format string, args ...any)
	Errorf(format string, args ...any)
	// Debugf logs only if verbosity level is enabled.
	Debugf(level int, format string, args ...any)
	Flush()
}

type severity int

const (
	sevInfo severity = iota
	sevWarning
	sevError
	sevDebug
)

// depthLogger attributes a line to the caller depth frames above its own
// caller, so wrappers do not show up as the log site.
type depthLogger interface {
	logDepth(depth int, sev severity, level int, msg string)
}

// Glog writes through github.com/golang/glog.
type Glog struct{}

func (g Glog) Infof(format string, args ...any) {
	g.logDepth(1, sevInfo, 0, fmt.Sprintf(format, args...))
}

func (g Glog) Warningf(format string, args ...any) {
	g.logDepth(1, sevWarning, 0, fmt.Sprintf(format, args...))
}

func (g Glog) Errorf(format string, args ...any) {
	g.logDepth(1, sevError, 0, fmt.Sprintf(format, args...))
}

func (g Glog) Debugf(level int, format string, args ...any) {
	if !glog.V(glog.Level(level)) {
		return
	}
	g.logDepth(1, sevDebug, level, fmt.Sprintf(format, args...))
}

func (Glog) logDepth(depth int, sev severity, level int, msg string) {
	switch sev {
	case sevWarning:
		glog.WarningDepth(depth+1, msg)
	case sevError:
		glog.ErrorDepth(depth+1, msg)
	case sevDebug:
		if glog.V(glog.Level(level)) {
			glog.InfoDepth(depth+1, msg)
		}
	default:
		glog.InfoDepth(depth+1, msg)
	}
}

func (Glog) Flush() { glog.Flush() }

type prefixed struct {
	prefix string
	next   Logger
}

// WithPrefix prepends prefix to every message.
func WithPrefix(l Logger, prefix string) Logger {
	return &prefixed{prefix: prefix, next: l}
}

func (p *prefixed) Infof(format string, args ...any) {
	p.logDepth(1, sevInfo, 0, fmt.Sprintf(format, args...))
}

func (p *prefixed) Warningf(format string, args ...any) {
	p.logDepth(1, sevWarning, 0, fmt.Sprintf(format, args...))
}

func (p *prefixed) Errorf(format string, args ...any) {
	p.logDepth(1, sevError, 0, fmt.Sprintf(format, args...))
}

func (p *prefixed) Debugf(level int, format string, args ...any) {
	p.logDepth(1, sevDebug, level, fmt.Sprintf(format, args...))
}

func (p *prefixed) logDepth(depth int, sev severity, level int, msg string) {
	msg = p.prefix + msg
	if d, ok := p.next.(depthLogger); ok {
		d.logDepth(depth+1, sev, level, msg)
		return
	}
	switch sev {
	case sevWarning:
		p.next.Warningf("%s", msg)
	case sevError:
		p.next.Errorf("%s", msg)
	case sevDebug:
		p.next.Debugf(level, "%s", msg)
	default:
		p.next.Infof("%s", msg)
	}
}

func (p *prefixed) Flush() { p.next.Flush() }

// Recorder keeps every message in memory. Tests use it to assert on logging.
type Recorder struct {
	mu      sync.Mutex
	Lines   []string
	Flushes int
}

func (r *Recorder) add(sev, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Lines = append(r.Lines, sev+" "+fmt.Sprintf(format, args...))
}

func (r *Recorder) Infof(format string, args ...any)    { r.add("I", format, args...) }
func (r *Recorder) Warningf(format string, args ...any) { r.add("W", format, args...) }
func (r *Recorder) Errorf(format string, args ...any)   { r.add("E", format, args...) }

func (r *Recorder) Debugf(level int, format string, args ...any) {
	r.add(fmt.Sprintf("V%d", level), format, args...)
}

func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Flushes++
}

// Count returns the number of lines with the given severity ("I", "W", "E", "V2", ...).
func (r *Recorder) Count(sev string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.Lines {
		if len(l) > len(sev) && l[:len(sev)+1] == sev+" " {
			n++
		}
	}
	return n
}

// Discard drops everything.
type Discard struct{}

func (Discard) Infof(string, ...any)       {}
func (Discard) Warningf(string, ...any)    {}
func (Discard) Errorf(string, ...any)      {}
func (Discard) Debugf(int, string, ...any) {}
func (Discard) Flush()                     {}
