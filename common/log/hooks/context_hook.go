package hooks

import (
	"runtime/debug"
	"strings"

	log "github.com/sirupsen/logrus"
)

// contextHook adds the "file:line" of the logging call site to each entry.
type contextHook struct {
}

func NewContextHook() contextHook {
	return contextHook{}
}

func (hook contextHook) Levels() []log.Level {
	return log.AllLevels
}

func (hook contextHook) Fire(entry *log.Entry) error {
	if fl := callSite(string(debug.Stack())); fl != "" {
		entry.Data["file:line"] = fl
	}
	return nil
}

// callSite returns the first frame in the stack trace that is outside both this hook
// and logrus, trimmed to a path relative to the module root.
func callSite(stack string) string {
	lines := strings.Split(stack, "\n")
	foundHook := false
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if strings.Contains(line, "context_hook.go:") {
			foundHook = true
			continue
		}
		if !foundHook || !strings.HasPrefix(line, "/") {
			continue
		}
		if strings.Contains(line, "sirupsen/logrus") {
			continue
		}
		ctx := strings.Split(line, "mpilaunch/")
		fl := ctx[len(ctx)-1]
		if idx := strings.Index(fl, " +0x"); idx >= 0 {
			fl = fl[:idx]
		}
		return fl
	}
	return ""
}
