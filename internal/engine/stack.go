package engine

import (
	"fmt"
	"runtime"
	"strings"
)

// minifiedStack renders the caller's stack as "func:line < func:line < ...",
// trimmed to the frames inside this module, for failure activity entries.
func minifiedStack(skip int) string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var parts []string
	for {
		f, more := frames.Next()
		if strings.Contains(f.Function, "memberprop/internal/") {
			name := f.Function[strings.LastIndex(f.Function, "/")+1:]
			parts = append(parts, fmt.Sprintf("%s:%d", name, f.Line))
		}
		if !more || len(parts) >= 12 {
			break
		}
	}
	return strings.Join(parts, " < ")
}
