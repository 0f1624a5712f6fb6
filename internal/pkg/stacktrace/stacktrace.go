package stacktrace

import "strings"

const marker = "/internal/"

// InternalPaths returns the "internal/...go:line" frames of a raw debug.Stack output.
//
// Frames outside the module's internal tree (runtime, vendored libraries) are dropped so panic
// logs stay short.
func InternalPaths(stack []byte) []string {
	var paths []string
	for line := range strings.SplitSeq(string(stack), "\n") {
		line = strings.TrimSpace(line)
		idx := strings.Index(line, marker)
		if idx == -1 || !strings.Contains(line, ".go:") {
			continue
		}

		frame := line[idx+1:]
		if sp := strings.IndexByte(frame, ' '); sp != -1 {
			frame = frame[:sp]
		}
		paths = append(paths, frame)
	}
	return paths
}
