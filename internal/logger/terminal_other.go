//go:build !linux

package logger

// isTerminal reports false on platforms where we don't probe the terminal;
// output falls back to uncolored text.
func isTerminal(fd uintptr) bool {
	return false
}
