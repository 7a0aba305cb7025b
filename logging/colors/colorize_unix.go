//go:build !windows
// +build !windows

package colors

import "fmt"

// EnableColor does nothing outside Windows, where terminals accept ANSI escape codes unconditionally.
func EnableColor() {}

// Colorize wraps s in the ANSI escape sequence for color c.
// Escape format taken from https://github.com/rs/zerolog/blob/4fff5db29c3403bc26dee9895e12a108aacc0203/console.go
func Colorize(s any, c Color) string {
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}
