//go:build windows
// +build windows

package colors

import (
	"fmt"
	"golang.org/x/sys/windows"
	"os"
	"syscall"
	"unsafe"
)

var (
	kernel32           = syscall.NewLazyDLL("kernel32.dll")
	procGetConsoleMode = kernel32.NewProc("GetConsoleMode")
)

var enabled bool

// EnableColor queries the Windows console mode of stdout to decide whether ANSI escape codes can be emitted.
func EnableColor() {
	var mode uint32
	// ANSI output requires ENABLE_VIRTUAL_TERMINAL_PROCESSING to be set on the stdout console mode.
	if r, _, _ := procGetConsoleMode.Call(os.Stdout.Fd(), uintptr(unsafe.Pointer(&mode))); r != 0 && mode&windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING != 0 {
		enabled = false
	} else {
		enabled = true
	}
}

// Colorize wraps s in the ANSI escape sequence for color c when the console supports it, and returns s unchanged
// otherwise.
// Escape format taken from https://github.com/rs/zerolog/blob/4fff5db29c3403bc26dee9895e12a108aacc0203/console.go
func Colorize(s any, c Color) string {
	if !enabled {
		return fmt.Sprintf("%s", s)
	}
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}
