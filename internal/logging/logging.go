// Package logging routes progress and warning lines to one destination.
package logging

import (
	"fmt"
	"io"
)

var logWriter io.Writer

// SetWriter sets the log output destination. A nil writer falls back to
// stdout.
func SetWriter(w io.Writer) {
	logWriter = w
}

// Logf writes a formatted log message.
func Logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if logWriter != nil {
		fmt.Fprintln(logWriter, msg)
	} else {
		fmt.Println(msg)
	}
}

// Warnf writes a warning line.
func Warnf(format string, args ...interface{}) {
	Logf("warning: "+format, args...)
}
