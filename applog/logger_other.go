//go:build !linux
// +build !linux

package applog

import (
	"io"
	"log"
	"os"
)

var logWriter io.Writer = os.Stderr

// GetLogWriter returns the current log writer.
func GetLogWriter() io.Writer {
	return logWriter
}

func setupJournald(withJournald bool) {
	if withJournald {
		log.Println("journald logging is not supported on this operating system")
		log.Println("falling back to standard logging")
	}
}
