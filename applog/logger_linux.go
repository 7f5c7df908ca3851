//go:build linux
// +build linux

package applog

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/coreos/go-systemd/v22/journal"
)

// journaldWriter implements io.Writer for journald logging.
type journaldWriter struct{}

func (w *journaldWriter) Write(p []byte) (n int, err error) {
	msg := string(p)
	if len(msg) > 0 && msg[len(msg)-1] == '\n' {
		msg = msg[:len(msg)-1]
	}

	err = journal.Send(msg, journal.PriInfo, map[string]string{
		"SYSLOG_IDENTIFIER": "apforge",
	})
	if err != nil {
		return fmt.Fprintf(os.Stderr, "%s", p)
	}
	return len(p), nil
}

var logWriter io.Writer = os.Stderr

// GetLogWriter returns the current log writer.
func GetLogWriter() io.Writer {
	return logWriter
}

// setupJournald configures log.Default() to write to journald when
// withJournald is true and journald is actually available.
func setupJournald(withJournald bool) {
	if !withJournald {
		return
	}
	if !journal.Enabled() {
		log.Println("journald requested but not available on this system; using standard logging")
		return
	}
	writer := &journaldWriter{}
	logWriter = writer
	log.SetOutput(writer)
	log.SetFlags(0)
	log.Println("logging initialized with journald support")
}
