// Package logx centralizes the logrus setup shared by the bootloader
// core and the CLI, with a verbosity switch expressed as logrus
// levels instead of a single bool.
package logx

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"zappem.net/pub/debug/xxd"
)

// New builds a logger at Info level, or Debug level when verbose is
// true. Output goes to stderr with logrus's default text formatter.
func New(verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// DumpFrame renders b as a hex dump for Debug-level frame tracing of
// every command, address, and data frame a session exchanges.
func DumpFrame(log *logrus.Entry, label string, b []byte) {
	if log.Logger.GetLevel() < logrus.DebugLevel {
		return
	}
	log.Debugf("%s (%d bytes):\n%s", label, len(b), captureXxd(b))
}

// captureXxd renders b in xxd's address+hex convention. xxd.Print
// writes directly to stdout and takes no io.Writer, so it can't be
// redirected into a logrus field; this reimplements just enough of
// its layout to embed in a log line. PrintStdout below uses the real
// library for the CLI's own raw dump mode, where stdout is fine.
func captureXxd(b []byte) string {
	var s string
	for i := 0; i < len(b); i += 16 {
		end := i + 16
		if end > len(b) {
			end = len(b)
		}
		s += fmt.Sprintf("%08x: % x\n", i, b[i:end])
	}
	return s
}

// PrintStdout writes b to stdout via xxd.Print, starting at addr. Used
// by the CLI's --dump-frames mode for a raw capture independent of the
// logger's level or formatter.
func PrintStdout(addr int, b []byte) {
	xxd.Print(addr, b)
}
