package nixmate

import (
	"errors"
	"fmt"

	"github.com/gookit/color"
)

// Global variables
var (
	Debug     bool
	Verbose   bool
	version   = "dev"     // overridden at build time
	buildDate = "unknown" // overridden at build time

	// ErrAlreadyRunning is returned by StartRun while a build is still in flight.
	ErrAlreadyRunning = errors.New("a rebuild is already running")
)

// Defaults, all overridable through the config file or NIXMATE_* env vars.
const (
	defaultCancelGrace     = 5 // seconds before SIGTERM escalates to SIGKILL
	defaultMinPhaseVisible = 400
	defaultKeepLogs        = 10
	logBufferCap           = 50000
	maxLineBytes           = 4096
	historyCap             = 200
	etaWindow              = 5
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)

// debugf prints debug messages when Debug is true
func debugf(format string, args ...any) {
	if Debug {
		fmt.Printf(format, args...)
	}
}
