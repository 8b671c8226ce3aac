// Package logging provides the bracketed-component-prefix logger used
// throughout packetcomms, a plain stdlib log.Logger styled as
// "[component] message" rather than a structured logging library.
package logging

import (
	"log"
	"os"
)

// New returns a *log.Logger that prefixes every line with
// "[component] ".
func New(component string) *log.Logger {
	return log.New(os.Stderr, "["+component+"] ", log.LstdFlags)
}
