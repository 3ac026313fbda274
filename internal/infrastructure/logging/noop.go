package logging

import "github.com/shipwrightrun/shipwright/internal/ports"

// Noop discards every log entry; used in tests that assert on behavior, not
// output.
type Noop struct{}

func (Noop) Debug(string, ...interface{})        {}
func (Noop) Info(string, ...interface{})         {}
func (Noop) Warn(string, ...interface{})         {}
func (Noop) Error(string, ...interface{})        {}
func (n Noop) With(...interface{}) ports.Logger  { return n }

var _ ports.Logger = Noop{}
