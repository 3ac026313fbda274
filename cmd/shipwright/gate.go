package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
)

// promptApprove implements the interactive approval gate (spec.md §3.1):
// prompt on stdout, read a line from stdin, anything starting with 'y'
// approves.
func promptApprove(stage domainrun.StageKind) bool {
	fmt.Fprintf(os.Stdout, "Approve stage %q to continue? [y/N] ", stage)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return strings.HasPrefix(line, "y")
}
