package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/KevinKickass/OpenRigCore/internal/machine"
)

type commander interface {
	ExecuteCommand(ctx context.Context, cmd machine.Command) error
	GetStatus() machine.RigStatus
}

// watchInput reads operator commands line by line until quit, EOF or ctx is
// done. Only "q" calls quit; a closed stdin leaves the rig running.
func watchInput(ctx context.Context, r io.Reader, w io.Writer, rig commander, quit func()) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		switch line {
		case "":
			continue
		case "q", "quit", "exit":
			quit()
			return
		case "status":
			s := rig.GetStatus()
			fmt.Fprintf(w, "phase=%s state=%s armed=%t steps=%d\n", s.Phase, s.State, s.Armed, s.Steps)
			if s.ErrorMessage != "" {
				fmt.Fprintf(w, "error: %s\n", s.ErrorMessage)
			}
		case string(machine.CommandFill), string(machine.CommandStart), string(machine.CommandStop), string(machine.CommandReset):
			if err := rig.ExecuteCommand(ctx, machine.Command(line)); err != nil {
				fmt.Fprintf(w, "error: %v\n", err)
				continue
			}
			fmt.Fprintf(w, "ok: %s\n", line)
		default:
			fmt.Fprintf(w, "unknown command %q; commands: fill, start, stop, reset, status, q\n", line)
		}
	}
}
