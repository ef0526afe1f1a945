// Package interactive provides the interactive command-line interface
// for the run-mode device.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/mash-protocol/runmode-go/pkg/clock"
	"github.com/mash-protocol/runmode-go/pkg/runmode"
)

// Controller is the part of the run-mode controller the shell drives.
// *runmode.Controller satisfies it.
type Controller interface {
	Clock() clock.Clock
	Snapshot() runmode.Snapshot
	ToOnline(now clock.Timestamp)
	ToOffline(now clock.Timestamp)
	SetMode(m runmode.Mode)
}

// Stepper performs one synchronous tick. *loop.Loop satisfies it.
type Stepper interface {
	Step() runmode.Mode
}

// Link is the simulated link the shell can force up or down.
type Link interface {
	LinkUp() bool
	SetLinkUp(up bool)
}

// maxTicks bounds a single "tick n" command.
const maxTicks = 10000

// Shell handles interactive mode for runmode-device.
type Shell struct {
	ctrl Controller
	step Stepper
	link Link
	rl   *readline.Instance
	out  io.Writer
}

// New creates a shell reading commands from the terminal.
func New(ctrl Controller, step Stepper, link Link) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "runmode> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	s := newShell(ctrl, step, link, rl.Stdout())
	s.rl = rl
	return s, nil
}

func newShell(ctrl Controller, step Stepper, link Link, out io.Writer) *Shell {
	return &Shell{ctrl: ctrl, step: step, link: link, out: out}
}

// Stdout returns a writer that coordinates with the readline prompt.
// Use this for log output so it does not garble the command line.
func (s *Shell) Stdout() io.Writer {
	return s.out
}

// Run reads commands until quit, EOF or ctx is done.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if !s.Execute(line) {
			cancel()
			return
		}
	}
}

// Execute runs one command line. It returns false when the shell should exit.
func (s *Shell) Execute(line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()
	case "status", "s":
		s.cmdStatus()
	case "online":
		s.ctrl.ToOnline(s.ctrl.Clock().Now())
		s.printMode()
	case "offline":
		s.ctrl.ToOffline(s.ctrl.Clock().Now())
		s.printMode()
	case "set":
		s.cmdSet(args)
	case "link":
		s.cmdLink(args)
	case "tick", "t":
		s.cmdTick(args)
	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return false
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Run-Mode Device Commands:
  Mode:
    status             - Show controller status
    online             - Request ONLINE (runs entry actions)
    offline            - Request OFFLINE (runs entry actions)
    set <mode>         - Force a mode without entry actions

  Simulation:
    link [up|down]     - Show or force the simulated link
    tick [n]           - Run n ticks (default 1)

  General:
    help               - Show this help
    quit               - Exit device`)
}

func (s *Shell) printMode() {
	fmt.Fprintf(s.out, "Mode: %s\n", s.ctrl.Snapshot().Mode)
}

func (s *Shell) cmdSet(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Usage: set online|offline")
		return
	}
	m, err := runmode.ParseMode(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	s.ctrl.SetMode(m)
	s.printMode()
}

func (s *Shell) cmdLink(args []string) {
	if s.link == nil {
		fmt.Fprintln(s.out, "No simulated link")
		return
	}
	if len(args) == 0 {
		fmt.Fprintf(s.out, "Link: %s\n", linkString(s.link.LinkUp()))
		return
	}
	switch strings.ToLower(args[0]) {
	case "up":
		s.link.SetLinkUp(true)
	case "down":
		s.link.SetLinkUp(false)
	default:
		fmt.Fprintln(s.out, "Usage: link [up|down]")
		return
	}
	fmt.Fprintf(s.out, "Link: %s\n", linkString(s.link.LinkUp()))
}

func (s *Shell) cmdTick(args []string) {
	n := 1
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 || v > maxTicks {
			fmt.Fprintf(s.out, "Error: tick count must be 1-%d\n", maxTicks)
			return
		}
		n = v
	}

	counts := map[runmode.Mode]int{}
	for i := 0; i < n; i++ {
		counts[s.step.Step()]++
	}
	fmt.Fprintf(s.out, "Ran %d tick(s): %d online, %d offline\n",
		n, counts[runmode.ModeOnline], counts[runmode.ModeOffline])
	s.printMode()
}

func (s *Shell) cmdStatus() {
	snap := s.ctrl.Snapshot()

	fmt.Fprintln(s.out, "Controller Status:")
	fmt.Fprintf(s.out, "  Mode:              %s\n", snap.Mode)
	if snap.Transitioned {
		fmt.Fprintf(s.out, "  Last transition:   %s\n", snap.LastTransition)
	} else {
		fmt.Fprintln(s.out, "  Last transition:   never")
	}
	fmt.Fprintf(s.out, "  Transitions:       %d\n", snap.Transitions)
	fmt.Fprintf(s.out, "  Rejected:          %d\n", snap.Rejected)
	fmt.Fprintf(s.out, "  Clock regressions: %d\n", snap.ClockRegressions)

	switch {
	case snap.Online != nil:
		on := snap.Online
		fmt.Fprintf(s.out, "  Exchanges:         %d (failures: %d)\n", on.Exchanges, on.Failures)
		fmt.Fprintf(s.out, "  Resync pending:    %t\n", on.ResyncPending)
		if on.LastError != "" {
			fmt.Fprintf(s.out, "  Last error:        %s\n", on.LastError)
		}
	case snap.Offline != nil:
		off := snap.Offline
		fmt.Fprintf(s.out, "  Probe attempts:    %d\n", off.ProbeAttempts)
		fmt.Fprintf(s.out, "  Next probe at:     %s\n", off.NextProbeAt)
		if off.LastError != "" {
			fmt.Fprintf(s.out, "  Last error:        %s\n", off.LastError)
		}
	}

	fmt.Fprintf(s.out, "  Failsafe:          %s", snap.Failsafe)
	if snap.FailsafeRemaining > 0 {
		fmt.Fprintf(s.out, " (%s left)", snap.FailsafeRemaining)
	}
	fmt.Fprintln(s.out)
	fmt.Fprintf(s.out, "  Buffered:          %d (dropped: %d)\n", snap.Buffered, snap.Dropped)
	if s.link != nil {
		fmt.Fprintf(s.out, "  Link:              %s\n", linkString(s.link.LinkUp()))
	}
}

func linkString(up bool) string {
	if up {
		return "up"
	}
	return "down"
}
