package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

const shellHelp = `commands:
  wm                         show positions
  mv E_ETA E_CHI E_PHI       move all virtual axes
  mv AXIS VALUE              move one virtual axis (e_eta, e_chi, e_phi)
  check E_ETA E_CHI E_PHI    check reachability
  check AXIS VALUE           check one virtual axis
  limits [ETA KAPPA PHI]     show or set step limits
  history [N]                list recent moves
  quit                       leave the shell
`

func newShellCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session on one stage",
		Long: `Run commands against a single stage instance. Positions persist between
commands, and websocket operators stay connected for the whole session.`,
		Args: cobra.NoArgs,
		RunE: run(func(a *app, cmd *cobra.Command, args []string) error {
			return a.shell(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		}),
	}
}

// shell reads commands from in until EOF, quit or ctx ends. Command errors
// are printed and the session continues.
func (a *app) shell(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	prompt := fmt.Sprintf("%s> ", a.cfg.Name)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return nil
		}
		if err := a.exec(ctx, out, fields[0], fields[1:]); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func (a *app) exec(ctx context.Context, out io.Writer, name string, args []string) error {
	switch name {
	case "wm", "where":
		return a.where(out)
	case "mv":
		axisName, values := splitAxis(args)
		return a.move(ctx, out, axisName, values, 0)
	case "check":
		axisName, values := splitAxis(args)
		return a.check(out, axisName, values)
	case "limits":
		if len(args) != 0 && len(args) != 3 {
			return fmt.Errorf("usage: limits [ETA KAPPA PHI]")
		}
		return a.limits(out, args)
	case "history":
		n := 20
		if len(args) == 1 {
			if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil {
				return fmt.Errorf("invalid count %q", args[0])
			}
		}
		return a.history(ctx, out, n)
	case "help", "?":
		_, err := io.WriteString(out, shellHelp)
		return err
	default:
		return fmt.Errorf("unknown command %q, try help", name)
	}
}

// splitAxis recognizes "AXIS VALUE" argument pairs.
func splitAxis(args []string) (string, []string) {
	if len(args) == 2 && strings.HasPrefix(strings.ToLower(args[0]), "e_") {
		return args[0], args[1:]
	}
	return "", args
}
