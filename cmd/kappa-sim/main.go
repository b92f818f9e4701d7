// kappa-sim drives a simulated kappa goniometer through its virtual
// spherical coordinates.
//
// Usage:
//
//	kappa-sim [--config stage.yaml] <command>
//
// Examples:
//
//	# Show native and virtual positions
//	kappa-sim wm
//
//	# Move to e_eta=5, e_chi=10, e_phi=0
//	kappa-sim mv 5 10 0
//
//	# Move one virtual axis; negative values need no "--"
//	kappa-sim mv --axis e_eta -16.5
//
//	# Interactive session with websocket confirmation
//	KAPPA_CONFIRM_MODE=ws kappa-sim shell
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := newRootCmd()
	root.SetArgs(numericArgs(root, os.Args[1:]))
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Each invocation gets its own app so
// tests can run commands independently.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	var a *app

	root := &cobra.Command{
		Use:   "kappa-sim",
		Short: "Simulated kappa goniometer",
		Long: `kappa-sim drives a simulated kappa goniometer (eta, kappa, phi) through
the virtual eulerian axes e_eta, e_chi and e_phi.

Moves that step any native axis by its step limit or more ask for
confirmation first, either on the terminal or from a websocket client.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = newApp(cmd.Context(), opts)
			return err
		},
	}
	opts.bind(root)

	// PersistentPostRun is skipped when RunE fails, so the app is closed here.
	withApp := func(fn appFunc) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			defer a.Close()
			return fn(a, cmd, args)
		}
	}
	root.AddCommand(
		newWhereCmd(withApp),
		newMoveCmd(withApp),
		newCheckCmd(withApp),
		newLimitsCmd(withApp, opts),
		newHistoryCmd(withApp),
		newShellCmd(withApp),
	)
	return root
}

// appFunc is a command body running against the started app.
type appFunc func(a *app, cmd *cobra.Command, args []string) error

// runner adapts an appFunc to a cobra RunE.
type runner func(appFunc) func(*cobra.Command, []string) error

// rootOptions are the persistent flags.
type rootOptions struct {
	configPath string
	confirm    string
	verbose    bool
}

func (o *rootOptions) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&o.configPath, "config", "c", "", "stage configuration file (YAML)")
	f.StringVar(&o.confirm, "confirm", "", "confirmation mode: terminal, ws, yes or no")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "enable debug logging")
}

// numericArgs moves positional negative numbers behind a "--" so that
// coordinates such as -16.5 are not parsed as shorthand flags. Positional
// order is kept, as are values of flags that take one.
func numericArgs(root *cobra.Command, args []string) []string {
	cmd, _, err := root.Find(args)
	if err != nil {
		return args
	}
	cmd.InheritedFlags() // merges persistent flags into cmd.Flags()
	lookup := func(tok string) *pflag.Flag {
		if strings.HasPrefix(tok, "--") {
			return cmd.Flags().Lookup(tok[2:])
		}
		if len(tok) == 2 {
			return cmd.Flags().ShorthandLookup(tok[1:])
		}
		return nil
	}

	var kept, moved []string
	shifting := false
	for i := 0; i < len(args); i++ {
		tok := args[i]
		if tok == "--" {
			if !shifting {
				return args
			}
			moved = append(moved, args[i+1:]...)
			break
		}
		if _, err := strconv.ParseFloat(tok, 64); err == nil && strings.HasPrefix(tok, "-") {
			shifting = true
			moved = append(moved, tok)
			continue
		}
		if strings.HasPrefix(tok, "-") && len(tok) > 1 {
			kept = append(kept, tok)
			if f := lookup(tok); f != nil && f.NoOptDefVal == "" && i+1 < len(args) {
				i++
				kept = append(kept, args[i])
			}
			continue
		}
		if shifting {
			moved = append(moved, tok)
		} else {
			kept = append(kept, tok)
		}
	}
	if !shifting {
		return args
	}
	return append(append(kept, "--"), moved...)
}
