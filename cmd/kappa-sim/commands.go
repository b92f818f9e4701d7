package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kappa-stage/pkg/config"
	"kappa-stage/pkg/kinematics"
	"kappa-stage/pkg/positioner"
	"kappa-stage/pkg/safety"
)

func newWhereCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:     "wm",
		Aliases: []string{"where"},
		Short:   "Show native and virtual positions",
		Args:    cobra.NoArgs,
		RunE: run(func(a *app, cmd *cobra.Command, args []string) error {
			return a.where(cmd.OutOrStdout())
		}),
	}
}

func newMoveCmd(run runner) *cobra.Command {
	var axisName string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "mv E_ETA E_CHI E_PHI | mv --axis NAME VALUE",
		Short: "Move to a virtual position",
		Long: `Move the stage to a virtual position. With --axis, only the named virtual
axis (e_eta, e_chi or e_phi) changes and the others keep their current value.
Negative values are accepted as given, e.g. "mv --axis e_eta -16.5".`,
		Args: cobra.RangeArgs(1, 3),
		RunE: run(func(a *app, cmd *cobra.Command, args []string) error {
			return a.move(cmd.Context(), cmd.OutOrStdout(), axisName, args, timeout)
		}),
	}
	cmd.Flags().StringVarP(&axisName, "axis", "a", "", "move a single virtual axis")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "give up waiting after this long (0 waits for completion)")
	return cmd
}

func newCheckCmd(run runner) *cobra.Command {
	var axisName string
	cmd := &cobra.Command{
		Use:   "check E_ETA E_CHI E_PHI | check --axis NAME VALUE",
		Short: "Check that a virtual position is reachable",
		Long: `Check that a virtual position is reachable from the current branch without
moving. Negative values are accepted as given, e.g. "check -3 5 -7".`,
		Args: cobra.RangeArgs(1, 3),
		RunE: run(func(a *app, cmd *cobra.Command, args []string) error {
			return a.check(cmd.OutOrStdout(), axisName, args)
		}),
	}
	cmd.Flags().StringVarP(&axisName, "axis", "a", "", "check a single virtual axis")
	return cmd
}

func newLimitsCmd(run runner, opts *rootOptions) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "limits [ETA KAPPA PHI]",
		Short: "Show or set the per-axis step limits",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 3 {
				return fmt.Errorf("expected no arguments or ETA KAPPA PHI, got %d arguments", len(args))
			}
			return nil
		},
		RunE: run(func(a *app, cmd *cobra.Command, args []string) error {
			if err := a.limits(cmd.OutOrStdout(), args); err != nil {
				return err
			}
			if save && len(args) == 3 {
				if opts.configPath == "" {
					return fmt.Errorf("--save needs --config")
				}
				a.cfg.StepLimits = a.stage.StepLimits()
				return a.cfg.Save(opts.configPath)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&save, "save", false, "write new limits back to the configuration file")
	return cmd
}

func newHistoryCmd(run runner) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent moves from the journal",
		Args:  cobra.NoArgs,
		RunE: run(func(a *app, cmd *cobra.Command, args []string) error {
			return a.history(cmd.Context(), cmd.OutOrStdout(), n)
		}),
	}
	cmd.Flags().IntVarP(&n, "count", "n", 20, "number of moves to list")
	return cmd
}

func (a *app) where(w io.Writer) error {
	table, err := a.stage.Table()
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, table)
	return err
}

func (a *app) move(ctx context.Context, w io.Writer, axisName string, args []string, timeout time.Duration) error {
	target, err := a.target(axisName, args)
	if err != nil {
		return err
	}
	if err := a.stage.MoveAndWait(ctx, target, timeout); err != nil {
		return err
	}
	return a.where(w)
}

func (a *app) check(w io.Writer, axisName string, args []string) error {
	target, err := a.target(axisName, args)
	if err != nil {
		return err
	}
	if err := a.stage.CheckValue(target); err != nil {
		return err
	}
	sp, err := a.stage.Setpoint(target)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s reachable at %s\n", target, sp)
	return nil
}

func (a *app) limits(w io.Writer, args []string) error {
	if len(args) == 3 {
		v, err := parseFloats(args)
		if err != nil {
			return err
		}
		if err := a.stage.SetStepLimits(safety.StepLimits{Eta: v[0], Kappa: v[1], Phi: v[2]}); err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "step limits: %s\n", a.stage.StepLimits())
	return nil
}

func (a *app) history(ctx context.Context, w io.Writer, n int) error {
	if a.journal == nil {
		return config.NewConfigError("journal", "path", "must be specified to list history")
	}
	entries, err := a.journal.Recent(ctx, a.cfg.Name, n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "no moves recorded")
		return nil
	}
	for _, e := range entries {
		prompted := ""
		if e.Prompted {
			prompted = " (confirmed)"
		}
		fmt.Fprintf(w, "%s  %-14s %s%s", e.Time.Local().Format(time.DateTime), e.Outcome, e.Requested, prompted)
		if e.Error != "" {
			fmt.Fprintf(w, "  %s", e.Error)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// target parses either three virtual coordinates or one value for axisName.
func (a *app) target(axisName string, args []string) (kinematics.VirtualPosition, error) {
	if axisName == "" {
		if len(args) != 3 {
			return kinematics.VirtualPosition{}, fmt.Errorf("expected E_ETA E_CHI E_PHI, got %d values", len(args))
		}
		v, err := parseFloats(args)
		if err != nil {
			return kinematics.VirtualPosition{}, err
		}
		return kinematics.VirtualPosition{EEta: v[0], EChi: v[1], EPhi: v[2]}, nil
	}
	if len(args) != 1 {
		return kinematics.VirtualPosition{}, fmt.Errorf("--axis takes one value, got %d", len(args))
	}
	va, err := a.virtualAxis(axisName)
	if err != nil {
		return kinematics.VirtualPosition{}, err
	}
	v, err := parseFloats(args)
	if err != nil {
		return kinematics.VirtualPosition{}, err
	}
	return va.Target(v[0])
}

func (a *app) virtualAxis(name string) (*positioner.VirtualAxis, error) {
	for _, va := range []*positioner.VirtualAxis{a.stage.EEta(), a.stage.EChi(), a.stage.EPhi()} {
		if strings.EqualFold(va.Name(), name) {
			return va, nil
		}
	}
	return nil, fmt.Errorf("unknown virtual axis %q (valid: e_eta, e_chi, e_phi)", name)
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, s := range args {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", s)
		}
		out[i] = v
	}
	return out, nil
}
