package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"imbridge/internal/config"
	"imbridge/internal/scenario"
	"imbridge/internal/store"
)

const flagDB = "db"

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [sub-command]",
		Short: "Inspect replay runs recorded with replay --record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().String(flagDB, config.RunsPath(), "run database")

	cmd.AddCommand(newRunsListCmd())
	cmd.AddCommand(newRunsShowCmd())
	cmd.AddCommand(newRunsVerifyCmd())
	cmd.AddCommand(newRunsDeleteCmd())
	return cmd
}

func openRuns(cmd *cobra.Command) (*store.Store, error) {
	path, _ := cmd.Flags().GetString(flagDB)
	return store.Open(path)
}

func runID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", arg)
	}
	return id, nil
}

func newRunsListCmd() *cobra.Command {
	var (
		script string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openRuns(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context(), script, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tSCRIPT\tSEAT\tSTEPS\tEVENTS\tKEYS\tFAILURES\tDIGEST")
			for _, r := range runs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%x\n",
					r.ID, r.StartedAt.Format(time.RFC3339), r.Script, r.Seat,
					r.Steps, r.EventCount, r.KeyCount, r.FailureCount, r.Digest[:8])
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&script, "script", "", "only runs of this script")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list (0 for all)")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print the transcript of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := runID(args[0])
			if err != nil {
				return err
			}
			st, err := openRuns(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := st.Run(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %d (%s) %s on %s at %s\n",
				run.ID, run.UUID, run.Script, run.Seat, run.StartedAt.Format(time.RFC3339))
			for _, e := range run.Events {
				if e.Args == "" {
					fmt.Fprintf(out, "#%d.%s\n", e.Object, e.Name)
				} else {
					fmt.Fprintf(out, "#%d.%s(%s)\n", e.Object, e.Name, e.Args)
				}
			}
			for _, k := range run.Keys {
				fmt.Fprintf(out, "keyboard.key(%d, %s, %d, %d)\n", k.Code, k.State, k.Serial, k.Time)
			}
			for _, f := range run.Failures {
				fmt.Fprintf(out, "failure: step %d (%s): %s\n", f.Step, f.Op, f.Message)
			}
			return nil
		},
	}
}

func newRunsVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <id>",
		Short: "Check a run's transcript against its recorded digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := runID(args[0])
			if err != nil {
				return err
			}
			st, err := openRuns(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Verify(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %d: ok\n", id)
			return nil
		},
	}
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := runID(args[0])
			if err != nil {
				return err
			}
			st, err := openRuns(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			return st.DeleteRun(cmd.Context(), id)
		},
	}
}

// recordRun stores the outcome of a replay in the database at path.
func recordRun(cmd *cobra.Command, path, name, seat string, res *scenario.Result) (int64, error) {
	st, err := store.Open(path)
	if err != nil {
		return 0, err
	}
	defer st.Close()

	run := &store.Run{Script: name, Seat: seat, Steps: res.Steps}
	for i, e := range res.Events {
		run.Events = append(run.Events, store.Event{
			Ordinal: i,
			Object:  uint64(e.Object),
			Name:    e.Name,
			Args:    e.ArgString(),
		})
	}
	for i, k := range res.Forwarded {
		run.Keys = append(run.Keys, store.Key{
			Ordinal: i,
			Code:    k.Code,
			State:   k.State.String(),
			Serial:  k.Serial,
			Time:    k.Time,
		})
	}
	for _, f := range res.Failures {
		run.Failures = append(run.Failures, store.Failure{Step: f.Step, Op: f.Op, Message: f.Message})
	}
	return st.InsertRun(cmd.Context(), run)
}
