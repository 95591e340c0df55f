package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"imbridge/internal/config"
	"imbridge/internal/scenario"
)

func newReplayCmd() *cobra.Command {
	var (
		showEvents bool
		recordPath string
	)
	cmd := &cobra.Command{
		Use:   "replay <script>",
		Short: "Replay a scripted session against a bridge and check its expectations",
		Long: `Replays a YAML script of protocol requests against a bridge wired to
recording fakes. Bindings and keyboard settings come from the
configuration unless the script sets its own bindings. A configured
keymap_path is loaded and shared as a real keymap file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Close()

			script, err := scenario.LoadFile(args[0])
			if err != nil {
				return err
			}

			opts := scenario.Options{
				Bindings: cfg.InputMethod.Bindings,
				Logger:   logger,
			}
			if cfg.Keyboard.KeymapPath != "" {
				seat, err := newSeat(cfg)
				if err != nil {
					return err
				}
				defer seat.Close()
				opts.Seat = seat
			}

			res, err := scenario.Run(cmd.Context(), script, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if showEvents {
				for _, e := range res.Events {
					fmt.Fprintln(out, e)
				}
				for _, k := range res.Forwarded {
					fmt.Fprintf(out, "keyboard.key(%d, %s, %d, %d)\n", k.Code, k.State, k.Serial, k.Time)
				}
			}
			for _, f := range res.Failures {
				fmt.Fprintln(cmd.ErrOrStderr(), f)
			}

			name := script.Name
			if name == "" {
				name = args[0]
			}
			fmt.Fprintf(out, "%s: %d steps, %d events, %d keys forwarded, %d failures\n",
				name, res.Steps, len(res.Events), len(res.Forwarded), len(res.Failures))
			if cmd.Flags().Changed("record") {
				seatName := script.Seat
				if seatName == "" {
					seatName = cfg.Seat.Name
				}
				id, err := recordRun(cmd, recordPath, name, seatName, res)
				if err != nil {
					return fmt.Errorf("record run: %w", err)
				}
				fmt.Fprintf(out, "recorded run %d in %s\n", id, recordPath)
			}
			if !res.OK() {
				return fmt.Errorf("%d expectations failed", len(res.Failures))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showEvents, "events", false, "print every recorded event")
	cmd.Flags().StringVar(&recordPath, "record", config.RunsPath(), "store the run in a database (--record[=path])")
	cmd.Flags().Lookup("record").NoOptDefVal = config.RunsPath()
	return cmd
}
