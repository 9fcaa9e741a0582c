package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"apptrigger/internal/hook"
)

var keysFor time.Duration

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Print every key event seen by the global keyboard hook",
	Long: `keys installs the keyboard hook with no filter and prints each key-down and key-up
in the notation Keybind triggers use, until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		if keysFor > 0 {
			var stop context.CancelFunc
			ctx, stop = context.WithTimeout(ctx, keysFor)
			defer stop()
		}

		h, err := hook.NewWatcher().Start(nil)
		if err != nil {
			return err
		}
		defer h.Stop()

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Listening for keys, press Ctrl+C to stop")
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-h.Events():
				chord := hook.Chord{Key: ev.Key, Modifiers: ev.Modifiers}
				fmt.Fprintf(out, "%s  %-20s %s\n", ev.Time.Format("15:04:05.000"), chord, direction(ev))
			}
		}
	},
}

func direction(ev hook.KeyEvent) string {
	switch {
	case !ev.Down:
		return "up"
	case ev.Repeat:
		return "repeat"
	}
	return "down"
}

func init() {
	keysCmd.Flags().DurationVar(&keysFor, "for", 0, "Stop after this long")
}
