package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"apptrigger/internal/control"
)

var (
	controlSubject string
	remoteTimeout  time.Duration
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Control a running triggerd over NATS",
}

func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *control.Client) error) error {
	url := natsURL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name("triggerctl"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), remoteTimeout)
	defer cancel()
	return fn(ctx, control.NewClient(nc, controlSubject))
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the daemon's triggers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *control.Client) error {
			st, err := c.List(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Profile: %s  keyboard hook: %v\n", st.Profile, st.KeyboardHook)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TRIGGER\tKIND\tSTATE\tCONDITIONS\tACTIONS")
			for _, t := range st.Triggers {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", t.Name, t.Kind, t.State, t.Conditions, t.Actions)
			}
			return tw.Flush()
		})
	},
}

var remoteFireCmd = &cobra.Command{
	Use:   "fire <trigger>",
	Short: "Fire a Button trigger on the daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *control.Client) error {
			act, err := c.Fire(ctx, args[0])
			if err != nil {
				return err
			}
			printActivation(cmd, act)
			return nil
		})
	},
}

var remoteRaiseCmd = &cobra.Command{
	Use:   "raise <event>",
	Short: "Raise a system event on the daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *control.Client) error {
			n, err := c.Raise(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reached %d trigger(s)\n", args[0], n)
			return nil
		})
	},
}

func init() {
	remoteCmd.PersistentFlags().StringVar(&controlSubject, "control-subject", control.DefaultSubjectPrefix, "Subject prefix of the daemon's control endpoints")
	remoteCmd.PersistentFlags().DurationVar(&remoteTimeout, "timeout", 30*time.Second, "Request timeout")
	remoteCmd.AddCommand(remoteListCmd, remoteFireCmd, remoteRaiseCmd)
	rootCmd.AddCommand(remoteCmd)
}
