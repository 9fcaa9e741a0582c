package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"apptrigger/internal/event"
	"apptrigger/internal/logging"
	"apptrigger/internal/profile"
	"apptrigger/internal/trigger"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Check profile files for configuration errors",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, path := range args {
			p, err := profile.Load(path)
			if err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
				continue
			}
			// CreateTrigger runs the same checks the engine does at registration.
			for _, d := range p.Triggers {
				if _, err := trigger.CreateTrigger(d); err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d trigger(s), version %s\n", path, len(p.Triggers), p.Version)
		}
		if failed > 0 {
			return fmt.Errorf("%d error(s)", failed)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		names, err := store.List(ctx)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No profiles found")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PROFILE\tVERSION\tTRIGGERS\tAUTOSTART")
		for _, name := range names {
			p, err := store.Load(ctx, name)
			if err != nil {
				fmt.Fprintf(tw, "%s\t-\t-\t%v\n", name, err)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%v\n", name, p.Version, len(p.Triggers), p.Autostart)
		}
		return tw.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <profile|file>",
	Short: "Show the triggers of a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Profile: %s (version %s, scan interval %dms)\n", p.Name, p.Version, p.ScanIntervalMs)
		for _, d := range p.Triggers {
			state := "active"
			if d.Inactive {
				state = "inactive"
			}
			fmt.Fprintf(out, "\nTrigger: %s [%s, %s]\n", d.Name, d.Kind, state)
			if d.Description != "" {
				fmt.Fprintf(out, "  %s\n", d.Description)
			}
			if detail := detectionDetail(d); detail != "" {
				fmt.Fprintf(out, "  On: %s\n", detail)
			}
			for _, c := range d.Conditions {
				fmt.Fprintf(out, "  If: %s\n", c)
			}
			for i, a := range d.Actions {
				fmt.Fprintf(out, "  %d. %s\n", i+1, a)
			}
		}
		return nil
	},
}

func detectionDetail(d trigger.Descriptor) string {
	switch d.Kind {
	case trigger.Keybind:
		if c, err := d.Chord(); err == nil {
			return c.String()
		}
	case trigger.AppLaunch, trigger.AppClose:
		return d.ProcessName
	case trigger.NetworkPort:
		addr := d.Address
		if addr == "" {
			addr = "127.0.0.1"
		}
		edge := d.PortEvent
		if edge == "" {
			edge = "Opened"
		}
		return fmt.Sprintf("%s:%d %s", addr, d.Port, edge)
	case trigger.SystemEvent:
		return d.EventName
	}
	return ""
}

var (
	fireTimeout time.Duration
	fireVerbose bool
)

var fireCmd = &cobra.Command{
	Use:   "fire <profile|file> <trigger>",
	Short: "Run a trigger's conditions and actions once, in this process",
	Long: `fire evaluates the named trigger's conditions and, when they pass, runs its actions
on this machine exactly as the daemon would. Any trigger kind can be fired this way.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		d, ok := p.Trigger(args[1])
		if !ok {
			return fmt.Errorf("%w: %s", trigger.ErrTriggerNotFound, args[1])
		}

		level := "warn"
		if fireVerbose {
			level = "debug"
		}
		log, err := logging.New(level, false)
		if err != nil {
			return err
		}
		defer logging.Sync(log)

		// Fire only accepts Button triggers, so the descriptor is run as one.
		d.Kind = trigger.Button
		d.Inactive = false
		engine := trigger.NewEngine(trigger.WithLogger(log))
		defer engine.Close()
		if _, err := engine.Register(d); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), fireTimeout)
		defer cancel()
		act, err := engine.Fire(ctx, d.Name)
		if err != nil {
			return err
		}
		printActivation(cmd, act)
		if !act.Succeeded() {
			return fmt.Errorf("trigger %s did not complete", d.Name)
		}
		return nil
	},
}

func printActivation(cmd *cobra.Command, act *event.Activation) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, act.Summary())
	for _, o := range act.Actions {
		status := "skipped"
		switch {
		case o.Executed && o.Success:
			status = "ok"
		case o.Executed:
			status = "failed"
		}
		line := fmt.Sprintf("  %-12s %-20s %-7s %dms", o.Kind, o.Target, status, o.DurationMs)
		if o.Error != "" {
			line += "  " + o.Error
		}
		fmt.Fprintln(out, strings.TrimRight(line, " "))
	}
}

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <profile>",
	Short: "Write a stored profile to stdout as YAML or JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		var data []byte
		switch strings.ToLower(exportFormat) {
		case "yaml", "yml":
			data, err = p.ToYAML()
		case "json":
			data, err = p.ToJSON()
			data = append(data, '\n')
		default:
			return fmt.Errorf("unknown format %q", exportFormat)
		}
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var importName string

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Validate a JSON or YAML profile file and store it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return storeProfileFile(cmd, args[0])
	},
}

var pushCmd = &cobra.Command{
	Use:   "push <file>",
	Short: "Store a profile in the NATS bucket so running daemons reload it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if natsURL == "" {
			return fmt.Errorf("push requires --nats-url")
		}
		return storeProfileFile(cmd, args[0])
	},
}

func storeProfileFile(cmd *cobra.Command, path string) error {
	p, err := profile.Load(path)
	if err != nil {
		return err
	}
	if importName != "" {
		p.Name = importName
	}

	ctx := cmd.Context()
	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := store.Save(ctx, p); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Profile %s stored (%d triggers)\n", p.Name, len(p.Triggers))
	return nil
}

var deleteCmd = &cobra.Command{
	Use:   "delete <profile>",
	Short: "Delete a stored profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()
		if err := store.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Profile %s deleted\n", args[0])
		return nil
	},
}

func init() {
	fireCmd.Flags().DurationVar(&fireTimeout, "timeout", 30*time.Second, "Give up waiting for the actions after this long")
	fireCmd.Flags().BoolVarP(&fireVerbose, "verbose", "v", false, "Log condition and action details")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "yaml", "Output format: yaml or json")
	importCmd.Flags().StringVar(&importName, "name", "", "Store under this name instead of the profile's own")
	pushCmd.Flags().StringVar(&importName, "name", "", "Store under this name instead of the profile's own")
}
