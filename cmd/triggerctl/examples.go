package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"apptrigger/internal/profile"
)

var examplesCmd = &cobra.Command{
	Use:   "examples",
	Short: "Print an example profile covering every trigger kind",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// the example must stay valid
		if _, err := profile.Decode([]byte(exampleProfile)); err != nil {
			return fmt.Errorf("built-in example is invalid: %w", err)
		}
		_, err := fmt.Fprint(cmd.OutOrStdout(), exampleProfile)
		return err
	},
}

const exampleProfile = `# Example profile. Save as <name>.yaml and run: triggerctl import <name>.yaml
version: 1.0.0.0
name: example
scan_interval_ms: 2000
autostart: false
triggers:
  # Example 1: open the editor with a hotkey, or focus it when already running
  - name: editor-hotkey
    kind: Keybind
    key: Ctrl+Alt+E
    eat_key: true
    actions:
      - kind: Launch
        executable_path: /usr/bin/gedit
        conditions:
          - kind: ProcessNotRunning
            process_name: gedit
      - kind: Focus
        target: gedit
        conditions:
          - kind: ProcessRunning
            process_name: gedit

  # Example 2: close the chat client while a game runs, during working hours only
  - name: game-started
    kind: AppLaunch
    process_name: game
    cooldown_ms: 10000
    conditions:
      - kind: TimeRange
        start_time: "09:00"
        end_time: "18:00"
      - kind: DayOfWeek
        days: [Mon, Tue, Wed, Thu, Fri]
    actions:
      - kind: Close
        target: chat
        include_child_processes: true
        force_operation: true
        timeout_ms: 3000

  # Example 3: reopen the chat client when the game exits
  - name: game-closed
    kind: AppClose
    process_name: game
    actions:
      - kind: Launch
        executable_path: /usr/bin/chat

  # Example 4: restart the dashboard when the local API comes up
  - name: api-up
    kind: NetworkPort
    address: 127.0.0.1
    port: 8080
    port_event: Opened
    polling_interval_ms: 1000
    timeout_ms: 500
    actions:
      - kind: Restart
        target: dashboard
        executable_path: /opt/dashboard/dashboard
        arguments: --port 8080 --open
      - kind: BringToFront
        target: dashboard
        conditions:
          - kind: PreviousActionSuccess

  # Example 5: start the sync agent once the machine has been up for a minute
  - name: on-startup
    kind: SystemEvent
    event_name: startup
    conditions:
      - kind: Expression
        expression: uptime_seconds > 60 && !process("sync-agent")
    actions:
      - kind: Launch
        executable_path: /usr/bin/sync-agent

  # Example 6: a manual button that minimizes every browser window
  - name: hide-browsers
    kind: Button
    description: Minimize all browser windows
    actions:
      - kind: Minimize
        target: firefox
        include_similar_names: true
`
