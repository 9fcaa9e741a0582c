// Command emit_test_events raises system events on a running triggerd through NATS.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"apptrigger/internal/event"
)

var (
	natsURL string
	subject string
	stream  string
	plain   bool
)

var rootCmd = &cobra.Command{
	Use:   "emit_test_events [event-name...]",
	Short: "Publish system events for SystemEvent triggers",
	Args:  cobra.MinimumNArgs(1),
	RunE:  emit,
}

func init() {
	rootCmd.Flags().StringVar(&natsURL, "nats-url", nats.DefaultURL, "NATS server URL")
	rootCmd.Flags().StringVar(&subject, "subject", "apptrigger.system", "Subject prefix; the event name is appended")
	rootCmd.Flags().StringVar(&stream, "stream", "", "Publish through this JetStream stream, creating it if needed")
	rootCmd.Flags().BoolVar(&plain, "plain", false, "Send the bare event name instead of a CloudEvent")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func emit(cmd *cobra.Command, names []string) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	var js nats.JetStreamContext
	if stream != "" {
		if js, err = ensureStream(nc); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, name := range names {
		data := []byte(name)
		if !plain {
			ce := event.NewSystemEvent(name, "emit_test_events")
			if data, err = ce.MarshalJSON(); err != nil {
				return err
			}
		}

		subj := subject + "." + name
		if js != nil {
			_, err = js.Publish(subj, data, nats.Context(ctx))
		} else {
			err = nc.Publish(subj, data)
		}
		if err != nil {
			return fmt.Errorf("failed to publish %s: %w", name, err)
		}
		fmt.Printf("published %s on %s\n", name, subj)
	}
	return nc.FlushWithContext(ctx)
}

func ensureStream(nc *nats.Conn) (nats.JetStreamContext, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// Create stream if it doesn't exist
	info, err := js.StreamInfo(stream)
	if err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     stream,
			Subjects: []string{subject + ".>"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	} else {
		fmt.Printf("using existing stream: %s\n", info.Config.Name)
	}
	return js, nil
}
