// Command triggerctl validates, inspects and manages trigger profiles.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"apptrigger/internal/profile"
)

var (
	profileDir string
	natsURL    string
	kvBucket   string
)

var rootCmd = &cobra.Command{
	Use:          "triggerctl",
	Short:        "Manage application trigger profiles",
	SilenceUsage: true,
}

func init() {
	defaultDir := "profiles"
	if cfgDir, err := os.UserConfigDir(); err == nil {
		defaultDir = filepath.Join(cfgDir, "apptrigger", "profiles")
	}
	rootCmd.PersistentFlags().StringVar(&profileDir, "profile-dir", defaultDir, "Directory holding profile files")
	rootCmd.PersistentFlags().StringVar(&natsURL, "nats-url", "", "Use the NATS profile bucket at this server instead of the directory")
	rootCmd.PersistentFlags().StringVar(&kvBucket, "bucket", "apptrigger_profiles", "NATS key-value bucket holding profiles")

	rootCmd.AddCommand(validateCmd, listCmd, showCmd, fireCmd, exportCmd, importCmd, pushCmd, deleteCmd, examplesCmd, keysCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore returns the NATS bucket when --nats-url is set and the profile directory
// otherwise. The returned close func releases the connection.
func openStore(ctx context.Context) (profile.Store, func(), error) {
	if natsURL == "" {
		return profile.NewFileStore(profileDir), func() {}, nil
	}
	nc, err := nats.Connect(natsURL, nats.Name("triggerctl"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	store, err := profile.NewNATSStore(nc, kvBucket, nil)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return store, nc.Close, nil
}

// loadProfile reads a profile from a file path when arg names an existing file, and
// from the store otherwise.
func loadProfile(ctx context.Context, arg string) (*profile.Profile, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		return profile.Load(arg)
	}
	store, closeStore, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore()
	return store.Load(ctx, arg)
}
