package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hupe1980/pagedb"
)

// cli holds the global flags shared by every command.
type cli struct {
	envFile string
	dir     string
	jsonOut bool
	quiet   bool

	out io.Writer
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "pagedb",
		Short: "Inspect, verify and move pagedb container triads",
		Long: `pagedb works on the files of a design directory: <name>.db images with
their .sym and .poly side files, and the shared libraries under Libs/.

Configuration is read from a .env file and PAGEDB_* environment variables.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			c.out = cmd.OutOrStdout()
		},
	}

	root.PersistentFlags().StringVar(&c.envFile, "env", ".env", "Environment file read before PAGEDB_* variables")
	root.PersistentFlags().StringVarP(&c.dir, "dir", "C", "", "Design directory (overrides PAGEDB_DIR)")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "Output in JSON format")
	root.PersistentFlags().BoolVarP(&c.quiet, "quiet", "q", false, "Suppress all output except errors")

	root.AddCommand(
		newInspectCmd(c),
		newVerifyCmd(c),
		newPushCmd(c),
		newPullCmd(c),
	)
	return root
}

func (c *cli) config() (pagedb.Config, error) {
	cfg, err := pagedb.LoadConfig(c.envFile)
	if err != nil {
		return pagedb.Config{}, err
	}
	if c.dir != "" {
		cfg.Dir = c.dir
	}
	return cfg, nil
}

// openRemote opens the design directory with the configured blob store.
func (c *cli) openRemote(ctx context.Context) (*pagedb.DB, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	remote, err := remoteOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return pagedb.Open(cfg.Dir, append(opts, remote...)...)
}

func (c *cli) printf(format string, args ...any) {
	if !c.quiet {
		fmt.Fprintf(c.out, format, args...)
	}
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func kindFlag(cmd *cobra.Command, kind *string) {
	cmd.Flags().StringVarP(kind, "kind", "k", "design", "Container kind: design, tech or timing")
}
