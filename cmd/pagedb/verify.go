package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/pagedb/persistence"
)

type verifyResult struct {
	File  string `json:"file"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func newVerifyCmd(c *cli) *cobra.Command {
	var headerOnly bool
	cmd := &cobra.Command{
		Use:   "verify <file.db>...",
		Short: "Check container images for corruption",
		Long: `The verify command checks the trailer checksum of each image and, unless
--header-only is given, decompresses every chunk. It exits non-zero when
any image is damaged.

Example:
  pagedb verify top.db Libs/tech.db Libs/timing.db`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}

			results := make([]verifyResult, 0, len(args))
			failed := 0
			for _, file := range args {
				err := verifyImage(cmd.Context(), file, cfg.Workers, headerOnly)
				r := verifyResult{File: file, OK: err == nil}
				if err != nil {
					failed++
					r.Error = err.Error()
				}
				results = append(results, r)
			}

			if c.jsonOut {
				if err := c.printJSON(results); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					if r.OK {
						c.printf("ok       %s\n", r.File)
					} else {
						c.printf("CORRUPT  %s: %s\n", r.File, r.Error)
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d images failed verification", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&headerOnly, "header-only", false, "Only verify the header checksum")
	return cmd
}

func verifyImage(ctx context.Context, file string, workers int, headerOnly bool) error {
	if headerOnly {
		_, err := persistence.InspectImageFile(file)
		return err
	}

	var opts []persistence.Option
	if workers > 0 {
		opts = append(opts, persistence.WithWorkers(workers))
	}
	p, _, err := persistence.ReadImageFile(ctx, file, opts...)
	if err != nil {
		return err
	}
	return p.Close()
}
