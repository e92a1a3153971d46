package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	errDesignName  = errors.New("a design container needs exactly one name")
	errLibraryName = errors.New("libraries have fixed names; drop the name argument")
)

func newPullCmd(c *cli) *cobra.Command {
	var kindName string
	cmd := &cobra.Command{
		Use:   "pull [name]",
		Short: "Fetch the committed container triad from the blob store",
		Long: `The pull command downloads the committed generation of a container from
PAGEDB_STORE_URL, replaces the local triad atomically and verifies it by
loading it.

Example:
  pagedb pull top
  pagedb pull --kind timing`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, name, err := containerArgs(kindName, args)
			if err != nil {
				return err
			}
			db, err := c.openRemote(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			commit, err := db.Published(cmd.Context(), kind, name)
			if err != nil {
				return err
			}
			ct, err := db.Fetch(cmd.Context(), kind, name)
			if err != nil {
				return err
			}

			r := transferReport{Kind: kind.String(), Name: name, Generation: commit.Generation, Path: commit.Path}
			if c.jsonOut {
				return c.printJSON(r)
			}
			st := ct.Stats()
			c.printf("fetched %s generation %d from %s (%d pages, %d symbols, %d polygons)\n",
				displayName(kind, name), r.Generation, r.Path, st.Pages, ct.Symbols().Len(), ct.Polygons().Len())
			return nil
		},
	}
	kindFlag(cmd, &kindName)
	return cmd
}
