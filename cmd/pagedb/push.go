package main

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/pagedb"
	"github.com/hupe1980/pagedb/persistence"
)

type transferReport struct {
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Generation uint64 `json:"generation"`
	Path       string `json:"path"`
}

// containerArgs resolves the kind flag and the optional name argument.
// Libraries have fixed names and take none.
func containerArgs(kindName string, args []string) (pagedb.Kind, string, error) {
	kind, err := persistence.ParseKind(kindName)
	if err != nil {
		return 0, "", err
	}
	if kind != pagedb.KindDesign {
		if len(args) > 0 {
			return 0, "", errLibraryName
		}
		return kind, "", nil
	}
	if len(args) != 1 {
		return 0, "", errDesignName
	}
	return kind, args[0], nil
}

func newPushCmd(c *cli) *cobra.Command {
	var kindName string
	cmd := &cobra.Command{
		Use:   "push [name]",
		Short: "Publish a saved container triad to the blob store",
		Long: `The push command uploads the triad of a container from the design directory
as the next generation in PAGEDB_STORE_URL and commits it.

Example:
  pagedb push top
  pagedb push --kind tech`,
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

			commit, err := db.Publish(cmd.Context(), kind, name)
			if err != nil {
				return err
			}
			r := transferReport{Kind: kind.String(), Name: name, Generation: commit.Generation, Path: commit.Path}
			if c.jsonOut {
				return c.printJSON(r)
			}
			c.printf("published %s generation %d to %s\n", displayName(kind, name), r.Generation, r.Path)
			return nil
		},
	}
	kindFlag(cmd, &kindName)
	return cmd
}

func displayName(kind pagedb.Kind, name string) string {
	if kind == pagedb.KindDesign {
		return name
	}
	return kind.String()
}
