package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newCollectionsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"coll"},
		Short:   "List or delete collections",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List collections with what the catalog knows about them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd.Context(), func(svc service) error {
				list, err := svc.Collections(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tTYPE\tCHUNKS\tMODEL\tINGESTED")
				for _, ci := range list {
					if ci.Entry == nil {
						fmt.Fprintf(tw, "%s\t-\t-\t-\t-\n", ci.Name)
						continue
					}
					e := ci.Entry
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", ci.Name, e.FileType, e.Chunks, e.EmbedModel, e.IngestedAt.Local().Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	}, &cobra.Command{
		Use:   "delete <name>...",
		Short: "Delete collections and their points",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withService(cmd.Context(), func(svc service) error {
				for _, name := range args {
					if err := svc.Delete(cmd.Context(), name); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
				}
				return nil
			})
		},
	})
	return cmd
}

func newResetCmd(c *cli) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every collection (needs store.allow_reset)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("reset deletes every collection; pass --yes to confirm")
			}
			return c.withService(cmd.Context(), func(svc service) error {
				n, err := svc.Reset(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d collections\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}
