package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func NewListCmd(deps *Dependencies) *cobra.Command {
	var page, pageSize int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := deps.Source.List(cmd.Context(), page, pageSize)
			if err != nil {
				return err
			}
			if len(res.Items) == 0 {
				fmt.Fprintln(deps.Out, "No recordings found")
				return nil
			}

			tw := tabwriter.NewWriter(deps.Out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tDURATION\tCREATED")
			for _, r := range res.Items {
				duration := "-"
				if r.DurationSeconds != nil {
					duration = formatClock(int64(*r.DurationSeconds) * 1000)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Status, duration, r.CreatedAt.Format("2006-01-02 15:04"))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(deps.Out, "page %d of %d (%d recordings)\n", res.Page, res.TotalPages, res.Total)
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "Recordings per page (max 100)")

	return cmd
}

// formatClock renders milliseconds as m:ss.
func formatClock(ms int64) string {
	s := ms / 1000
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
