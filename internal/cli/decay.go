package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run one salience and confidence decay cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		report, err := a.scheduler.RunCycle(ctx)
		if err != nil {
			return err
		}
		stats := a.scheduler.Stats()
		fmt.Printf("examined %d, decayed %d, skipped %d, failed %d\n",
			report.Examined, report.Decayed, report.Skipped, report.Failed)
		if stats.LastError != "" {
			fmt.Fprintf(os.Stderr, "warning: %s\n", stats.LastError)
		}
		return nil
	},
}

var nsCmd = &cobra.Command{
	Use:   "ns",
	Short: "Inspect namespaces",
}

var nsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List namespaces with memory and fact counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		list, err := a.engine.Registry.List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tMEMORIES\tFACTS\tLAST DECAY\tDESCRIPTION")
		for _, ns := range list {
			last := "never"
			if !ns.LastDecayAt.IsZero() {
				last = ns.LastDecayAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", ns.Name, ns.Memories, ns.Facts, last, ns.Description)
		}
		return tw.Flush()
	},
}

func init() {
	nsCmd.AddCommand(nsListCmd)
}
