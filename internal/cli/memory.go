package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/mnemo/internal/engine"
	"github.com/lazypower/mnemo/internal/sector"
)

var (
	memNamespace string
	addSector    string
	addTags      []string
	queryK       int
	querySectors []string
	queryJSON    bool
)

var addCmd = &cobra.Command{
	Use:   "add [content]",
	Short: "Store a memory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Retrieve memories ranked by composite score",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	for _, c := range []*cobra.Command{addCmd, queryCmd} {
		c.Flags().StringVarP(&memNamespace, "namespace", "N", "default", "Namespace")
	}
	addCmd.Flags().StringVarP(&addSector, "sector", "s", "", "Primary sector hint")
	addCmd.Flags().StringSliceVarP(&addTags, "tag", "t", nil, "Tags (repeatable)")

	queryCmd.Flags().IntVarP(&queryK, "limit", "n", 0, "Maximum number of results (default from config)")
	queryCmd.Flags().StringSliceVarP(&querySectors, "sector", "s", nil, "Restrict to sectors")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "Print results as JSON")
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.engine.Add(ctx, engine.AddInput{
		Namespace: memNamespace,
		Content:   strings.Join(args, " "),
		Sector:    sector.Sector(strings.ToLower(addSector)),
		Tags:      addTags,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s  %s %v\n", res.ID, res.PrimarySector, res.Sectors)
	if res.Waypoint != nil {
		fmt.Printf("  -> %s (%.3f)\n", res.Waypoint.DstID, res.Waypoint.Weight)
	}
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	sectors, err := sector.ParseList(querySectors)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	results, err := a.engine.Query(ctx, engine.QueryInput{
		Namespace: memNamespace,
		Text:      strings.Join(args, " "),
		K:         queryK,
		Sectors:   sectors,
	})
	if err != nil {
		return err
	}

	if queryJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	for i, r := range results {
		via := ""
		if r.ViaWaypoint {
			via = " via waypoint"
		}
		fmt.Printf("%d. [%.3f] %s (%s%s)\n", i+1, r.Score, r.ID, r.Sector, via)
		fmt.Printf("   %s\n", r.Snippet)
	}
	return nil
}
