// cmd/loan-catalog/refresh.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"loan-catalog/internal/pipeline"

	"github.com/spf13/cobra"
)

func refreshCmd() *cobra.Command {
	var (
		source string
		job    string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch and validate sources once and print the counts",
		Example: `  loan-catalog refresh --source static
  loan-catalog refresh --source scheduler --job apiRefresh`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			log := newLogger(cfg)

			b, err := connectBackends(ctx, cfg, 3, log)
			if err != nil {
				return err
			}
			defer b.close()

			p, err := pipeline.New(cfg, b.dependencies(), log)
			if err != nil {
				return err
			}

			out, err := p.Refresh(ctx, pipeline.RefreshRequest{Source: source, Job: job})
			if out == nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(out); encErr != nil {
					return encErr
				}
				return err
			}

			fmt.Fprintf(w, "refreshed %d records (%d checked, %d invalid)\n",
				out.Refreshed, out.Validation.Total, out.Validation.Invalid)
			names := make([]string, 0, len(out.PerSource))
			for name := range out.PerSource {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(w, "  %-10s %d\n", name, out.PerSource[name])
			}
			for _, name := range out.Failed {
				fmt.Fprintf(w, "  %-10s failed\n", name)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "all", "source to refresh (static, api, scraped, all, scheduler)")
	cmd.Flags().StringVar(&job, "job", "", "scheduler job to run when --source=scheduler")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "print the result as JSON")
	return cmd
}
