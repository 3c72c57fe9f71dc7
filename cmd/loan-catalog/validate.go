// cmd/loan-catalog/validate.go
package main

import (
	"encoding/json"
	"fmt"

	"loan-catalog/internal/common/validation"
	"loan-catalog/internal/models"
	"loan-catalog/pkg/dataset"

	"github.com/spf13/cobra"
)

func validateCmd() *cobra.Command {
	var (
		asJSON  bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "validate [dataset.json]",
		Short: "Check a static dataset file against the canonical schema",
		Long: `Validate every scheme in a dataset file and report the outcome.
Without a path the embedded dataset is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				ds  *dataset.Dataset
				err error
			)
			if len(args) == 1 {
				ds, err = dataset.Load(args[0])
			} else {
				ds, err = dataset.Default()
			}
			if err != nil {
				return err
			}

			raws := make([]models.RawRecord, len(ds.Schemes))
			for i, s := range ds.Schemes {
				raws[i] = s
			}

			stats := validation.NewStats(len(raws))
			result := validation.NewValidator(stats).ValidateBatch(raws, models.SourceStatic)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(map[string]interface{}{
					"counts":  result.Counts,
					"invalid": result.Invalid,
					"stats":   stats.GetStats(),
				}); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "dataset version %s: %d records, %d valid, %d invalid\n",
					ds.Version, result.Counts.Total, result.Counts.Valid, result.Counts.Invalid)
				for _, inv := range result.Invalid {
					fmt.Fprintf(out, "  #%d %s\n", inv.Index, inv.ID)
					for _, e := range inv.Errors {
						fmt.Fprintf(out, "    - %s: %s\n", e.Field, e.Message)
					}
				}
				if verbose {
					for _, rec := range result.Valid {
						fmt.Fprintf(out, "  ok %s (%s)\n", rec.ID, rec.Country)
					}
				}
			}

			if result.Counts.Invalid > 0 {
				return fmt.Errorf("%d invalid records", result.Counts.Invalid)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "print the report as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list valid records too")
	return cmd
}
