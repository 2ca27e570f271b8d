package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"statement-categorization-service/internal/parsers"
)

var (
	generateCount  int
	generateSeed   int64
	generateOutput string
)

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a synthetic OFX statement",
	Long: `Generate writes a reproducible synthetic OFX statement. The same seed always
produces the same statement, which makes it useful for demos and load tests.`,
	Example: `  categorizer generate --count 500 --seed 42 --output sample.ofx`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if generateCount < 1 {
			return fmt.Errorf("count must be at least 1")
		}
		if err := requireFlags("output")(cmd, args); err != nil {
			return err
		}
		return validateOutputFile(generateOutput)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := parsers.DefaultGeneratorConfig()
		cfg.Count = generateCount
		cfg.Seed = generateSeed

		doc := parsers.GenerateStatement(cfg)
		if err := parsers.NewStatementWriter().WriteFile(generateOutput, doc); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d transactions to %s\n", len(doc.Transactions), generateOutput)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().IntVar(&generateCount, "count", 100, "number of transactions")
	generateCmd.Flags().Int64Var(&generateSeed, "seed", 1, "random seed")
	generateCmd.Flags().StringVarP(&generateOutput, "output", "o", "", "output OFX file (required)")
}
