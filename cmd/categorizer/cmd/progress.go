package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"statement-categorization-service/pkg/errors"
)

var (
	transactionID string
	categoryID    string
)

// progressCmd represents the progress command
var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show the processing progress of an upload",
	Example: `  categorizer progress --upload up-2024-10
  categorizer progress --upload up-2024-10 -f json`,
	PreRunE: requireFlags("upload"),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(viper.GetViper(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		progress, err := a.processor.GetProgress(cmd.Context(), uploadID)
		if err != nil {
			return err
		}
		return a.reports.WriteProgressReport(progress, a.out)
	},
}

// pauseCmd represents the pause command
var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Stop a running upload before its next batch",
	Long: `Pause marks a processing upload as paused. The process running it stops
before starting the next batch; continue later with the resume command.`,
	Example: `  categorizer pause --upload up-2024-10`,
	PreRunE: requireFlags("upload"),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(viper.GetViper(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.processor.Pause(cmd.Context(), uploadID); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Upload %s paused\n", uploadID)
		return nil
	},
}

// confirmCmd represents the confirm command
var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Confirm the category of a stored transaction",
	Long: `Confirm assigns a category to a stored transaction and marks it as
confirmed. Later statements with the same description for the same company are
categorized from this history before any rule is consulted.`,
	Example: `  categorizer confirm --upload up-2024-10 --transaction F01 --category <category-id>`,
	PreRunE: requireFlags("upload", "transaction", "category"),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(viper.GetViper(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		category, err := a.db.Categories().GetCategory(ctx, categoryID)
		if err != nil {
			return err
		}
		if !category.Active {
			return errors.ValidationError(errors.CodeOutOfRange, "category", categoryID,
				fmt.Errorf("category %s is inactive", category.Name))
		}

		if err := a.db.Records().Confirm(ctx, uploadID, transactionID, category); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Transaction %s confirmed as %s\n", transactionID, category.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(confirmCmd)

	progressCmd.Flags().StringVar(&uploadID, "upload", "", "upload ID (required)")
	pauseCmd.Flags().StringVar(&uploadID, "upload", "", "upload ID (required)")

	confirmCmd.Flags().StringVar(&uploadID, "upload", "", "upload ID (required)")
	confirmCmd.Flags().StringVar(&transactionID, "transaction", "", "transaction ID from the statement (required)")
	confirmCmd.Flags().StringVar(&categoryID, "category", "", "category ID (required)")
}

// requireFlags returns a PreRunE rejecting blank values for the named flags
func requireFlags(names ...string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var missing []string
		for _, name := range names {
			value, err := cmd.Flags().GetString(name)
			if err != nil || strings.TrimSpace(value) == "" {
				missing = append(missing, "--"+name)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("required flags missing: %s", strings.Join(missing, ", "))
		}
		return nil
	}
}
