package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"statement-categorization-service/internal/models"
	"statement-categorization-service/internal/reporter"
)

var categoryName string

// categoriesCmd groups the category commands
var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Manage the categories of a company",
}

var categoriesAddCmd = &cobra.Command{
	Use:     "add",
	Short:   "Create a category",
	Example: `  categorizer categories add --company acme --name "Tarifas Bancárias"`,
	PreRunE: requireFlags("company", "name"),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(viper.GetViper(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		category := &models.Category{CompanyID: companyID, Name: categoryName}
		if err := a.db.Categories().CreateCategory(cmd.Context(), category); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Created category %s (%s)\n", category.Name, category.ID)
		return nil
	},
}

var categoriesListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List the categories of a company",
	PreRunE: requireFlags("company"),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(viper.GetViper(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		categories, err := a.db.Categories().ListCategories(cmd.Context(), companyID)
		if err != nil {
			return err
		}
		return writeCategories(a.out, a.config.Report.Format, categories)
	},
}

var categoriesDeactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Deactivate a category",
	Long: `Deactivate hides a category from new decisions. Rules pointing to it become
orphans; list them with 'categorizer rules orphans'.`,
	PreRunE: requireFlags("id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(viper.GetViper(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.db.Categories().DeactivateCategory(cmd.Context(), categoryID); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Deactivated category %s\n", categoryID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(categoriesCmd)
	categoriesCmd.AddCommand(categoriesAddCmd, categoriesListCmd, categoriesDeactivateCmd)

	categoriesAddCmd.Flags().StringVar(&companyID, "company", "", "tenant company ID (required)")
	categoriesAddCmd.Flags().StringVar(&categoryName, "name", "", "category name (required)")
	categoriesListCmd.Flags().StringVar(&companyID, "company", "", "tenant company ID (required)")
	categoriesDeactivateCmd.Flags().StringVar(&categoryID, "id", "", "category ID (required)")
}

func writeCategories(w io.Writer, format reporter.OutputFormat, categories []*models.Category) error {
	switch format {
	case reporter.FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(categories)

	case reporter.FormatCSV:
		writer := csv.NewWriter(w)
		writer.Write([]string{"ID", "Name", "Active"})
		for _, c := range categories {
			writer.Write([]string{c.ID, c.Name, strconv.FormatBool(c.Active)})
		}
		writer.Flush()
		return writer.Error()

	default:
		if len(categories) == 0 {
			fmt.Fprintln(w, "No categories found")
			return nil
		}
		fmt.Fprintf(w, "%-36s  %-30s  %s\n", "ID", "NAME", "ACTIVE")
		fmt.Fprintf(w, "%s\n", strings.Repeat("-", 76))
		for _, c := range categories {
			fmt.Fprintf(w, "%-36s  %-30s  %v\n", c.ID, c.Name, c.Active)
		}
		return nil
	}
}
