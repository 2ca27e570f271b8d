package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"statement-categorization-service/internal/matcher"
	"statement-categorization-service/internal/models"
	"statement-categorization-service/internal/reporter"
	"statement-categorization-service/internal/rules"
)

// Flags for the rules commands
var (
	ruleID         string
	rulePattern    string
	ruleType       string
	ruleStatus     string
	ruleConfidence float64
	ruleActive     bool
	ruleSearch     string
	activeOnly     bool
	threshold      float64
	deactivate     bool
)

// rulesCmd groups the rule management commands
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage categorization rules",
	Long: `Rules map description patterns to categories for one company. Supported
rule types are exact, contains, wildcard, tokens, fuzzy and regex.`,
}

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a rule",
	Example: `  categorizer rules add --company acme --pattern salario --type contains --category <id> --confidence 0.9
  categorizer rules add --company acme --pattern "^PIX .* LTDA$" --type regex --category <id>`,
	PreRunE: requireFlags("company", "pattern", "category"),
	RunE: func(cmd *cobra.Command, args []string) error {
		parsedType, err := models.ParseRuleType(ruleType)
		if err != nil {
			return err
		}

		a, err := newApp(viper.GetViper(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.rules.Create(cmd.Context(), rules.CreateRequest{
			CompanyID:       companyID,
			Pattern:         rulePattern,
			RuleType:        parsedType,
			CategoryID:      categoryID,
			ConfidenceScore: ruleConfidence,
			Status:          models.RuleStatus(ruleStatus),
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(a.out, "Created rule %s\n", result.Rule)
		printWarnings(a, result.Warnings)
		return nil
	},
}

var rulesUpdateCmd = &cobra.Command{
	Use:     "update",
	Short:   "Change fields of a rule",
	Example: `  categorizer rules update --id <rule-id> --confidence 0.95 --status refined`,
	PreRunE: requireFlags("id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := updateRequestFromFlags(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(viper.GetViper(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.rules.Update(cmd.Context(), ruleID, req)
		if err != nil {
			return err
		}

		fmt.Fprintf(a.out, "Updated rule %s\n", result.Rule)
		printWarnings(a, result.Warnings)
		return nil
	},
}

var rulesDeleteCmd = &cobra.Command{
	Use:     "delete",
	Short:   "Delete a rule",
	PreRunE: requireFlags("id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(viper.GetViper(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.rules.Delete(cmd.Context(), ruleID); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Deleted rule %s\n", ruleID)
		return nil
	},
}

var rulesListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List the rules of a company",
	Example: `  categorizer rules list --company acme --type wildcard --active`,
	PreRunE: requireFlags("company"),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(viper.GetViper(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.rules.List(cmd.Context(), companyID, rules.Filter{
			RuleType:   models.RuleType(ruleType),
			Status:     models.RuleStatus(ruleStatus),
			CategoryID: categoryID,
			ActiveOnly: activeOnly,
			Search:     ruleSearch,
		})
		if err != nil {
			return err
		}
		return a.reports.WriteRuleReport(&reporter.RuleReport{CompanyID: companyID, Rules: list}, a.out)
	},
}

var rulesSimilarCmd = &cobra.Command{
	Use:     "similar",
	Short:   "Find rules with patterns similar to a pattern",
	Example: `  categorizer rules similar --company acme --pattern "venda pdv" --threshold 0.6`,
	PreRunE: requireFlags("company", "pattern"),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(viper.GetViper(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		similar, err := a.rules.FindSimilar(cmd.Context(), companyID, rulePattern, threshold)
		if err != nil {
			return err
		}

		list := make([]*models.CategorizationRule, 0, len(similar))
		for _, s := range similar {
			list = append(list, s.Rule)
			a.logger.WithField("rule_id", s.Rule.ID).Debugf("Similarity %.2f", s.Similarity)
		}
		return a.reports.WriteRuleReport(&reporter.RuleReport{CompanyID: companyID, Rules: list}, a.out)
	},
}

var rulesStatsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show rule statistics of a company",
	PreRunE: requireFlags("company"),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(viper.GetViper(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.rules.Stats(cmd.Context(), companyID)
		if err != nil {
			return err
		}
		return a.reports.WriteRuleReport(&reporter.RuleReport{CompanyID: companyID, Stats: stats}, a.out)
	},
}

var rulesConflictsCmd = &cobra.Command{
	Use:     "conflicts",
	Short:   "Report rules that overlap and point to different categories",
	PreRunE: requireFlags("company"),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(viper.GetViper(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		conflicts, err := a.rules.Conflicts(cmd.Context(), companyID)
		if err != nil {
			return err
		}
		return a.reports.WriteRuleReport(&reporter.RuleReport{CompanyID: companyID, Conflicts: conflicts}, a.out)
	},
}

var rulesOrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "Report rules whose category is missing or inactive",
	Example: `  categorizer rules orphans --company acme
  categorizer rules orphans --company acme --deactivate`,
	PreRunE: requireFlags("company"),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(viper.GetViper(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		orphans, err := a.rules.ListOrphans(ctx, companyID)
		if err != nil {
			return err
		}
		if err := a.reports.WriteRuleReport(&reporter.RuleReport{CompanyID: companyID, Orphans: orphans}, a.out); err != nil {
			return err
		}

		if deactivate {
			count, err := a.rules.DeactivateOrphans(ctx, companyID)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deactivated %d orphan rules\n", count)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesAddCmd, rulesUpdateCmd, rulesDeleteCmd, rulesListCmd,
		rulesSimilarCmd, rulesStatsCmd, rulesConflictsCmd, rulesOrphansCmd)

	for _, c := range []*cobra.Command{rulesAddCmd, rulesListCmd, rulesSimilarCmd, rulesStatsCmd, rulesConflictsCmd, rulesOrphansCmd} {
		c.Flags().StringVar(&companyID, "company", "", "tenant company ID (required)")
	}

	rulesAddCmd.Flags().StringVar(&rulePattern, "pattern", "", "pattern to match against descriptions (required)")
	rulesAddCmd.Flags().StringVar(&ruleType, "type", string(models.RuleTypeContains), "rule type")
	rulesAddCmd.Flags().StringVar(&categoryID, "category", "", "category ID (required)")
	rulesAddCmd.Flags().Float64Var(&ruleConfidence, "confidence", 0.8, "base confidence between 0 and 1")
	rulesAddCmd.Flags().StringVar(&ruleStatus, "status", string(models.RuleStatusActive), "rule status")

	rulesUpdateCmd.Flags().StringVar(&ruleID, "id", "", "rule ID (required)")
	rulesUpdateCmd.Flags().StringVar(&rulePattern, "pattern", "", "new pattern")
	rulesUpdateCmd.Flags().StringVar(&ruleType, "type", "", "new rule type")
	rulesUpdateCmd.Flags().StringVar(&categoryID, "category", "", "new category ID")
	rulesUpdateCmd.Flags().Float64Var(&ruleConfidence, "confidence", 0, "new base confidence")
	rulesUpdateCmd.Flags().StringVar(&ruleStatus, "status", "", "new status")
	rulesUpdateCmd.Flags().BoolVar(&ruleActive, "active", true, "whether the rule is active")

	rulesDeleteCmd.Flags().StringVar(&ruleID, "id", "", "rule ID (required)")

	rulesListCmd.Flags().StringVar(&ruleType, "type", "", "only rules of this type")
	rulesListCmd.Flags().StringVar(&ruleStatus, "status", "", "only rules with this status")
	rulesListCmd.Flags().StringVar(&categoryID, "category", "", "only rules of this category")
	rulesListCmd.Flags().BoolVar(&activeOnly, "active", false, "only active rules")
	rulesListCmd.Flags().StringVar(&ruleSearch, "search", "", "only rules whose pattern contains this text")

	rulesSimilarCmd.Flags().StringVar(&rulePattern, "pattern", "", "pattern to compare (required)")
	rulesSimilarCmd.Flags().Float64Var(&threshold, "threshold", 0.7, "minimum similarity between 0 and 1")

	rulesOrphansCmd.Flags().BoolVar(&deactivate, "deactivate", false, "deactivate the active orphan rules")
}

// updateRequestFromFlags sets only the fields whose flags were given
func updateRequestFromFlags(cmd *cobra.Command) (rules.UpdateRequest, error) {
	var req rules.UpdateRequest
	flags := cmd.Flags()

	if flags.Changed("pattern") {
		req.Pattern = &rulePattern
	}
	if flags.Changed("type") {
		parsed, err := models.ParseRuleType(ruleType)
		if err != nil {
			return req, err
		}
		req.RuleType = &parsed
	}
	if flags.Changed("category") {
		req.CategoryID = &categoryID
	}
	if flags.Changed("confidence") {
		req.ConfidenceScore = &ruleConfidence
	}
	if flags.Changed("status") {
		status := models.RuleStatus(ruleStatus)
		if !status.IsValid() {
			return req, fmt.Errorf("invalid rule status '%s'", ruleStatus)
		}
		req.Status = &status
	}
	if flags.Changed("active") {
		req.Active = &ruleActive
	}

	if req == (rules.UpdateRequest{}) {
		return req, fmt.Errorf("nothing to update: set at least one of --pattern, --type, --category, --confidence, --status, --active")
	}
	return req, nil
}

func printWarnings(a *app, warnings []matcher.DuplicateWarning) {
	for _, w := range warnings {
		fmt.Fprintf(a.out, "Warning: %s\n", w.Message)
	}
}
