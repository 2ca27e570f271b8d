package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"statement-categorization-service/cmd/categorizer/config"
)

var (
	cfgFile string
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "categorizer",
	Short: "Bank statement categorization tool",
	Long: `Categorizer parses OFX bank statements, assigns a category to every
transaction using confirmed history, cached decisions and tenant rules, and
stores the results with resumable batch checkpoints.

Examples:
  categorizer categories add --company acme --name "Vendas"
  categorizer rules add --company acme --pattern "venda*" --type wildcard --category <id> --confidence 0.85
  categorizer ingest --file extrato.ofx --company acme --account 12345-6
  categorizer progress --upload <upload-id>
  categorizer version`,
	Version:       getVersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (optional)")
	flags.BoolP(config.KeyVerbose, "v", false, "verbose output")
	flags.String(config.KeyDatabase, "categorizer.db", "path to the SQLite database")
	flags.StringP(config.KeyOutputFormat, "f", "console", "output format: console, json, csv")
	flags.String(config.KeyLogLevel, "info", "log level: debug, info, warn, error")
	flags.String(config.KeyLogFormat, "text", "log format: text, json")
	flags.Int(config.KeyBatchSize, 15, "transactions per persisted batch")
	flags.Int(config.KeyChunkSize, 10, "transactions categorized concurrently inside a batch")
	flags.String(config.KeySelection, "best", "rule selection policy: best, first")

	for _, key := range []string{
		config.KeyVerbose,
		config.KeyDatabase,
		config.KeyOutputFormat,
		config.KeyLogLevel,
		config.KeyLogFormat,
		config.KeyBatchSize,
		config.KeyChunkSize,
		config.KeySelection,
	} {
		viper.BindPFlag(key, flags.Lookup(key))
	}
}

// initConfig reads in .env, the config file and ENV variables.
func initConfig() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error reading .env file: %s\n", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(4)
		}

		if viper.GetBool(config.KeyVerbose) {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	viper.SetEnvPrefix("CATEGORIZER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
