package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "lalo-core",
	Short: "Request orchestration engine for multi-model AI workloads",
	Long: `lalo-core routes inbound requests to the right execution strategy,
plans and runs multi-step work, scores every output for confidence, and
drives human-in-the-loop workflows with backup/restore around mutating steps.

It provides:
- Request routing (simple / complex / specialized) with deterministic short-circuits
- Self-critiqued planning and dependency-ordered step execution
- Multi-dimensional confidence scoring with model fallback chains
- A sandboxed tool registry (filesystem, code execution, web search, SQL, RAG)
- Durable workflow sessions with approval gates and full audit trails`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logFile, _ := cmd.Flags().GetString("log-file")
		if logFile != "" {
			os.Setenv("LOG_FILE", logFile)
			if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
				os.Exit(1)
			}
		}
	},
}

// Execute runs the root command. Called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.lalo-core.yaml)")
	rootCmd.PersistentFlags().String("trace-provider", "console", "tracing provider (console, noop)")
	rootCmd.PersistentFlags().String("log-file", "", "log file path (optional)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	viper.BindPFlag("trace-provider", rootCmd.PersistentFlags().Lookup("trace-provider"))
	viper.BindPFlag("log-file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(requestCmd)
}

// initConfig loads .env and the optional config file before any command runs.
func initConfig() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			fmt.Fprintln(os.Stderr, "No .env file found, using system environment variables")
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".lalo-core")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
