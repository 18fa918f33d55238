package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/eidolex/sqlgate/core/models"
	"github.com/eidolex/sqlgate/core/utils"
)

var (
	// Build information
	version   = "dev"
	buildTime = "unknown"

	// Global flags
	cfgFile string
	verbose bool
	config  *models.Config
	logger  utils.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sqlgate",
	Short: "sqlgate database client backend",
	Long: `sqlgate is the backend of a desktop database client. It connects to
remote PostgreSQL and MySQL servers, optionally through a shared SSH
tunnel, and serves a uniform query and introspection API to the UI.

Examples:
  sqlgate serve
  sqlgate serve --port 9090
  sqlgate version`,
	PersistentPreRunE: initializeConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetBuildInfo sets build information
func SetBuildInfo(v, bt string) {
	version = v
	buildTime = bt
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: default.yaml in ., ./configs or $HOME/.sqlgate)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sqlgate database client backend\n")
			fmt.Printf("Version: %s\n", version)
			fmt.Printf("Built: %s\n", buildTime)
		},
	})
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("$HOME/.sqlgate")
		viper.SetConfigName("default")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SQLGATE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}
}

// initializeConfig initializes configuration and logger
func initializeConfig(cmd *cobra.Command, args []string) error {
	config = models.DefaultConfig()
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if verbose {
		config.Logging.Level = "debug"
	}

	var err error
	logger, err = utils.NewLogger(utils.LoggerConfig{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		Output:     config.Logging.Output,
		MaxSize:    config.Logging.MaxSize,
		MaxBackups: config.Logging.MaxBackups,
		MaxAge:     config.Logging.MaxAge,
		Compress:   config.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	return nil
}
