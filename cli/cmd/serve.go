package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eidolex/sqlgate/server"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the backend API server",
	Long: `Start the HTTP API server the desktop UI talks to. The server owns
every database connection pool and SSH tunnel; stopping it tears all of
them down.`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
	dataDir   string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen address (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory for connections.json and app_state.json")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveHost != "" {
		config.Server.Host = serveHost
	}
	if servePort != 0 {
		config.Server.Port = servePort
	}
	if dataDir != "" {
		config.Storage.DataDir = dataDir
	}

	srv, err := server.NewServer(config, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}
