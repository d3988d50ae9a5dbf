package main

import (
	"fmt"
	"os"

	"github.com/CleanExpo/RestoreAssist-sub015/internal/cli"
	"github.com/CleanExpo/RestoreAssist-sub015/internal/config"
	internal_http "github.com/CleanExpo/RestoreAssist-sub015/internal/http"
	"github.com/CleanExpo/RestoreAssist-sub015/internal/log"
	internal_storage "github.com/CleanExpo/RestoreAssist-sub015/internal/storage"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/registry"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/service"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "agentflow"}

// registerAgents installs the deployment's agent handlers before the server
// starts. The stock binary ships none, which leaves the tick route unable to
// run tasks; deployments add their agents here or build their own main
// around http.NewMux. See examples/ for handler registration.
func registerAgents(reg *registry.Registry) error {
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the workflow trigger server",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadConfig()
		if err != nil {
			log.GetLogger().Errorf("Failed to load config: %v", err)
			os.Exit(1)
		}
		connStr, _ := cmd.Flags().GetString("db")
		if connStr == "" {
			connStr = cfg.ConnString()
		}
		store, err := internal_storage.InitStore(connStr)
		if err != nil {
			log.GetLogger().Errorf("Failed to initialize store: %v", err)
			os.Exit(1)
		}
		defer store.Close()

		reg := registry.New()
		if err := registerAgents(reg); err != nil {
			log.GetLogger().Errorf("Failed to register agents: %v", err)
			os.Exit(1)
		}
		if err := reg.Validate(); err != nil {
			log.GetLogger().Errorf("Invalid agent registry: %v", err)
			os.Exit(1)
		}
		svc := service.NewWorkflowService(store, reg, log.GetLogger())
		audit := service.NewTaskLogger(store, log.GetLogger())
		exec := service.NewExecutor(reg, svc.StateManager(), audit, log.GetLogger())
		if err := internal_http.StartServer(cfg.Server.Port, svc, exec); err != nil {
			log.GetLogger().Errorf("Server stopped: %v", err)
			os.Exit(1)
		}
	},
}

func main() {
	rootCmd.PersistentFlags().String("db", "", "Database connection string")
	rootCmd.AddCommand(serveCmd)
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
