package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iggydv12/waypoint/internal/app"
	"github.com/iggydv12/waypoint/internal/config"
	"github.com/iggydv12/waypoint/internal/logging"
	"github.com/iggydv12/waypoint/internal/storage"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "waypoint",
		Short:         "Waypoint: teleport requests, homes and back history per player",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to config file (default: ./config.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the waypoint server",
		RunE:  runServe,
	}

	homeCmd := &cobra.Command{
		Use:   "home",
		Short: "Inspect stored homes",
	}
	homeListCmd := &cobra.Command{
		Use:   "list <player>",
		Short: "List the homes of a player",
		Args:  cobra.ExactArgs(1),
		RunE:  runHomeList,
	}
	homeCmd.AddCommand(homeListCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}
	configSaveCmd := &cobra.Command{
		Use:   "save",
		Short: "Write the effective config back to disk",
		RunE:  runConfigSave,
	}
	configCmd.AddCommand(configSaveCmd)

	rootCmd.AddCommand(serveCmd, homeCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Verbose: verbose || cfg.Log.Verbose,
		File:    cfg.Log.File,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Absent {
		logger.Warn("Config file not found, using defaults", zap.String("file", cfg.File))
	}

	// Fill keys added since the file was written.
	if cfg.File != "" && len(cfg.MissingKeys) > 0 {
		if err := config.Save(cfg, cfg.File); err != nil {
			logger.Warn("Config update failed", zap.String("file", cfg.File), zap.Error(err))
		} else {
			logger.Info("Config updated with defaults",
				zap.String("file", cfg.File),
				zap.Strings("keys", cfg.MissingKeys),
			)
		}
	}

	ctrl := app.NewController(cfg, logger)
	return ctrl.Run(context.Background())
}

func runHomeList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	backend, err := storage.OpenBackend(cfg.Storage.Backend, cfg.Storage.DataDir, zap.NewNop())
	if err != nil {
		return err
	}
	reg := storage.NewRegistry(backend, storage.Options{MaxHomes: cfg.Home.MaxCount}, zap.NewNop())
	defer reg.Close()

	player := args[0]
	homes, _, err := reg.Homes().Lookup(cmd.Context(), player)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %d/%d\n", color.New(color.Bold).Sprint(player), homes.Len(), cfg.Home.MaxCount)
	if homes.Len() == 0 {
		fmt.Fprintln(out, color.YellowString("  no homes"))
		return nil
	}
	for pair := homes.Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(out, "  %s %s\n", color.CyanString(pair.Key), pair.Value)
	}
	return nil
}

func runConfigSave(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	path := cfg.File
	if path == "" {
		path = config.DefaultFile
	}
	if err := config.Save(cfg, path); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("saved"), path)
	return nil
}
