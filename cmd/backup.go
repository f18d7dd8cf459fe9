package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sutrapulse/aa-engine/core/backup"
	engineconfig "github.com/sutrapulse/aa-engine/core/config"
	"github.com/sutrapulse/aa-engine/storage"
)

var backupDir string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the engine's storage",
	Long:  `Write a one-off full snapshot of the engine's storage to the backup directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := engineconfig.NewConfig(config)
		if err != nil {
			return err
		}
		dir := backupDir
		if dir == "" {
			dir = cfg.BackupDir
		}
		if dir == "" {
			return fmt.Errorf("no backup directory: pass --dir or set backup_dir in the config")
		}

		db, err := storage.NewWithPath(cfg.StoragePath)
		if err != nil {
			return err
		}
		if err := db.Setup(); err != nil {
			return err
		}
		defer db.Close()

		file, err := backup.NewService(cfg.Logger, db, dir).PerformBackup(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("backup written to %s\n", file)
		return nil
	},
}

func init() {
	backupCmd.Flags().StringVar(&backupDir, "dir", "", "backup output directory (defaults to backup_dir from config)")
	rootCmd.AddCommand(backupCmd)
}
