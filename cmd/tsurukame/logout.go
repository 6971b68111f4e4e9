package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/davidsansome/tsurukame/internal/config"
	"github.com/davidsansome/tsurukame/internal/store"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete all locally cached data",
	Long: `Delete the local database, including any queued lesson and review
results that have not been sent yet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.New(os.Stderr, "[logout] ", log.LstdFlags)
		loader, err := config.Load(configPath)
		if err != nil {
			return err
		}
		path := loader.Current().DatabasePath
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Println("No local database found.")
			return nil
		}

		db, err := store.Open(path)
		if err != nil {
			return err
		}
		if err := db.Destroy(); err != nil {
			return fmt.Errorf("failed to delete database: %w", err)
		}
		logger.Printf("Deleted %s", path)
		fmt.Println("Logged out.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
