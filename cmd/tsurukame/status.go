package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidsansome/tsurukame/internal/srs"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cached counts and pending work",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.New(os.Stderr, "[status] ", log.LstdFlags)
		a, err := openApp(logger)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		user, err := a.db.User(ctx)
		if err != nil {
			return err
		}
		if user == nil {
			fmt.Println("No user data cached yet. Run `tsurukame sync` first.")
			return nil
		}
		now := time.Now()
		fmt.Printf("User:     %s (level %d)\n", user.Username, user.Level)
		if user.OnVacation() {
			fmt.Println("          on vacation")
		}

		levels, err := a.db.LevelProgressions(ctx)
		if err != nil {
			return err
		}
		for _, lp := range levels {
			if lp.Level == user.Level {
				fmt.Printf("          %s on this level\n", formatLevelTime(lp.TimeSpent(now)))
				break
			}
		}

		counts, err := a.db.AvailableCounts(ctx, now)
		if err != nil {
			return err
		}
		fmt.Printf("Lessons:  %d\n", counts.Lessons)
		fmt.Printf("Reviews:  %d\n", counts.Reviews)

		stages, err := a.db.SRSStageCounts(ctx)
		if err != nil {
			return err
		}
		categories := [srs.NumCategories]string{"Apprentice", "Guru", "Master", "Enlightened", "Burned"}
		for i, name := range categories {
			fmt.Printf("%-12s %d\n", name+":", stages[i])
		}

		guruKanji, err := a.db.GuruKanjiCount(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%-12s %d kanji at guru or above\n", "Kanji:", guruKanji)

		pendingProgress, err := a.db.PendingProgressCount(ctx)
		if err != nil {
			return err
		}
		pendingNotes, err := a.db.PendingStudyMaterialCount(ctx)
		if err != nil {
			return err
		}
		if pendingProgress > 0 || pendingNotes > 0 {
			fmt.Printf("Pending:  %d results, %d study material edits\n", pendingProgress, pendingNotes)
		}
		return nil
	},
}

func formatLevelTime(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	return fmt.Sprintf("%dd %dh", days, hours)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
