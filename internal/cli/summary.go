package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"officer-vitals/internal/database"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	summarySubject string
	summaryHours   int
)

func init() {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show an officer's risk summary from the database",
		Run:   runSummary,
	}
	cmd.Flags().StringVarP(&summarySubject, "subject", "s", "", "Officer ID")
	cmd.Flags().IntVar(&summaryHours, "hours", 24, "Look-back period in hours")
	cmd.MarkFlagRequired("subject")

	RootCmd.AddCommand(cmd)
}

func runSummary(cmd *cobra.Command, args []string) {
	if summaryHours < 1 {
		exitErr("summary", fmt.Errorf("hours must be positive, got %d", summaryHours))
	}
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	repo, err := database.NewRepository(cfg.DBPath, zap.NewNop())
	if err != nil {
		exitErr("open database", err)
	}
	defer repo.Close()

	summary, err := repo.RiskSummary(cmd.Context(), summarySubject, summaryHours, time.Now())
	if err != nil {
		exitErr("summary", err)
	}

	b, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}
