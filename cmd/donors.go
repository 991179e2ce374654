package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/bloodlink/app/plugins"
	"github.com/kilianp07/bloodlink/config"
	"github.com/kilianp07/bloodlink/core/model"
	"github.com/kilianp07/bloodlink/infra/logger"
)

var donorsCmd = &cobra.Command{
	Use:   "donors",
	Short: "Donor registry commands",
}

var donorsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List donors from the configured registry source",
	RunE:  runDonorsLs,
}

func init() {
	donorsCmd.AddCommand(donorsLsCmd)
	rootCmd.AddCommand(donorsCmd)
}

func runDonorsLs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	src, release, err := plugins.Source(ctx, cfg.Registry.Source, plugins.Env{Config: cfg, Log: logger.New("donors-ls")})
	if err != nil {
		return err
	}
	if release != nil {
		defer release()
	}
	donors, err := src.Load(ctx)
	if err != nil {
		return err
	}
	sort.Slice(donors, func(i, j int) bool { return donors[i].ID < donors[j].ID })
	return printDonors(cmd, donors)
}

func printDonors(cmd *cobra.Command, donors []model.Donor) error {
	for _, d := range donors {
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%.4f,%.4f\n",
			d.ID, d.BloodType, d.Availability, d.Location.Lat, d.Location.Lon); err != nil {
			return err
		}
	}
	return nil
}
