package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/bloodlink/config"
	"github.com/kilianp07/bloodlink/core/audit"
	"github.com/kilianp07/bloodlink/infra/kpi"
	"github.com/kilianp07/bloodlink/jobs/donorkpi"
	"github.com/kilianp07/bloodlink/pkg/export"
)

var (
	exportFormat string
	sinceFlag    time.Duration
	kpiPath      string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit trail commands",
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export closed requests as CSV or JSON",
	RunE:  runAuditExport,
}

var engagementCmd = &cobra.Command{
	Use:   "engagement",
	Short: "Donor engagement KPI commands",
}

var engagementBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Rebuild engagement KPIs from the audit trail",
	RunE:  runEngagementBackfill,
}

func init() {
	auditExportCmd.Flags().StringVar(&exportFormat, "format", "csv", "csv or json")
	auditExportCmd.Flags().DurationVar(&sinceFlag, "since", 0, "only requests closed within this window")
	auditCmd.AddCommand(auditExportCmd)
	rootCmd.AddCommand(auditCmd)

	engagementBackfillCmd.Flags().StringVar(&kpiPath, "path", "engagement.db", "SQLite KPI database")
	engagementBackfillCmd.Flags().DurationVar(&sinceFlag, "since", 0, "only requests closed within this window")
	engagementCmd.AddCommand(engagementBackfillCmd)
	rootCmd.AddCommand(engagementCmd)
}

func openAudit() (audit.Store, audit.Query, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, audit.Query{}, fmt.Errorf("load config: %w", err)
	}
	store, err := audit.Open(cfg.Audit)
	if err != nil {
		return nil, audit.Query{}, err
	}
	var q audit.Query
	if sinceFlag > 0 {
		q.Start = time.Now().Add(-sinceFlag)
	}
	return store, q, nil
}

func runAuditExport(cmd *cobra.Command, _ []string) error {
	store, q, err := openAudit()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	records, err := store.Query(context.Background(), q)
	if err != nil {
		return err
	}
	switch exportFormat {
	case "csv":
		return export.WriteCSV(cmd.OutOrStdout(), records)
	case "json":
		return export.WriteJSON(cmd.OutOrStdout(), records)
	default:
		return fmt.Errorf("unknown format %s", exportFormat)
	}
}

func runEngagementBackfill(cmd *cobra.Command, _ []string) error {
	store, q, err := openAudit()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	dst, err := kpi.NewSQLiteStore(kpiPath)
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()
	n, err := donorkpi.Backfill(cmd.Context(), store, dst, q)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "replayed %d request(s) into %s\n", n, kpiPath)
	return err
}
