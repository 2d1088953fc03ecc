package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-learn/internal/plan"
)

// WritePlatformXLSX writes stats as a workbook with Summary, Plans, Monthly
// and Weekly sheets.
func WritePlatformXLSX(w io.Writer, stats PlatformStats) error {
	f := excelize.NewFile()
	defer f.Close()

	summary := [][]any{
		{"Metric", "Value"},
		{"Total users", stats.TotalUsers},
		{"Active subscriptions", stats.ActiveSubscriptions},
		{"Transactions", stats.Transactions},
		{"Total revenue", stats.TotalRevenue},
		{"Generated at", stats.GeneratedAt.Format("2006-01-02 15:04:05")},
	}
	if err := f.SetSheetName("Sheet1", "Summary"); err != nil {
		return fmt.Errorf("renaming sheet: %w", err)
	}
	if err := writeRows(f, "Summary", summary); err != nil {
		return err
	}

	plans := [][]any{{"Plan", "Users"}}
	for _, t := range plan.Tiers {
		plans = append(plans, []any{string(t), stats.UsersByPlan[t]})
	}
	if err := addSheet(f, "Plans", plans); err != nil {
		return err
	}

	if err := addSheet(f, "Monthly", bucketRows("Month", stats.Monthly)); err != nil {
		return err
	}
	if err := addSheet(f, "Weekly", bucketRows("Week", stats.Weekly)); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func bucketRows(label string, buckets []RevenueBucket) [][]any {
	rows := [][]any{{label, "Revenue", "Transactions"}}
	for _, b := range buckets {
		rows = append(rows, []any{b.Period, b.Revenue, b.Transactions})
	}
	return rows
}

func addSheet(f *excelize.File, name string, rows [][]any) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("creating sheet %s: %w", name, err)
	}
	return writeRows(f, name, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
