package ledger

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	balancesSheet = "Balances"
	summarySheet  = "Summary"
)

var balanceHeaders = []any{"Vendor ID", "Vendor Type", "Order ID", "Lot Number", "Total Amount", "Payments Made", "Remaining Balance", "Last Updated"}

var summaryHeaders = []any{"Vendor ID", "Vendor Type", "Lots", "Total Amount", "Payments Made", "Remaining Balance"}

// ExportXLSX writes a workbook with one sheet of balance rows and one per-vendor summary.
func (s *Service) ExportXLSX(ctx context.Context, filter ListFilter, w io.Writer) error {
	balances, err := s.List(ctx, filter)
	if err != nil {
		return err
	}
	summary, err := s.Summary(ctx)
	if err != nil {
		return err
	}
	f, err := buildWorkbook(balances, summary)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("ledger: write workbook: %w", err)
	}
	return nil
}

func buildWorkbook(balances []Balance, summary []VendorSummary) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", balancesSheet); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		f.Close()
		return nil, err
	}

	if err := f.SetSheetRow(balancesSheet, "A1", &balanceHeaders); err != nil {
		f.Close()
		return nil, err
	}
	for i, b := range balances {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []any{
			b.VendorID,
			string(b.VendorType),
			b.OrderID,
			b.LotNumber,
			b.TotalAmount.InexactFloat64(),
			b.PaymentsMade.InexactFloat64(),
			b.RemainingBalance.InexactFloat64(),
			b.LastUpdated.Format("2006-01-02 15:04:05"),
		}
		if err := f.SetSheetRow(balancesSheet, cell, &row); err != nil {
			f.Close()
			return nil, err
		}
	}

	if err := f.SetSheetRow(summarySheet, "A1", &summaryHeaders); err != nil {
		f.Close()
		return nil, err
	}
	for i, v := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []any{
			v.VendorID,
			string(v.VendorType),
			v.Lots,
			v.TotalAmount.InexactFloat64(),
			v.PaymentsMade.InexactFloat64(),
			v.RemainingBalance.InexactFloat64(),
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}
