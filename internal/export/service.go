package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/caseworks/leximport/internal/domain"
	"github.com/caseworks/leximport/internal/repository"
	"github.com/caseworks/leximport/internal/validation"
)

// Columns of the LEX-shaped export, in order.
var Columns = []string{"Reference", "Status", "Assigned To", "Response Date", "Notes"}

// MaxNotesLength bounds the free-text notes column in exports.
const MaxNotesLength = 500

// Record is one reverse-mapped export row.
type Record struct {
	Reference    string
	Status       string
	AssignedTo   string
	ResponseDate string
	Notes        string
}

// Service reverse-transforms canonical matters back into the external LEX
// record shape. It performs no validation beyond what canonical-entity
// invariants already guarantee.
type Service struct {
	matters    repository.MatterRepository
	feeEarners repository.FeeEarnerRepository
}

// NewService wires the export generator.
func NewService(matters repository.MatterRepository, feeEarners repository.FeeEarnerRepository) *Service {
	return &Service{matters: matters, feeEarners: feeEarners}
}

// Records loads every matter carrying an external reference and maps each to
// the export shape, resolving fee-earner ids to display names.
func (s *Service) Records(ctx context.Context) ([]Record, error) {
	matters, err := s.matters.ListWithReference(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list matters: %w", err)
	}

	earners, err := s.feeEarners.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list fee earners: %w", err)
	}
	names := make(map[uuid.UUID]string, len(earners))
	for _, earner := range earners {
		names[earner.ID] = earner.Name
	}

	records := make([]Record, 0, len(matters))
	for _, matter := range matters {
		records = append(records, toRecord(matter, names[matter.FeeEarnerID]))
	}
	return records, nil
}

// WriteCSV streams the export as CSV.
func (s *Service) WriteCSV(ctx context.Context, w io.Writer) error {
	records, err := s.Records(ctx)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, record := range records {
		row := []string{record.Reference, record.Status, record.AssignedTo, record.ResponseDate, record.Notes}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row %s: %w", record.Reference, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteXLSX streams the export as a single-sheet workbook.
func (s *Service) WriteXLSX(ctx context.Context, w io.Writer) error {
	records, err := s.Records(ctx)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const sheet = "Matters"
	f.SetSheetName(f.GetSheetName(0), sheet)

	header := make([]any, len(Columns))
	for i, column := range Columns {
		header[i] = column
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to address row %d: %w", i+2, err)
		}
		row := []any{record.Reference, record.Status, record.AssignedTo, record.ResponseDate, record.Notes}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %s: %w", record.Reference, err)
		}
	}

	return f.Write(w)
}

func toRecord(matter domain.CanonicalMatter, assignee string) Record {
	notes := matter.Notes
	if runes := []rune(notes); len(runes) > MaxNotesLength {
		notes = string(runes[:MaxNotesLength])
	}
	return Record{
		Reference:    matter.Reference,
		Status:       string(matter.Status),
		AssignedTo:   assignee,
		ResponseDate: validation.FormatDate(matter.ReceivedDate),
		Notes:        notes,
	}
}
