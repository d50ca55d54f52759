package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/mathvizai/mathviz/internal/store"
)

// Service produces XLSX bytes summarizing jobs for operators.
type Service struct {
	jobs   store.Store
	logger *slog.Logger
}

func NewService(jobs store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, logger: logger}
}

// ExportJobsXLSX returns an XLSX workbook (as bytes) listing jobs matching the
// filter, newest first.
func (s *Service) ExportJobsXLSX(ctx context.Context, filter store.Filter) ([]byte, error) {
	start := time.Now()

	summaries, err := s.jobs.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Jobs"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		_, err := f.NewSheet(sheet)
		if err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Job ID",
		"Status",
		"Topic",
		"Difficulty",
		"Stage",
		"Error",
		"Artifact",
		"Created At",
		"Updated At",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, j := range summaries {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, j.ID.String())
		write(2, string(j.Status))
		write(3, truncate(j.Topic, 140))
		write(4, j.Difficulty)
		write(5, fmt.Sprintf("%d/%s", j.StageIndex, j.StageName))
		if j.Error != nil {
			write(6, fmt.Sprintf("%s: %s", j.Error.Kind, truncate(j.Error.Message, 140)))
		} else {
			write(6, "")
		}
		write(7, j.ArtifactRef)
		write(8, j.CreatedAt.UTC().Format(time.RFC3339))
		write(9, j.UpdatedAt.UTC().Format(time.RFC3339))

		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 38) // job id
	_ = f.SetColWidth(sheet, "B", "B", 12) // status
	_ = f.SetColWidth(sheet, "C", "C", 48) // topic
	_ = f.SetColWidth(sheet, "D", "E", 16)
	_ = f.SetColWidth(sheet, "F", "F", 48) // error
	_ = f.SetColWidth(sheet, "G", "G", 42) // artifact
	_ = f.SetColWidth(sheet, "H", "I", 22) // timestamps

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(summaries),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
