package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
	"github.com/joseph-ayodele/docextract/internal/repository"
)

const SheetName = "Extractions"

var fixedHeaders = []string{"File", "Document Type", "Status", "Error"}

// Row is one document's line in the workbook.
type Row struct {
	File    string
	DocType string
	Status  string
	Error   string
	Result  map[string]any
}

// RowFromOutcome flattens a pipeline outcome.
func RowFromOutcome(file string, out *pipeline.Outcome) Row {
	r := Row{File: file, DocType: string(out.DocType), Status: "OK", Result: out.Result}
	if out.Err != nil {
		r.Status = "FAILED"
		if env := out.Envelope(); env != nil {
			r.Error, _ = env["error"].(string)
		}
	}
	return r
}

// RowFromJob flattens a recorded extract_job.
func RowFromJob(j *entity.ExtractJob) Row {
	r := Row{File: j.Source, DocType: j.DocType, Status: j.Status}
	if j.ErrorMessage != nil {
		r.Error = *j.ErrorMessage
	}
	if len(j.ResultJSON) > 0 {
		var m map[string]any
		dec := json.NewDecoder(bytes.NewReader(j.ResultJSON))
		dec.UseNumber()
		if err := dec.Decode(&m); err == nil {
			r.Result = m
		}
	}
	return r
}

// Service produces XLSX bytes for extraction results.
type Service struct {
	jobs   repository.ExtractJobRepository
	logger *slog.Logger
}

func NewService(jobs repository.ExtractJobRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, logger: logger}
}

// ExportJobsXLSX writes the most recent limit recorded jobs.
func (s *Service) ExportJobsXLSX(ctx context.Context, limit int) ([]byte, error) {
	start := time.Now()
	jobs, err := s.jobs.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	rows := make([]Row, len(jobs))
	for i, j := range jobs {
		rows[i] = RowFromJob(j)
	}
	b, err := WriteXLSX(rows)
	if err != nil {
		return nil, err
	}
	s.logger.Info("export.xlsx.ok",
		"rows", len(rows),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return b, nil
}

// WriteXLSX renders rows on a single sheet. Result columns follow the
// document templates' field order, then any extra keys sorted by name.
func WriteXLSX(rows []Row) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return nil, err
	}

	fields := resultColumns(rows)
	headers := append(append([]string{}, fixedHeaders...), fields...)
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return nil, err
		}
	}

	for ri, r := range rows {
		row := ri + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(SheetName, cell, v)
		}
		write(1, r.File)
		write(2, r.DocType)
		write(3, r.Status)
		write(4, truncate(r.Error, 240))
		for fi, name := range fields {
			if v, ok := r.Result[name]; ok {
				write(len(fixedHeaders)+fi+1, cellValue(v))
			}
		}
	}

	_ = f.SetColWidth(SheetName, "A", "A", 40) // file
	_ = f.SetColWidth(SheetName, "B", "C", 14)
	_ = f.SetColWidth(SheetName, "D", "D", 48) // error

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func resultColumns(rows []Row) []string {
	present := map[string]struct{}{}
	for _, r := range rows {
		for k := range r.Result {
			present[k] = struct{}{}
		}
	}

	var cols []string
	added := map[string]struct{}{}
	add := func(k string) {
		if _, ok := present[k]; !ok {
			return
		}
		if _, dup := added[k]; dup {
			return
		}
		added[k] = struct{}{}
		cols = append(cols, k)
	}
	for _, r := range rows {
		for _, k := range llm.FieldNames(r.DocType) {
			add(k)
		}
	}

	var extras []string
	for k := range present {
		if _, ok := added[k]; !ok {
			extras = append(extras, k)
		}
	}
	sort.Strings(extras)
	return append(cols, extras...)
}

func cellValue(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case string, bool, float64:
		return t
	case json.Number:
		if f, err := strconv.ParseFloat(t.String(), 64); err == nil {
			return f
		}
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
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
