// Package ingest turns uploaded CSV and XLSX sales exports into stored records.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/xuri/excelize/v2"

	"github.com/chai-vision/chai-vision/internal/kpi"
	"github.com/chai-vision/chai-vision/internal/platform/httpx"
)

// maxLineErrors caps the per-row errors returned to the uploader.
const maxLineErrors = 50

var (
	// ErrMissingColumn indicates a required header is absent.
	ErrMissingColumn = fmt.Errorf("ingest: missing required column: %w", httpx.ErrValidation)
	// ErrEmptyFile indicates the upload has no header row.
	ErrEmptyFile = fmt.Errorf("ingest: file has no header row: %w", httpx.ErrValidation)
	// ErrUnsupportedFormat indicates a file type other than CSV or XLSX.
	ErrUnsupportedFormat = fmt.Errorf("ingest: unsupported file format: %w", httpx.ErrValidation)
)

type column int

const (
	colDate column = iota
	colBrand
	colChannel
	colRevenue
	colSKU
	colUnits
)

// headerAliases maps normalized header text to the column it feeds.
var headerAliases = map[string]column{
	"date":           colDate,
	"saledate":       colDate,
	"orderdate":      colDate,
	"day":            colDate,
	"brand":          colBrand,
	"channel":        colChannel,
	"marketplace":    colChannel,
	"store":          colChannel,
	"revenue":        colRevenue,
	"sales":          colRevenue,
	"amount":         colRevenue,
	"netsales":       colRevenue,
	"orderedrevenue": colRevenue,
	"sku":            colSKU,
	"asin":           colSKU,
	"units":          colUnits,
	"qty":            colUnits,
	"quantity":       colUnits,
}

var requiredColumns = map[column]string{
	colDate:    "date",
	colBrand:   "brand",
	colChannel: "channel",
	colRevenue: "revenue",
}

// extra layouts seen in marketplace exports, tried after kpi.ParseDate.
var uploadDateLayouts = []string{
	"1/2/2006",
	"01/02/2006",
	"1/2/06",
	"2-Jan-2006",
	"Jan 2, 2006",
	"20060102",
}

// LineError reports a rejected row by its 1-based line number in the file.
type LineError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Parsed is the outcome of reading one file.
type Parsed struct {
	Records  []kpi.SalesRecord
	Rejected int
	Errors   []LineError
}

func (p *Parsed) reject(line int, reason string) {
	p.Rejected++
	if len(p.Errors) < maxLineErrors {
		p.Errors = append(p.Errors, LineError{Line: line, Reason: reason})
	}
}

type rowInput struct {
	Date    string `validate:"required"`
	Brand   string `validate:"required,max=120"`
	Channel string `validate:"required,max=120"`
	SKU     string `validate:"max=64"`
	Revenue string `validate:"required"`
}

// Parser converts tabular rows into sales records.
type Parser struct {
	validate *validator.Validate
	now      func() time.Time
}

// NewParser constructs a Parser. now bounds the accepted date range.
func NewParser(now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	return &Parser{validate: validator.New(), now: now}
}

// ParseCSV reads a comma separated file whose first row is the header.
func (p *Parser) ParseCSV(r io.Reader) (Parsed, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return Parsed{}, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return p.parseRows(rows)
}

// ParseXLSX reads the first sheet of a workbook whose first row is the header.
func (p *Parser) ParseXLSX(r io.Reader) (Parsed, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return Parsed{}, fmt.Errorf("%w: open workbook: %v", httpx.ErrValidation, err)
	}
	defer func() { _ = file.Close() }()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return Parsed{}, ErrEmptyFile
	}
	rows, err := file.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return Parsed{}, fmt.Errorf("%w: read sheet %q: %v", httpx.ErrValidation, sheets[0], err)
	}
	return p.parseRows(rows)
}

// Parse dispatches on the file name extension.
func (p *Parser) Parse(filename string, r io.Reader) (Parsed, error) {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return p.ParseCSV(r)
	case strings.HasSuffix(lower, ".xlsx"):
		return p.ParseXLSX(r)
	default:
		return Parsed{}, ErrUnsupportedFormat
	}
}

func (p *Parser) parseRows(rows [][]string) (Parsed, error) {
	if len(rows) == 0 {
		return Parsed{}, ErrEmptyFile
	}
	index, err := mapHeader(rows[0])
	if err != nil {
		return Parsed{}, err
	}
	now := p.now()
	out := Parsed{Records: make([]kpi.SalesRecord, 0, len(rows)-1)}
	for i, row := range rows[1:] {
		line := i + 2
		if blank(row) {
			continue
		}
		rec, reason := p.parseRow(row, index, now)
		if reason != "" {
			out.reject(line, reason)
			continue
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

func (p *Parser) parseRow(row []string, index map[column]int, now time.Time) (kpi.SalesRecord, string) {
	cell := func(c column) string {
		i, ok := index[c]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	in := rowInput{
		Date:    cell(colDate),
		Brand:   cell(colBrand),
		Channel: cell(colChannel),
		SKU:     cell(colSKU),
		Revenue: cell(colRevenue),
	}
	if err := p.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return kpi.SalesRecord{}, fmt.Sprintf("%s failed %s", strings.ToLower(verrs[0].Field()), verrs[0].Tag())
		}
		return kpi.SalesRecord{}, err.Error()
	}

	date, ok := parseUploadDate(in.Date)
	if !ok {
		return kpi.SalesRecord{}, fmt.Sprintf("unrecognised date %q", in.Date)
	}
	revenue, err := ParseAmount(in.Revenue)
	if err != nil {
		return kpi.SalesRecord{}, fmt.Sprintf("invalid revenue %q", in.Revenue)
	}
	var units float64
	if raw := cell(colUnits); raw != "" {
		units, err = ParseAmount(raw)
		if err != nil {
			return kpi.SalesRecord{}, fmt.Sprintf("invalid units %q", raw)
		}
	}

	rec := kpi.SalesRecord{
		Date:    date.Format("2006-01-02"),
		Brand:   in.Brand,
		Channel: in.Channel,
		SKU:     in.SKU,
		Units:   units,
		Revenue: revenue,
	}
	if _, diag := kpi.Normalize([]kpi.SalesRecord{rec}, now); diag.Dropped > 0 {
		for reason := range diag.DropReasons {
			return kpi.SalesRecord{}, strings.ReplaceAll(string(reason), "_", " ")
		}
	}
	return rec, ""
}

func mapHeader(header []string) (map[column]int, error) {
	index := make(map[column]int, len(header))
	for i, name := range header {
		col, ok := headerAliases[kpi.NormalizeKey(name)]
		if !ok {
			continue
		}
		if _, seen := index[col]; !seen {
			index[col] = i
		}
	}
	var missing []string
	for _, col := range []column{colDate, colBrand, colChannel, colRevenue} {
		if _, ok := index[col]; !ok {
			missing = append(missing, requiredColumns[col])
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return index, nil
}

// ParseAmount reads a currency cell. Accounting parentheses and trailing
// minus signs mark negatives.
func ParseAmount(raw string) (float64, error) {
	return kpi.ParseAmount(raw)
}

func parseUploadDate(raw string) (time.Time, bool) {
	if t, ok := kpi.ParseDate(raw); ok {
		return t, true
	}
	for _, layout := range uploadDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	// XLSX date cells read raw arrive as serial day numbers.
	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial > 0 && serial < 100000 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return t.UTC().Round(time.Minute), true
		}
	}
	return time.Time{}, false
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
