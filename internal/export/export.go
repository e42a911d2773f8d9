package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/wonny/bullscan/internal/contracts"
)

// Format is an export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ErrUnknownFormat is returned for a format other than csv, json or xlsx
var ErrUnknownFormat = errors.New("unknown export format")

const sheetName = "Candidates"

// utf8BOM lets Excel open the CSV as UTF-8
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var headers = []string{
	"代码", "名称", "匹配度", "买入日期", "买入价", "现价", "市值(亿)",
	"4周涨幅%", "10周涨幅%", "20周涨幅%", "10周最大涨幅%", "止损价", "最佳卖出价", "最佳卖出日期", "数据过期",
}

// ParseFormat accepts a format name case-insensitively
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	case "":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnknownFormat)
	}
}

// ContentType is the HTTP content type of f
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv; charset=utf-8"
	}
}

// FileName is the download name of a scan's results
func (f Format) FileName(scanID string) string {
	return fmt.Sprintf("bullscan_%s.%s", scanID, f)
}

// Write renders cands to w in format f
func Write(w io.Writer, f Format, cands []contracts.Candidate) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, cands)
	case FormatJSON:
		return WriteJSON(w, cands)
	case FormatXLSX:
		return WriteXLSX(w, cands)
	default:
		return fmt.Errorf("%q: %w", f, ErrUnknownFormat)
	}
}

// WriteCSV writes a header row and one row per candidate
func WriteCSV(w io.Writer, cands []contracts.Candidate) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return err
	}
	for _, c := range cands {
		if err := cw.Write(row(c)); err != nil {
			return fmt.Errorf("write %s: %w", c.Code, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the candidates as an indented array
func WriteJSON(w io.Writer, cands []contracts.Candidate) error {
	if cands == nil {
		cands = []contracts.Candidate{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(cands)
}

// WriteXLSX writes a single-sheet workbook with numeric cells
func WriteXLSX(w io.Writer, cands []contracts.Candidate) error {
	wb := excelize.NewFile()
	defer wb.Close()

	if err := wb.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := wb.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}

	for r, c := range cands {
		for i, v := range values(c) {
			cell, _ := excelize.CoordinatesToCellName(i+1, r+2)
			if err := wb.SetCellValue(sheetName, cell, v); err != nil {
				return fmt.Errorf("cell %s: %w", cell, err)
			}
		}
	}

	last, _ := excelize.ColumnNumberToName(len(headers))
	_ = wb.SetColWidth(sheetName, "A", last, 14)
	_ = wb.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	_, err := wb.WriteTo(w)
	return err
}

// values is one candidate's row. Missing numbers are nil so the cell stays empty.
func values(c contracts.Candidate) []interface{} {
	return []interface{}{
		c.Code,
		c.Name,
		c.Score,
		date(c.BuyDate),
		c.BuyPrice,
		c.CurrentPrice,
		opt(c.MarketCap),
		opt(c.Gain4W),
		opt(c.Gain10W),
		opt(c.Gain20W),
		opt(c.MaxGain10W),
		c.StopLossPrice,
		opt(c.BestSellPrice),
		optDate(c.BestSellDate),
		c.DataOutdated,
	}
}

func row(c contracts.Candidate) []string {
	vals := values(c)
	out := make([]string, len(vals))
	for i, v := range vals {
		switch x := v.(type) {
		case nil:
			out[i] = ""
		case float64:
			out[i] = strconv.FormatFloat(x, 'f', -1, 64)
		case bool:
			out[i] = strconv.FormatBool(x)
		case string:
			out[i] = x
		default:
			out[i] = fmt.Sprint(x)
		}
	}
	return out
}

func opt(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func optDate(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return date(*t)
}
