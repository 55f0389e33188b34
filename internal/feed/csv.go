// Package feed loads OHLCV market data for script execution.
package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/strataquant/dslengine/series"
)

// columns the loader requires, matched against the header case-insensitively.
var requiredColumns = []string{"open", "high", "low", "close", "volume"}

// LoadCSV reads an OHLCV file into a frame. The first row must be a header
// naming at least open, high, low, close, and volume; extra columns are
// ignored.
func LoadCSV(path string) (*series.Frame, error) {
	// #nosec G304 -- file path is operator provided via CLI flags.
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	defer file.Close()
	return ReadCSV(file)
}

// ReadCSV parses OHLCV rows from the reader.
func ReadCSV(r io.Reader) (*series.Frame, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("csv header missing %q column", name)
		}
	}

	values := make(map[string][]float64, len(requiredColumns))
	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		row++
		for _, name := range requiredColumns {
			raw := strings.TrimSpace(record[index[name]])
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: parse %s value %q: %w", row, name, raw, err)
			}
			values[name] = append(values[name], v)
		}
	}
	if len(values["close"]) == 0 {
		return nil, fmt.Errorf("csv file has no data rows")
	}

	cols := make([]*series.Series, 0, len(requiredColumns))
	for _, name := range requiredColumns {
		cols = append(cols, series.New(name, values[name]))
	}
	return series.FromColumns(cols...)
}
