package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"backlab/internal/market"
)

// LoadCSV 从本地 CSV 读取 K 线，列顺序 ts,open,high,low,close,volume，
// 首行若是表头自动跳过，输出按时间升序。
func LoadCSV(path string) (market.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseCSV(f)
}

func parseCSV(r io.Reader) (market.Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	var out market.Series
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(record) < 6 {
			return nil, fmt.Errorf("csv line %d: want 6 columns, got %d", line, len(record))
		}
		if line == 1 && !isNumeric(record[0]) {
			continue // 表头
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: bad timestamp %q", line, record[0])
		}
		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d: bad number %q", line, record[i+1])
			}
			vals[i] = v
		}
		out = append(out, market.Bar{
			Timestamp: ts,
			Open:      vals[0], High: vals[1], Low: vals[2], Close: vals[3],
			Volume: vals[4],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func isNumeric(s string) bool {
	_, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return err == nil
}
