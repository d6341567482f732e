package forecast

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"negotiator/internal/pkg/convert"
	"negotiator/internal/types"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// CSVHeader is the column layout of the persisted history artifact. level is
// the recording agent's own role; some older collectors wrote the partner's
// role there, read those with FileSource.PartnerLevel.
var CSVHeader = []string{
	"level", "my_remaining_exog", "opp_last_exog", "time", "rem_negotiations",
	"q", "p", "min_price", "max_price",
}

// FileSource reads records from a CSV file, transparently decompressing .gz and .zst.
type FileSource struct {
	Path string
	// PartnerLevel treats the level column as the partner's role and flips it.
	PartnerLevel bool
}

func (s FileSource) Records(ctx context.Context) ([]Record, error) {
	f, err := os.Open(strings.TrimSpace(s.Path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, closeFn, err := decompress(s.Path, bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	defer closeFn()
	records, err := ReadCSV(ctx, r)
	if err != nil {
		return nil, err
	}
	if s.PartnerLevel {
		for i := range records {
			records[i].Role = records[i].Role.Opposite()
		}
	}
	return records, nil
}

func decompress(path string, r io.Reader) (io.Reader, func(), error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gz, func() { _ = gz.Close() }, nil
	case strings.HasSuffix(lower, ".zst"):
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	default:
		return r, func() {}, nil
	}
}

// ReadCSV parses records. Columns are matched by header name so extra columns are ignored.
func ReadCSV(ctx context.Context, r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range CSVHeader {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}
	var out []Record
	for line := 2; ; line++ {
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec, err := parseRow(row, idx)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseRow(row []string, idx map[string]int) (Record, error) {
	get := func(col string) string { return row[idx[col]] }
	role, err := types.ParseRole(get("level"))
	if err != nil {
		return Record{}, err
	}
	var rec Record
	rec.Role = role
	ints := []struct {
		col string
		dst *int
	}{
		{"my_remaining_exog", &rec.OwnRemaining},
		{"opp_last_exog", &rec.OpponentLastQty},
		{"time", &rec.Step},
		{"q", &rec.Quantity},
	}
	for _, f := range ints {
		v, err := convert.ParseInt(get(f.col))
		if err != nil {
			return Record{}, fmt.Errorf("%s: %w", f.col, err)
		}
		*f.dst = v
	}
	floats := []struct {
		col string
		dst *float64
	}{
		{"rem_negotiations", &rec.RemainingFraction},
		{"p", &rec.UnitPrice},
		{"min_price", &rec.MinPrice},
		{"max_price", &rec.MaxPrice},
	}
	for _, f := range floats {
		v, err := convert.ParseFloat(get(f.col))
		if err != nil {
			return Record{}, fmt.Errorf("%s: %w", f.col, err)
		}
		*f.dst = v
	}
	return rec, nil
}

// WriteCSV writes records in the artifact layout.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Role.String(),
			strconv.Itoa(r.OwnRemaining),
			strconv.Itoa(r.OpponentLastQty),
			strconv.Itoa(r.Step),
			convert.FormatFloat(r.RemainingFraction),
			strconv.Itoa(r.Quantity),
			convert.FormatFloat(r.UnitPrice),
			convert.FormatFloat(r.MinPrice),
			convert.FormatFloat(r.MaxPrice),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes records to path, compressing by extension like FileSource reads.
func WriteFile(path string, records []Record) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		gz := gzip.NewWriter(f)
		if err := WriteCSV(gz, records); err != nil {
			return err
		}
		return gz.Close()
	case strings.HasSuffix(lower, ".zst"):
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		if err := WriteCSV(enc, records); err != nil {
			return err
		}
		return enc.Close()
	default:
		return WriteCSV(f, records)
	}
}
