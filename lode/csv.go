package lode

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/pithecene-io/colony/types"
)

// Columns is the header of every chunk and merged artifact.
var Columns = []string{
	"abs_time_sec",
	"counter_ext",
	"counter_scaled",
	"local_time_sec",
	"a0",
	"a1",
	"a2",
	"agent_id",
	"chunk_id",
}

// Row is one CSV line: a reconstructed sample plus its provenance.
type Row struct {
	types.ChunkRow
	AgentID uint8
	ChunkID string
}

// chunkRows tags each sample of c with the chunk's identity.
func chunkRows(c *types.Chunk) []Row {
	rows := make([]Row, len(c.Rows))
	for i, r := range c.Rows {
		rows[i] = Row{ChunkRow: r, AgentID: c.AgentID, ChunkID: c.ChunkID}
	}
	return rows
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// encodeRows renders rows with a header line.
func encodeRows(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Columns); err != nil {
		return nil, err
	}
	record := make([]string, len(Columns))
	for _, r := range rows {
		record[0] = formatFloat(r.AbsTime)
		record[1] = strconv.FormatUint(r.CounterExt, 10)
		record[2] = strconv.FormatUint(r.CounterScaled, 10)
		record[3] = formatFloat(r.LocalTime)
		record[4] = strconv.Itoa(int(r.A0))
		record[5] = strconv.Itoa(int(r.A1))
		record[6] = strconv.Itoa(int(r.A2))
		record[7] = strconv.Itoa(int(r.AgentID))
		record[8] = r.ChunkID
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeRows parses an artifact written by encodeRows. Parse failures wrap ErrCorrupt.
func decodeRows(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Columns)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("missing header: %w", ErrCorrupt)
	}
	if err != nil {
		return nil, fmt.Errorf("header: %v: %w", err, ErrCorrupt)
	}
	for i, col := range Columns {
		if header[i] != col {
			return nil, fmt.Errorf("column %d is %q, want %q: %w", i, header[i], col, ErrCorrupt)
		}
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %v: %w", line, err, ErrCorrupt)
		}
		row, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %v: %w", line, err, ErrCorrupt)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRow(rec []string) (Row, error) {
	var (
		r   Row
		err error
	)
	if r.AbsTime, err = strconv.ParseFloat(rec[0], 64); err != nil {
		return r, err
	}
	if r.CounterExt, err = strconv.ParseUint(rec[1], 10, 64); err != nil {
		return r, err
	}
	if r.CounterScaled, err = strconv.ParseUint(rec[2], 10, 64); err != nil {
		return r, err
	}
	if r.LocalTime, err = strconv.ParseFloat(rec[3], 64); err != nil {
		return r, err
	}
	bytesOut := []*uint8{&r.A0, &r.A1, &r.A2, &r.AgentID}
	for i, dst := range bytesOut {
		v, err := strconv.ParseUint(rec[4+i], 10, 8)
		if err != nil {
			return r, err
		}
		*dst = uint8(v)
	}
	r.ChunkID = rec[8]
	return r, nil
}
