package annotate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/theimaginaryfoundation/chat-emotions/annotate/fileutils"
)

// Output formats. FormatSQLite is written by the store package, not WriteResults.
const (
	FormatCSV    = "csv"
	FormatJSONL  = "jsonl"
	FormatSQLite = "sqlite"
)

var csvHeader = []string{"index", "message_id", "date", "from", "text", "emotion"}

// FormatFromPath guesses the output format from a file extension.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite
	default:
		return FormatCSV
	}
}

// WriteResults writes rs to path in one atomic write.
func WriteResults(path, format string, rs ResultSet, overwrite bool) error {
	if path == "" {
		return errors.New("WriteResults: path is empty")
	}
	if err := fileutils.CheckWritable(path, overwrite); err != nil {
		return fmt.Errorf("WriteResults: %w", err)
	}

	switch format {
	case FormatCSV:
		records := make([][]string, 0, rs.Len())
		for _, r := range rs.results {
			records = append(records, []string{
				strconv.Itoa(r.Index),
				strconv.FormatInt(r.MessageID, 10),
				r.Date,
				r.From,
				r.Text,
				string(r.Emotion),
			})
		}
		if err := fileutils.WriteCSVAtomic(path, csvHeader, records); err != nil {
			return fmt.Errorf("WriteResults: %w", err)
		}
	case FormatJSONL:
		if err := fileutils.WriteJSONLinesAtomic(path, rs.results); err != nil {
			return fmt.Errorf("WriteResults: %w", err)
		}
	default:
		return fmt.Errorf("WriteResults: unsupported format %q", format)
	}
	return nil
}

// StatsPath is the sidecar path that carries the run stats of an output file.
func StatsPath(outPath string) string {
	return outPath + ".stats.json"
}

// WriteStats writes the run stats sidecar for outPath.
func WriteStats(outPath string, stats RunStats, pretty bool) error {
	if err := fileutils.WriteJSONFileAtomic(StatsPath(outPath), stats, pretty); err != nil {
		return fmt.Errorf("WriteStats: %w", err)
	}
	return nil
}

// ReadResults reads a csv or jsonl result file.
func ReadResults(path, format string) ([]Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ReadResults: open: %w", err)
	}
	defer f.Close()

	switch format {
	case FormatJSONL:
		out, err := fileutils.ReadJSONLines[Result](f)
		if err != nil {
			return nil, fmt.Errorf("ReadResults: %s: %w", path, err)
		}
		return out, nil
	case FormatCSV:
		out, err := readCSVResults(f)
		if err != nil {
			return nil, fmt.Errorf("ReadResults: %s: %w", path, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("ReadResults: unsupported format %q", format)
	}
}

func readCSVResults(r io.Reader) ([]Result, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, h := range csvHeader {
		if strings.TrimSpace(header[i]) != h {
			return nil, fmt.Errorf("unexpected column %d %q, want %q", i, header[i], h)
		}
	}

	var out []Result
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		idx, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: index: %w", line, err)
		}
		id, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: message_id: %w", line, err)
		}
		out = append(out, Result{
			Index:     idx,
			MessageID: id,
			Date:      rec[2],
			From:      rec[3],
			Text:      rec[4],
			Emotion:   Label(rec[5]),
		})
	}
	return out, nil
}
