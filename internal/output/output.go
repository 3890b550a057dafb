// Package output persists Result Sets as JSON and CSV files.
//
// Both writers render the whole file in memory and then replace the target
// atomically, so a failed write never leaves a truncated file behind. Every
// failure is a scrapeerr.IO error.
package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"

	"scrape/internal/record"
	"scrape/internal/scrapeerr"

	"go.uber.org/zap"
)

// ListSeparator joins multi-valued fields in CSV cells.
const ListSeparator = ", "

// WriteJSON writes rs to path as two-space indented UTF-8 JSON with HTML
// characters left unescaped. An empty Result Set writes nothing.
func WriteJSON(rs *record.ResultSet, path string) error {
	if rs == nil || rs.Len() == 0 {
		zap.L().Info("no records, json not written", zap.String("path", path), taskField(rs))
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rs); err != nil {
		return scrapeerr.New(scrapeerr.IO, "write json "+path, err)
	}
	if err := writeFileAtomic(path, &buf); err != nil {
		return scrapeerr.New(scrapeerr.IO, "write json "+path, err)
	}
	zap.L().Info("json written", zap.String("path", path), zap.Int("records", rs.Len()), taskField(rs))
	return nil
}

// WriteCSV writes rs to path. The header is the first record's keys; a record
// with a different key sequence fails the write and nothing is written. An
// empty Result Set writes nothing.
func WriteCSV(rs *record.ResultSet, path string) error {
	if rs == nil || rs.Len() == 0 {
		zap.L().Info("no records, csv not written", zap.String("path", path), taskField(rs))
		return nil
	}

	header := rs.Records[0].Keys()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return scrapeerr.New(scrapeerr.IO, "write csv "+path, err)
	}

	row := make([]string, len(header))
	for i, rec := range rs.Records {
		if keys := rec.Keys(); !slices.Equal(keys, header) {
			return scrapeerr.Newf(scrapeerr.IO, "write csv "+path,
				"record %d has fields %v, header is %v", i, keys, header)
		}
		for j, f := range rec.Fields() {
			row[j] = f.Value.Join(ListSeparator)
		}
		if err := w.Write(row); err != nil {
			return scrapeerr.New(scrapeerr.IO, "write csv "+path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return scrapeerr.New(scrapeerr.IO, "write csv "+path, err)
	}

	if err := writeFileAtomic(path, &buf); err != nil {
		return scrapeerr.New(scrapeerr.IO, "write csv "+path, err)
	}
	zap.L().Info("csv written", zap.String("path", path), zap.Int("records", rs.Len()), taskField(rs))
	return nil
}

func taskField(rs *record.ResultSet) zap.Field {
	if rs == nil {
		return zap.Skip()
	}
	return zap.String("task", rs.Task)
}

// writeFileAtomic copies r into a temp file next to path and renames it into
// place. The parent directory is created when missing.
func writeFileAtomic(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".scrape-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()

	if copyErr != nil {
		_ = os.Remove(tmpName)
		return copyErr
	}
	if closeErr != nil {
		_ = os.Remove(tmpName)
		return closeErr
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
