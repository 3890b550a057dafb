package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
)

// DefaultRecordsKey is the JSON key holding the records when a task sets none.
const DefaultRecordsKey = "records"

// Meta describes one extraction run of one task.
type Meta struct {
	Task       string            `json:"task"`
	RunID      string            `json:"run_id"`
	SourceURL  string            `json:"source_url"`
	ScrapedAt  time.Time         `json:"scraped_at"`
	Count      int               `json:"count"`
	Skipped    int               `json:"skipped"`
	Containers int               `json:"containers"`
	Fields     []string          `json:"fields"`
	Page       map[string]string `json:"page,omitempty"`
}

// ResultSet is the ordered output of one task plus its metadata.
type ResultSet struct {
	Meta
	RecordsKey string
	Records    []Record
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// Empty returns a Result Set with no records, used when a task fails before
// extraction.
func Empty(task, runID, sourceURL string, fields []string, at time.Time) *ResultSet {
	return &ResultSet{
		Meta: Meta{
			Task:      task,
			RunID:     runID,
			SourceURL: sourceURL,
			ScrapedAt: at,
			Fields:    fields,
		},
		Records: []Record{},
	}
}

// Key returns the records key, falling back to DefaultRecordsKey.
func (rs *ResultSet) Key() string {
	if rs.RecordsKey == "" {
		return DefaultRecordsKey
	}
	return rs.RecordsKey
}

// Len is the number of records.
func (rs *ResultSet) Len() int { return len(rs.Records) }

// MarshalJSON writes the metadata keys first, then the records under Key().
// Count is always len(Records).
func (rs ResultSet) MarshalJSON() ([]byte, error) {
	meta := rs.Meta
	meta.Count = len(rs.Records)
	if meta.Fields == nil {
		meta.Fields = []string{}
	}

	head, err := encode(meta)
	if err != nil {
		return nil, err
	}
	records := rs.Records
	if records == nil {
		records = []Record{}
	}
	body, err := encode(records)
	if err != nil {
		return nil, err
	}
	key, err := encode(rs.Key())
	if err != nil {
		return nil, err
	}

	// head is a JSON object; splice the records in before its closing brace.
	var buf bytes.Buffer
	buf.Write(head[:len(head)-1])
	buf.WriteByte(',')
	buf.Write(key)
	buf.WriteByte(':')
	buf.Write(body)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ReservedKey reports whether k is a metadata key and so cannot hold the
// records.
func ReservedKey(k string) bool { return metaKeys[k] }

var metaKeys = map[string]bool{
	"task": true, "run_id": true, "source_url": true, "scraped_at": true,
	"count": true, "skipped": true, "containers": true, "fields": true, "page": true,
}

func (rs *ResultSet) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(b, &rs.Meta); err != nil {
		return err
	}

	rs.RecordsKey = ""
	rs.Records = nil
	for k, v := range raw {
		if metaKeys[k] {
			continue
		}
		if rs.RecordsKey != "" {
			return fmt.Errorf("result set: more than one records key (%q, %q)", rs.RecordsKey, k)
		}
		rs.RecordsKey = k
		if err := json.Unmarshal(v, &rs.Records); err != nil {
			return fmt.Errorf("result set: records: %w", err)
		}
	}
	if rs.Records == nil {
		rs.Records = []Record{}
	}
	return nil
}

// DecodeJSON reads a Result Set written by output.WriteJSON.
func DecodeJSON(r io.Reader) (*ResultSet, error) {
	var rs ResultSet
	if err := json.NewDecoder(r).Decode(&rs); err != nil {
		return nil, fmt.Errorf("decode result set: %w", err)
	}
	return &rs, nil
}

// ReadJSON reads a Result Set file.
func ReadJSON(path string) (*ResultSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open result set: %w", err)
	}
	defer f.Close()
	return DecodeJSON(f)
}
