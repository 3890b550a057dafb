package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"scrape/internal/record"
)

const (
	hashFieldSep = "\x1f"
	hashItemSep  = "\x1e"
)

// RowHash returns a deterministic SHA-256 hex digest of rec's values for
// fields, so the same record scraped in two runs can be matched in SQL.
//
// Canonicalization rules:
//   - Components are "name=value", in fields order, joined by 0x1f.
//   - A missing field is encoded as a single NUL byte so missing differs from
//     empty.
//   - List items are joined by 0x1e; an empty list encodes as "[]".
//   - Values are not trimmed; normalization already happened upstream.
func RowHash(rec record.Record, fields []string) string {
	var b strings.Builder
	b.Grow(len(fields) * 20)

	for i, f := range fields {
		if i > 0 {
			b.WriteString(hashFieldSep)
		}
		b.WriteString(f)
		b.WriteByte('=')

		v, ok := rec.Get(f)
		switch {
		case !ok:
			b.WriteByte('\x00')
		case v.Multi && len(v.Items) == 0:
			b.WriteString("[]")
		case v.Multi:
			b.WriteString(strings.Join(v.Items, hashItemSep))
		default:
			b.WriteString(v.Text)
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
