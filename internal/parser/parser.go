// Package parser turns downloaded audit-log files into domain entries.
package parser

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"unqork-logs/internal/domain"
)

// DefaultTolerance is the largest fraction of malformed records a file may
// contain before it is rejected as a whole.
const DefaultTolerance = 0.1

// maxDecompressedSize bounds how much a single file may inflate to.
const maxDecompressedSize = 1 << 30

// maxLineSize bounds a single NDJSON line.
var maxLineSize = maxDecompressedSize

// maxWarnings caps the per-file warnings kept in a ParseResult.
const maxWarnings = 20

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zipMagic  = []byte("PK\x03\x04")
	utf8BOM   = []byte{0xef, 0xbb, 0xbf}
)

// ParseResult is the outcome of parsing one file.
type ParseResult struct {
	Entries   []domain.AuditEntry
	Total     int // records seen, blank lines excluded
	Malformed int
	Warnings  []string
}

// Parser decodes compressed NDJSON audit-log files. It is stateless and safe
// for concurrent use.
type Parser struct {
	tolerance float64
	logger    *slog.Logger
}

// New creates a Parser. A tolerance outside [0, 1] falls back to DefaultTolerance.
func New(tolerance float64, logger *slog.Logger) *Parser {
	if tolerance < 0 || tolerance > 1 {
		tolerance = DefaultTolerance
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{tolerance: tolerance, logger: logger.With("component", "parser")}
}

// Parse decompresses data and decodes every record in it. Individual bad
// records are skipped and counted. The whole file fails with a
// *domain.ParseError when it cannot be decompressed or when the malformed
// fraction exceeds the tolerance.
func (p *Parser) Parse(data []byte) (*ParseResult, error) {
	text, err := decompress(data)
	if err != nil {
		return nil, &domain.ParseError{Message: "decompress log file", Err: err}
	}

	records, err := splitRecords(text)
	if err != nil {
		return nil, &domain.ParseError{Message: "split log records", Err: err}
	}

	res := &ParseResult{}
	for i, raw := range records {
		res.Total++
		entry, err := decodeEntry(raw)
		if err != nil {
			res.Malformed++
			p.logger.Debug("skipping malformed record", "record", i+1, "error", err)
			if len(res.Warnings) < maxWarnings {
				res.Warnings = append(res.Warnings, fmt.Sprintf("record %d: %v", i+1, err))
			}
			continue
		}
		res.Entries = append(res.Entries, entry)
	}

	if res.Total > 0 && float64(res.Malformed)/float64(res.Total) > p.tolerance {
		return nil, &domain.ParseError{
			Message:   "too many malformed records",
			Malformed: res.Malformed,
			Total:     res.Total,
		}
	}
	return res, nil
}

// decompress tries gzip, then zip, then uncompressed JSON text.
func decompress(data []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(data, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close() //nolint:errcheck
		return readLimited(zr, "gzip")

	case bytes.HasPrefix(data, zipMagic):
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, fmt.Errorf("zip: %w", err)
		}
		var buf bytes.Buffer
		for _, f := range zr.File {
			if f.FileInfo().IsDir() {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("zip member %s: %w", f.Name, err)
			}
			member, err := readLimited(rc, "zip member "+f.Name)
			_ = rc.Close()
			if err != nil {
				return nil, err
			}
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.Write(member)
		}
		return buf.Bytes(), nil
	}

	text := bytes.TrimPrefix(data, utf8BOM)
	trimmed := bytes.TrimSpace(text)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && utf8.Valid(trimmed) {
		return text, nil
	}
	return nil, errors.New("unrecognised format (tried gzip, zip, raw text)")
}

func readLimited(r io.Reader, what string) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	if len(b) > maxDecompressedSize {
		return nil, fmt.Errorf("%s: decompressed size exceeds %d bytes", what, maxDecompressedSize)
	}
	return b, nil
}

// splitRecords returns the raw bytes of each record. A body that is a single
// JSON array yields its elements; anything else is treated as NDJSON.
func splitRecords(text []byte) ([][]byte, error) {
	trimmed := bytes.TrimSpace(text)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err == nil {
			records := make([][]byte, 0, len(elems))
			for _, e := range elems {
				records = append(records, []byte(e))
			}
			return records, nil
		}
	}

	var records [][]byte
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		records = append(records, bytes.Clone(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("after %d records: %w", len(records), err)
	}
	return records, nil
}

// wireRecord is the subset of the audit-log schema that is indexed. Alternate
// snake_case spellings seen in older exports are accepted too.
type wireRecord struct {
	ID             json.RawMessage `json:"id"`
	Timestamp      string          `json:"timestamp"`
	Date           string          `json:"date"`
	Category       string          `json:"category"`
	Action         string          `json:"action"`
	EventType      string          `json:"eventType"`
	EventTypeSnake string          `json:"event_type"`
	Source         string          `json:"source"`
	Object         struct {
		Type    string `json:"type"`
		Outcome struct {
			Type string `json:"type"`
		} `json:"outcome"`
		Actor struct {
			Type       string `json:"type"`
			Identifier struct {
				Value string `json:"value"`
			} `json:"identifier"`
		} `json:"actor"`
		Context struct {
			Environment    string `json:"environment"`
			ClientIP       string `json:"clientIp"`
			ClientIPSnake  string `json:"client_ip"`
			Host           string `json:"host"`
			SessionID      string `json:"sessionId"`
			SessionIDSnake string `json:"session_id"`
		} `json:"context"`
	} `json:"object"`
}

func decodeEntry(raw []byte) (domain.AuditEntry, error) {
	if len(raw) == 0 || raw[0] != '{' {
		return domain.AuditEntry{}, errors.New("record is not a JSON object")
	}
	var rec wireRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	ts, err := parseTimestamp(firstNonEmpty(rec.Timestamp, rec.Date))
	if err != nil {
		return domain.AuditEntry{}, err
	}
	if strings.TrimSpace(rec.Action) == "" {
		return domain.AuditEntry{}, errors.New("missing action")
	}

	id, err := entryID(rec.ID, raw)
	if err != nil {
		return domain.AuditEntry{}, err
	}

	ctx := rec.Object.Context
	e := domain.AuditEntry{
		ID:          id,
		Timestamp:   ts,
		Category:    domain.Category(rec.Category),
		Action:      rec.Action,
		EventType:   firstNonEmpty(rec.EventType, rec.EventTypeSnake),
		Source:      rec.Source,
		Actor:       rec.Object.Actor.Identifier.Value,
		ActorType:   rec.Object.Actor.Type,
		Outcome:     domain.Outcome(rec.Object.Outcome.Type),
		ClientIP:    firstNonEmpty(ctx.ClientIP, ctx.ClientIPSnake),
		Environment: ctx.Environment,
		Host:        ctx.Host,
		SessionID:   firstNonEmpty(ctx.SessionID, ctx.SessionIDSnake),
		ObjectType:  rec.Object.Type,
		Raw:         raw,
	}
	e.SearchText = e.BuildSearchText()
	return e, nil
}

// entryID returns the record's own string id when it has one, otherwise a
// content hash of the compacted record.
func entryID(idField json.RawMessage, raw []byte) (string, error) {
	if len(idField) > 0 {
		var s string
		if err := json.Unmarshal(idField, &s); err == nil && strings.TrimSpace(s) != "" {
			return s, nil
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", fmt.Errorf("compact record: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])[:16], nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("missing timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
