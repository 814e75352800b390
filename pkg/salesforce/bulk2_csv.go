package salesforce

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"
)

// ColumnDelimiter names a Bulk 2.0 CSV column delimiter.
type ColumnDelimiter string

const (
	DelimiterBackquote ColumnDelimiter = "BACKQUOTE"
	DelimiterCaret     ColumnDelimiter = "CARET"
	DelimiterComma     ColumnDelimiter = "COMMA"
	DelimiterPipe      ColumnDelimiter = "PIPE"
	DelimiterSemicolon ColumnDelimiter = "SEMICOLON"
	DelimiterTab       ColumnDelimiter = "TAB"
)

// LineEnding names a Bulk 2.0 CSV line ending.
type LineEnding string

const (
	LineEndingLF   LineEnding = "LF"
	LineEndingCRLF LineEnding = "CRLF"
)

var delimiterRunes = map[ColumnDelimiter]rune{
	DelimiterBackquote: '`',
	DelimiterCaret:     '^',
	DelimiterComma:     ',',
	DelimiterPipe:      '|',
	DelimiterSemicolon: ';',
	DelimiterTab:       '\t',
}

func delimiterRune(d ColumnDelimiter) (rune, error) {
	r, ok := delimiterRunes[d]
	if !ok {
		return 0, fmt.Errorf("unknown column delimiter %q", d)
	}
	return r, nil
}

func lineEndingString(le LineEnding) string {
	if le == LineEndingCRLF {
		return "\r\n"
	}
	return "\n"
}

// recordsToCSV renders records as one CSV document. The header is the
// sorted union of all field names; records missing a field emit an empty
// cell. Values are stringified with fmt, so non-string field values should
// already be in their Salesforce text form.
func recordsToCSV(records []Record, delimiter ColumnDelimiter, lineEnding LineEnding) (string, error) {
	comma, err := delimiterRune(delimiter)
	if err != nil {
		return "", err
	}

	fieldSet := map[string]struct{}{}
	for _, record := range records {
		for field := range record {
			fieldSet[field] = struct{}{}
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for field := range fieldSet {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = comma
	w.UseCRLF = lineEnding == LineEndingCRLF

	if err := w.Write(fields); err != nil {
		return "", err
	}
	row := make([]string, len(fields))
	for _, record := range records {
		for i, field := range fields {
			value, ok := record[field]
			if !ok || value == nil {
				row[i] = ""
				continue
			}
			if s, isString := value.(string); isString {
				row[i] = s
			} else {
				row[i] = fmt.Sprint(value)
			}
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}

// csvToRecords parses a CSV document into records keyed by the header row.
func csvToRecords(data []byte, delimiter ColumnDelimiter) ([]Record, error) {
	comma, err := delimiterRune(delimiter)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = comma
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv results: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	header := rows[0]
	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := Record{}
		for i, field := range header {
			if i < len(row) {
				record[field] = row[i]
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// splitCSV splits a rendered CSV document into upload chunks, each carrying
// the header row and holding at most maxRecords data rows and maxBytes
// bytes. A single row larger than maxBytes is an error.
func splitCSV(csvData string, lineEnding LineEnding, maxRecords, maxBytes int) ([]string, error) {
	sep := lineEndingString(lineEnding)
	trimmed := strings.TrimSuffix(csvData, sep)
	lines := strings.Split(trimmed, sep)
	if len(lines) == 0 || lines[0] == "" {
		return nil, nil
	}
	header := lines[0] + sep

	var chunks []string
	var chunk strings.Builder
	chunkRecords := 0
	for _, line := range lines[1:] {
		row := line + sep
		if len(header)+len(row) > maxBytes {
			return nil, &BulkV2LoadError{Message: fmt.Sprintf(
				"record is too large for a single upload chunk: %d bytes", len(row))}
		}
		needFlush := chunkRecords > 0 &&
			(chunkRecords >= maxRecords || chunk.Len()+len(row) > maxBytes)
		if needFlush {
			chunks = append(chunks, chunk.String())
			chunk.Reset()
			chunkRecords = 0
		}
		if chunkRecords == 0 {
			chunk.WriteString(header)
		}
		chunk.WriteString(row)
		chunkRecords++
	}
	if chunkRecords > 0 {
		chunks = append(chunks, chunk.String())
	}
	return chunks, nil
}

// filterNullBytes drops NUL bytes, which Salesforce occasionally emits in
// CSV result payloads and which break downstream CSV parsing.
func filterNullBytes(data []byte) []byte {
	if !bytes.ContainsRune(data, 0) {
		return data
	}
	return bytes.ReplaceAll(data, []byte{0}, nil)
}
