// Package soql provides quoting and escaping helpers for building SOQL and
// SOSL statements from untrusted values.
//
// https://developer.salesforce.com/docs/atlas.en-us.soql_sosl.meta/soql_sosl/sforce_api_calls_soql_select_quotedstringescapes.htm
package soql

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var escaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\b", `\b`,
	"\f", `\f`,
)

var likeEscaper = strings.NewReplacer(
	"%", `\%`,
	"_", `\_`,
)

// Date is a calendar date (no time component). SOQL distinguishes date
// literals from datetime literals, so time.Time values always format as the
// latter and Date covers the former.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// QuoteValue renders a single value (or a slice of values) as a SOQL
// literal. Strings are escaped and single-quoted, booleans and numbers are
// rendered bare, nil becomes null, slices become parenthesized lists,
// time.Time becomes a UTC datetime literal without sub-second precision and
// Date a plain date literal. Any other type is an error.
func QuoteValue(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "null", nil
	case string:
		return "'" + escaper.Replace(v) + "'", nil
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case time.Time:
		// Salesforce requires a zoned datetime literal without microseconds.
		return v.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05-07:00"), nil
	case Date:
		return v.String(), nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		quoted := make([]string, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			q, err := QuoteValue(rv.Index(i).Interface())
			if err != nil {
				return "", err
			}
			quoted[i] = q
		}
		return "(" + strings.Join(quoted, ",") + ")", nil
	}

	return "", fmt.Errorf("unquotable value type %T", value)
}

// EscapeLike escapes a substring for use inside a LIKE pattern. The result
// is not quoted.
func EscapeLike(s string) string {
	return likeEscaper.Replace(escaper.Replace(s))
}

// Format substitutes the args into query, quoting each one for SOQL.
// Placeholders:
//
//	{}         quoted via QuoteValue
//	{:literal} inserted verbatim, circumventing quoting
//	{:like}    escaped for a LIKE expression, not quoted
//
// Doubled braces ({{ and }}) emit literal braces.
func Format(query string, args ...interface{}) (string, error) {
	var b strings.Builder
	argIdx := 0
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch ch {
		case '{':
			if i+1 < len(query) && query[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(query[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("unclosed placeholder at offset %d", i)
			}
			spec := query[i+1 : i+end]
			if argIdx >= len(args) {
				return "", fmt.Errorf("not enough arguments for query (have %d)", len(args))
			}
			arg := args[argIdx]
			argIdx++
			switch spec {
			case "":
				quoted, err := QuoteValue(arg)
				if err != nil {
					return "", err
				}
				b.WriteString(quoted)
			case ":literal":
				b.WriteString(fmt.Sprint(arg))
			case ":like":
				b.WriteString(EscapeLike(fmt.Sprint(arg)))
			default:
				return "", fmt.Errorf("unknown format spec %q", spec)
			}
			i += end
		case '}':
			if i+1 < len(query) && query[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return "", fmt.Errorf("unmatched '}' at offset %d", i)
		default:
			b.WriteByte(ch)
		}
	}
	if argIdx != len(args) {
		return "", fmt.Errorf("too many arguments for query (used %d of %d)", argIdx, len(args))
	}
	return b.String(), nil
}

// FormatExternalID builds the external-ID path segment used by get and
// upsert calls: the field name, a slash, and the percent-encoded value. All
// reserved characters in the value are encoded, including '/'.
func FormatExternalID(field, value string) string {
	return field + "/" + percentEncode(value)
}

func percentEncode(s string) string {
	const upperhex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' ||
			c == '-' || c == '_' || c == '.' || c == '~' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

// EncodeTimestamp renders t for interpolation into the deleted/updated URL
// query string: ISO-8601 with every ':' as %3A and '+' as %2B, since the
// result is spliced into an already-built URL.
func EncodeTimestamp(t time.Time) string {
	s := t.Format("2006-01-02T15:04:05-07:00")
	s = strings.ReplaceAll(s, ":", "%3A")
	return strings.ReplaceAll(s, "+", "%2B")
}
