// Package grading compares a sandbox result set with a stored expected output.
//
// Comparison policy:
//
//  1. The column count must match. Expected rows written as JSON arrays are
//     compared positionally, so column order matters. Expected rows written as
//     JSON objects are compared by column name, and the names must match the
//     result columns exactly.
//  2. Values are compared by canonical string. NULL is "NULL", booleans are
//     "true"/"false", integers are plain base 10, other numbers are fixed point
//     rounded to four decimals with trailing zeros trimmed, strings holding a
//     number are canonicalised the same way, everything else is compared
//     verbatim.
//  3. Row order matters when the submitted query or the reference solution has
//     a top-level ORDER BY. Otherwise rows are compared as multisets.
package grading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/sqlpractice-api/internal/sqltext"
)

// ErrMalformedExpectedOutput reports a stored expected output that cannot be
// decoded. It is an infrastructure problem, not a wrong answer.
var ErrMalformedExpectedOutput = errors.New("malformed expected output")

// Expected is a decoded expected output document.
type Expected struct {
	// Columns is set when rows were written as objects; it holds the keys of
	// the first row in document order.
	Columns []string
	Rows    [][]any
	byName  bool
}

// Verdict is the grading outcome.
type Verdict struct {
	IsCorrect      bool   `json:"isCorrect"`
	Message        string `json:"message"`
	OrderSensitive bool   `json:"orderSensitive"`
}

// Options tunes a comparison.
type Options struct {
	SubmittedQuery string
	SolutionQuery  string
}

func (o Options) orderSensitive() bool {
	return sqltext.HasTopLevelOrderBy(o.SubmittedQuery) || sqltext.HasTopLevelOrderBy(o.SolutionQuery)
}

// ParseExpected decodes an expected output document: a JSON array of rows, each
// row either an array of scalars or an object keyed by column name.
func ParseExpected(raw []byte) (Expected, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Expected{}, fmt.Errorf("%w: empty document", ErrMalformedExpectedOutput)
	}

	var rawRows []json.RawMessage
	if err := json.Unmarshal(trimmed, &rawRows); err != nil {
		return Expected{}, fmt.Errorf("%w: %v", ErrMalformedExpectedOutput, err)
	}

	expected := Expected{Rows: make([][]any, 0, len(rawRows))}
	for i, rawRow := range rawRows {
		rawRow = bytes.TrimSpace(rawRow)
		switch {
		case len(rawRow) > 0 && rawRow[0] == '[':
			if expected.byName {
				return Expected{}, fmt.Errorf("%w: row %d mixes array and object rows", ErrMalformedExpectedOutput, i)
			}
			values, err := decodeArrayRow(rawRow)
			if err != nil {
				return Expected{}, fmt.Errorf("%w: row %d: %v", ErrMalformedExpectedOutput, i, err)
			}
			expected.Rows = append(expected.Rows, values)
		case len(rawRow) > 0 && rawRow[0] == '{':
			if i > 0 && !expected.byName {
				return Expected{}, fmt.Errorf("%w: row %d mixes array and object rows", ErrMalformedExpectedOutput, i)
			}
			keys, values, err := decodeObjectRow(rawRow)
			if err != nil {
				return Expected{}, fmt.Errorf("%w: row %d: %v", ErrMalformedExpectedOutput, i, err)
			}
			if i == 0 {
				expected.byName = true
				expected.Columns = keys
			}
			ordered, err := alignObjectRow(expected.Columns, keys, values)
			if err != nil {
				return Expected{}, fmt.Errorf("%w: row %d: %v", ErrMalformedExpectedOutput, i, err)
			}
			expected.Rows = append(expected.Rows, ordered)
		default:
			return Expected{}, fmt.Errorf("%w: row %d is not an array or object", ErrMalformedExpectedOutput, i)
		}
	}
	return expected, nil
}

// Compare grades columns/rows against expected.
func Compare(columns []string, rows [][]any, expected Expected, opts Options) Verdict {
	orderSensitive := opts.orderSensitive()
	verdict := Verdict{OrderSensitive: orderSensitive}

	if len(rows) != len(expected.Rows) {
		verdict.Message = fmt.Sprintf("Expected %d rows, but your query returned %d.", len(expected.Rows), len(rows))
		return verdict
	}

	if expected.byName {
		aligned, ok := alignResult(columns, rows, expected.Columns)
		if !ok {
			verdict.Message = fmt.Sprintf("Expected columns %s, but your query returned %s.",
				strings.Join(expected.Columns, ", "), strings.Join(columns, ", "))
			return verdict
		}
		rows = aligned
	} else if len(expected.Rows) > 0 && len(columns) != len(expected.Rows[0]) {
		verdict.Message = fmt.Sprintf("Expected %d columns, but your query returned %d.", len(expected.Rows[0]), len(columns))
		return verdict
	}

	got := canonicalRows(rows)
	want := canonicalRows(expected.Rows)
	if !orderSensitive {
		sortRows(got)
		sortRows(want)
	}

	for i := range want {
		if !equalRow(got[i], want[i]) {
			if orderSensitive {
				verdict.Message = fmt.Sprintf("Row %d does not match the expected output.", i+1)
			} else {
				verdict.Message = "Your result set contains different rows than the expected output."
			}
			return verdict
		}
	}

	verdict.IsCorrect = true
	verdict.Message = "Correct! Your query produced the expected output."
	return verdict
}

// Encode renders rows as an expected output document in array form.
func Encode(rows [][]any) ([]byte, error) {
	if rows == nil {
		rows = [][]any{}
	}
	return json.Marshal(rows)
}

// Canonical returns the comparison form of a single value.
func Canonical(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return canonicalFloat(float64(v))
	case float64:
		return canonicalFloat(v)
	case json.Number:
		return canonicalNumeric(v.String())
	case []byte:
		return canonicalString(string(v))
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return v.Format("2006-01-02")
		}
		return v.UTC().Format(time.RFC3339)
	case string:
		return canonicalString(v)
	default:
		return fmt.Sprint(v)
	}
}

var (
	integerPattern = regexp.MustCompile(`^[+-]?\d+$`)
	decimalPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)
)

func canonicalString(s string) string {
	if decimalPattern.MatchString(s) {
		return canonicalNumeric(s)
	}
	return s
}

func canonicalNumeric(s string) string {
	if integerPattern.MatchString(s) {
		n, ok := new(big.Int).SetString(s, 10)
		if ok {
			return n.String()
		}
	}
	f, _, err := big.ParseFloat(s, 10, 128, big.ToNearestEven)
	if err != nil {
		return s
	}
	return trimDecimal(f.Text('f', 4))
}

func canonicalFloat(f float64) string {
	return trimDecimal(strconv.FormatFloat(f, 'f', 4, 64))
}

func trimDecimal(s string) string {
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "-0" {
		return "0"
	}
	return s
}

func canonicalRows(rows [][]any) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = make([]string, len(row))
		for j, value := range row {
			out[i][j] = Canonical(value)
		}
	}
	return out
}

func sortRows(rows [][]string) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})
}

func equalRow(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func alignResult(columns []string, rows [][]any, expectedColumns []string) ([][]any, bool) {
	if len(columns) != len(expectedColumns) {
		return nil, false
	}
	index := make(map[string]int, len(columns))
	for i, column := range columns {
		index[column] = i
	}
	positions := make([]int, len(expectedColumns))
	for i, name := range expectedColumns {
		pos, ok := index[name]
		if !ok {
			return nil, false
		}
		positions[i] = pos
	}

	aligned := make([][]any, len(rows))
	for i, row := range rows {
		aligned[i] = make([]any, len(positions))
		for j, pos := range positions {
			if pos < len(row) {
				aligned[i][j] = row[pos]
			}
		}
	}
	return aligned, true
}

func decodeArrayRow(raw []byte) ([]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var values []any
	if err := decoder.Decode(&values); err != nil {
		return nil, err
	}
	for _, v := range values {
		if !isScalar(v) {
			return nil, errors.New("nested values are not supported")
		}
	}
	return values, nil
}

// decodeObjectRow decodes an object row preserving key order.
func decodeObjectRow(raw []byte) ([]string, []any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	if _, err := decoder.Token(); err != nil {
		return nil, nil, err
	}
	var (
		keys   []string
		values []any
	)
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := token.(string)
		if !ok {
			return nil, nil, errors.New("object key expected")
		}
		var value any
		if err := decoder.Decode(&value); err != nil {
			return nil, nil, err
		}
		if !isScalar(value) {
			return nil, nil, errors.New("nested values are not supported")
		}
		keys = append(keys, key)
		values = append(values, value)
	}
	return keys, values, nil
}

func alignObjectRow(columns, keys []string, values []any) ([]any, error) {
	if len(keys) != len(columns) {
		return nil, fmt.Errorf("expected %d keys, got %d", len(columns), len(keys))
	}
	byKey := make(map[string]any, len(keys))
	for i, key := range keys {
		byKey[key] = values[i]
	}
	ordered := make([]any, len(columns))
	for i, column := range columns {
		value, ok := byKey[column]
		if !ok {
			return nil, fmt.Errorf("missing key %q", column)
		}
		ordered[i] = value
	}
	return ordered, nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, bool, string, json.Number, float64:
		return true
	}
	return false
}
