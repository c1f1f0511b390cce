package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// nanCell is how the dataset spells a missing number.
const nanCell = "NaN"

// Int is an integer field that may hold the "not-a-number" state. Values
// coming from the dataset or from request bodies are coerced rather than
// rejected, so a malformed cell ends up as an invalid Int instead of an error.
type Int struct {
	Value int64
	Valid bool
}

// NewInt returns a valid Int.
func NewInt(v int64) Int { return Int{Value: v, Valid: true} }

// ParseInt coerces s to an integer using its leading digits: "30" and "30.7"
// give 30, "42abc" gives 42, and anything without a leading number is invalid.
func ParseInt(s string) Int {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && isDigit(s[end]) {
		end++
	}
	if end == digits {
		return Int{}
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return Int{}
	}
	return NewInt(n)
}

// Equal reports whether both values are valid and hold the same number.
// An invalid Int never equals anything, itself included.
func (i Int) Equal(o Int) bool {
	return i.Valid && o.Valid && i.Value == o.Value
}

// String renders the CSV cell for i; invalid values are written as NaN.
func (i Int) String() string {
	if !i.Valid {
		return nanCell
	}
	return strconv.FormatInt(i.Value, 10)
}

func (i Int) MarshalJSON() ([]byte, error) {
	if !i.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(i.Value, 10)), nil
}

// UnmarshalJSON accepts numbers and numeric strings. It never fails: other
// JSON values, null included, leave i invalid. JSON numbers keep their full
// value ("1.1e2" is 110) and are truncated toward zero; strings are coerced
// by their leading digits like dataset cells.
func (i *Int) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && (data[0] == '-' || isDigit(data[0])) {
		*i = jsonNumberInt(string(data))
		return nil
	}
	*i = ParseInt(jsonScalar(data))
	return nil
}

func jsonNumberInt(tok string) Int {
	if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return NewInt(n)
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return Int{}
	}
	return NewInt(int64(f))
}

// Float is the floating point counterpart of Int.
type Float struct {
	Value float64
	Valid bool
}

// NewFloat returns a valid Float.
func NewFloat(v float64) Float { return Float{Value: v, Valid: true} }

// ParseFloat coerces the leading decimal number of s ("27.5", "27.5kg",
// "1e3") and reports anything else as invalid.
func ParseFloat(s string) Float {
	s = strings.TrimSpace(s)
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	start := i
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	intDigits := i - start
	fracDigits := 0
	if i < len(s) && s[i] == '.' {
		j := i + 1
		for j < len(s) && isDigit(s[j]) {
			j++
		}
		fracDigits = j - i - 1
		if intDigits > 0 || fracDigits > 0 {
			i = j
		}
	}
	if intDigits == 0 && fracDigits == 0 {
		return Float{}
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < len(s) && isDigit(s[k]) {
			k++
		}
		if k > j {
			i = k
		}
	}
	f, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return Float{}
	}
	return NewFloat(f)
}

func (f Float) String() string {
	if !f.Valid {
		return nanCell
	}
	return strconv.FormatFloat(f.Value, 'f', -1, 64)
}

func (f Float) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(f.Value, 'f', -1, 64)), nil
}

func (f *Float) UnmarshalJSON(data []byte) error {
	*f = ParseFloat(jsonScalar(data))
	return nil
}

// Text is a string field that also accepts JSON numbers and booleans,
// keeping their literal text. null decodes to the empty string.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	*t = Text(jsonScalar(data))
	return nil
}

// jsonScalar returns the text of a JSON number, string or boolean literal.
// Objects, arrays and null yield "".
func jsonScalar(data []byte) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ""
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ""
		}
		return s
	case '{', '[', 'n':
		return ""
	}
	return string(data)
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
