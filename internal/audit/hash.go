package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GenesisHash precedes the first entry of every tenant chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// timestampLayout has fixed microsecond precision, the resolution Postgres keeps.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTimestamp renders t the way it is hashed.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format(timestampLayout)
}

// Canonicalize encodes v as JSON with sorted object keys, numbers in plain
// decimal notation and no HTML escaping. Numbers are written the way jsonb
// prints them (1e-07 becomes 0.0000001, trailing zeros stay), so a payload
// read back from Postgres hashes to the same bytes it was written with.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalizeNumbers(generic)); err != nil {
		return nil, fmt.Errorf("canonical payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = normalizeNumbers(e)
		}
	case []any:
		for i, e := range x {
			x[i] = normalizeNumbers(e)
		}
	case json.Number:
		return json.Number(plainDecimal(string(x)))
	}
	return v
}

// plainDecimal rewrites a JSON number without an exponent. The scale is
// len(fraction) - exponent, floored at zero, which matches numeric output.
func plainDecimal(num string) string {
	neg := strings.HasPrefix(num, "-")
	s := strings.TrimPrefix(num, "-")
	exp := 0
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		n, err := strconv.Atoi(s[i+1:])
		if err != nil {
			return num
		}
		exp, s = n, s[:i]
	}
	intPart, frac, _ := strings.Cut(s, ".")
	digits := intPart + frac
	point := len(intPart) + exp

	var out string
	switch {
	case point <= 0:
		out = "0." + strings.Repeat("0", -point) + digits
	case point >= len(digits):
		out = digits + strings.Repeat("0", point-len(digits))
	default:
		out = digits[:point] + "." + digits[point:]
	}
	whole, rest, hasFrac := strings.Cut(out, ".")
	whole = strings.TrimLeft(whole, "0")
	if whole == "" {
		whole = "0"
	}
	out = whole
	if hasFrac {
		out += "." + rest
	}
	if neg && strings.Trim(digits, "0") != "" {
		out = "-" + out
	}
	return out
}

// ComputeHash returns SHA256(previousHash || payload || createdAt) as hex.
func ComputeHash(previousHash string, canonicalPayload []byte, createdAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write(canonicalPayload)
	h.Write([]byte(FormatTimestamp(createdAt)))
	return hex.EncodeToString(h.Sum(nil))
}
