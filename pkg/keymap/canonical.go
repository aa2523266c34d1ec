package keymap

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// maxSafeInteger is the largest float that still has an exact integer form
const maxSafeInteger = 1 << 53

// KeyValue shapes natural key components into the value stored in the keymap:
// a single component is stored as itself, several as an array
func KeyValue(components []any) any {
	if len(components) == 1 {
		return components[0]
	}

	out := make([]any, len(components))
	copy(out, components)

	return out
}

// Canonical encodes v as canonical JSON: object keys sorted by UTF-16 code
// units, NFC strings without HTML escaping, integral floats as integers
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Hash returns the hex sha256 digest of canonical bytes
func Hash(canonical []byte) string {
	sum := sha256.Sum256(canonical)

	return hex.EncodeToString(sum[:])
}

// HashValue canonicalizes v and returns both the encoding and its digest
func HashValue(v any) (data []byte, hash string, err error) {
	data, err = Canonical(v)
	if err != nil {
		return nil, "", err
	}

	return data, Hash(data), nil
}

// Parse decodes canonical JSON back into plain values. Integral numbers
// decode as int64, others as float64.
func Parse(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode keymap value: %w", err)
	}

	return fromNumbers(v), nil
}

func fromNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}

		f, _ := val.Float64()

		return f
	case []any:
		for i := range val {
			val[i] = fromNumbers(val[i])
		}

		return val
	case map[string]any:
		for k := range val {
			val[k] = fromNumbers(val[k])
		}

		return val
	default:
		return v
	}
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case string:
		return writeString(buf, val)
	case []byte:
		return writeString(buf, string(val))
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int8:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int16:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint8:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint16:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(val, 10))
	case float32:
		return writeFloat(buf, float64(val))
	case float64:
		return writeFloat(buf, val)
	case json.Number:
		if n, err := val.Int64(); err == nil {
			buf.WriteString(strconv.FormatInt(n, 10))
			return nil
		}

		f, err := val.Float64()
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", val, err)
		}

		return writeFloat(buf, f)
	case time.Time:
		return writeString(buf, val.UTC().Format(time.RFC3339Nano))
	case []any:
		return writeArray(buf, len(val), func(i int) any { return val[i] })
	case []string:
		return writeArray(buf, len(val), func(i int) any { return val[i] })
	case map[string]any:
		return writeObject(buf, val)
	default:
		return writeReflect(buf, v)
	}

	return nil
}

func writeReflect(buf *bytes.Buffer, v any) error {
	rv := reflect.ValueOf(v)

	switch rv.Kind() { //nolint:exhaustive // Remaining kinds are not valid key components
	case reflect.Slice, reflect.Array:
		return writeArray(buf, rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}

		obj := make(map[string]any, rv.Len())
		for _, key := range rv.MapKeys() {
			obj[key.String()] = rv.MapIndex(key).Interface()
		}

		return writeObject(buf, obj)
	case reflect.Pointer:
		if rv.IsNil() {
			buf.WriteString("null")
			return nil
		}

		return writeCanonical(buf, rv.Elem().Interface())
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

func writeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite number %v", f)
	}

	if f == math.Trunc(f) && math.Abs(f) < maxSafeInteger {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}

	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		buf.WriteString(strconv.FormatFloat(f, 'e', -1, 64))
		return nil
	}

	buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))

	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer

	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}

	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))

	return nil
}

func writeArray(buf *bytes.Buffer, n int, at func(int) any) error {
	buf.WriteByte('[')

	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}

		if err := writeCanonical(buf, at(i)); err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
	}

	buf.WriteByte(']')

	return nil
}

func writeObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		return lessUTF16(norm.NFC.String(keys[i]), norm.NFC.String(keys[j]))
	})

	buf.WriteByte('{')

	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		if err := writeString(buf, k); err != nil {
			return err
		}

		buf.WriteByte(':')

		if err := writeCanonical(buf, obj[k]); err != nil {
			return fmt.Errorf("[%q]: %w", k, err)
		}
	}

	buf.WriteByte('}')

	return nil
}

func lessUTF16(a, b string) bool {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))

	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}

	return len(ua) < len(ub)
}
