package field

import (
	"context"
	"encoding/base64"
	"math"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/apd/v3"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/recfield/internal/ir"
)

// Layouts of the external and column representations of dates.
const (
	DateLayout     = "2006-01-02"
	DatetimeLayout = "2006-01-02 15:04:05"
)

// DefaultCurrencyDigits is the precision of monetary columns without digits.
const DefaultCurrencyDigits = 2

// asInt64 accepts Go integers and integral floats, as decoded from YAML or JSON.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, which is out of range.
		if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 {
			return int64(n), true
		}
	case float32:
		return asInt64(float64(n))
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// isFalsy reports the values every type accepts as "empty".
func isFalsy(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case bool:
		return !val
	}
	return false
}

// decimalContext rounds half away from zero, the usual currency rounding.
var decimalContext = func() *apd.Context {
	c := apd.BaseContext.WithPrecision(34)
	c.Rounding = apd.RoundHalfUp
	return c
}()

// roundDigits rounds d to the given number of decimal places.
func roundDigits(d *apd.Decimal, digits int) (*apd.Decimal, error) {
	out := new(apd.Decimal)
	if _, err := decimalContext.Quantize(out, d, int32(-digits)); err != nil {
		return nil, err
	}
	return out, nil
}

type booleanConv struct{}

func (booleanConv) toCache(_ context.Context, f *Field, _ ir.ID, v any, _ Resolver) (any, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	if v == nil {
		return false, nil
	}
	if n, ok := asInt64(v); ok {
		return n != 0, nil
	}
	return nil, f.invalid(v, "expected a boolean")
}

func (booleanConv) toRead(_ context.Context, _ *Field, v any, _ Resolver) (any, error) {
	return v, nil
}

func (booleanConv) toWrite(_ context.Context, _ *Field, v any, _ Resolver) (any, error) {
	return v, nil
}

func (booleanConv) toColumn(_ *Field, v any) (any, error) {
	if v.(bool) {
		return int64(1), nil
	}
	return int64(0), nil
}

func (booleanConv) fromColumn(f *Field, v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return false, nil
	case bool:
		return val, nil
	case int64:
		return val != 0, nil
	}
	return nil, f.invalid(v, "unexpected boolean column value")
}

func (booleanConv) equal(_ *Field, a, b any) bool { return a == b }
func (booleanConv) zero(*Field) any               { return false }

type integerConv struct{}

func (integerConv) toCache(_ context.Context, f *Field, _ ir.ID, v any, _ Resolver) (any, error) {
	if isFalsy(v) {
		return int64(0), nil
	}
	if n, ok := asInt64(v); ok {
		return n, nil
	}
	return nil, f.invalid(v, "expected an integer")
}

func (integerConv) toRead(_ context.Context, _ *Field, v any, _ Resolver) (any, error) {
	return v, nil
}

func (integerConv) toWrite(_ context.Context, _ *Field, v any, _ Resolver) (any, error) {
	return v, nil
}

func (integerConv) toColumn(_ *Field, v any) (any, error) {
	if f, ok := v.(int64); ok && f == 0 {
		return nil, nil
	}
	return v, nil
}

func (integerConv) fromColumn(f *Field, v any) (any, error) {
	if v == nil {
		return int64(0), nil
	}
	if n, ok := asInt64(v); ok {
		return n, nil
	}
	return nil, f.invalid(v, "unexpected integer column value")
}

func (integerConv) equal(_ *Field, a, b any) bool { return a == b }
func (integerConv) zero(*Field) any               { return int64(0) }

type floatConv struct{}

func (floatConv) toCache(_ context.Context, f *Field, _ ir.ID, v any, _ Resolver) (any, error) {
	if isFalsy(v) {
		return 0.0, nil
	}
	if n, ok := asFloat64(v); ok {
		return n, nil
	}
	return nil, f.invalid(v, "expected a number")
}

func (floatConv) toRead(_ context.Context, _ *Field, v any, _ Resolver) (any, error) {
	return v, nil
}

func (floatConv) toWrite(_ context.Context, _ *Field, v any, _ Resolver) (any, error) {
	return v, nil
}

// toColumn rounds to the field's digits when it declares any.
func (floatConv) toColumn(f *Field, v any) (any, error) {
	n := v.(float64)
	if f.Digits == 0 {
		return n, nil
	}
	d, err := new(apd.Decimal).SetFloat64(n)
	if err != nil {
		return nil, f.invalid(v, "cannot round: %v", err)
	}
	if d, err = roundDigits(d, f.Digits); err != nil {
		return nil, f.invalid(v, "cannot round: %v", err)
	}
	rounded, err := d.Float64()
	if err != nil {
		return nil, f.invalid(v, "cannot round: %v", err)
	}
	return rounded, nil
}

func (floatConv) fromColumn(f *Field, v any) (any, error) {
	if v == nil {
		return 0.0, nil
	}
	if n, ok := asFloat64(v); ok {
		return n, nil
	}
	return nil, f.invalid(v, "unexpected float column value")
}

func (floatConv) equal(_ *Field, a, b any) bool { return a == b }
func (floatConv) zero(*Field) any               { return 0.0 }

type monetaryConv struct{}

func (monetaryConv) parse(f *Field, v any) (*apd.Decimal, error) {
	switch val := v.(type) {
	case *apd.Decimal:
		return new(apd.Decimal).Set(val), nil
	case apd.Decimal:
		return new(apd.Decimal).Set(&val), nil
	case string:
		d, _, err := apd.NewFromString(val)
		if err != nil {
			return nil, f.invalid(v, "expected a decimal amount")
		}
		return d, nil
	case []byte:
		return monetaryConv{}.parse(f, string(val))
	case float64, float32:
		n, _ := asFloat64(val)
		d, err := new(apd.Decimal).SetFloat64(n)
		if err != nil {
			return nil, f.invalid(v, "expected a decimal amount")
		}
		return d, nil
	}
	if n, ok := asInt64(v); ok {
		return apd.New(n, 0), nil
	}
	return nil, f.invalid(v, "expected a decimal amount")
}

func (c monetaryConv) toCache(_ context.Context, f *Field, _ ir.ID, v any, _ Resolver) (any, error) {
	if isFalsy(v) {
		return c.zero(f), nil
	}
	return c.parse(f, v)
}

func (monetaryConv) toRead(_ context.Context, _ *Field, v any, _ Resolver) (any, error) {
	return v.(*apd.Decimal).Text('f'), nil
}

func (monetaryConv) toWrite(_ context.Context, _ *Field, v any, _ Resolver) (any, error) {
	return v.(*apd.Decimal).Text('f'), nil
}

// toColumn rounds to the currency precision and stores the exact text.
func (monetaryConv) toColumn(f *Field, v any) (any, error) {
	digits := f.Digits
	if digits == 0 {
		digits = DefaultCurrencyDigits
	}
	d, err := roundDigits(v.(*apd.Decimal), digits)
	if err != nil {
		return nil, f.invalid(v, "cannot round to %d digits: %v", digits, err)
	}
	return d.Text('f'), nil
}

func (c monetaryConv) fromColumn(f *Field, v any) (any, error) {
	if v == nil {
		return c.zero(f), nil
	}
	return c.parse(f, v)
}

func (monetaryConv) equal(_ *Field, a, b any) bool {
	da, ok1 := a.(*apd.Decimal)
	db, ok2 := b.(*apd.Decimal)
	return ok1 && ok2 && da.Cmp(db) == 0
}

func (monetaryConv) zero(*Field) any { return apd.New(0, 0) }

type stringConv struct{}

func (stringConv) text(f *Field, v any) (string, error) {
	switch val := v.(type) {
	case string:
		return norm.NFC.String(val), nil
	case []byte:
		return norm.NFC.String(string(val)), nil
	}
	if isFalsy(v) {
		return "", nil
	}
	return "", f.invalid(v, "expected a string")
}

func (c stringConv) toCache(_ context.Context, f *Field, _ ir.ID, v any, _ Resolver) (any, error) {
	s, err := c.text(f, v)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (stringConv) toRead(_ context.Context, _ *Field, v any, _ Resolver) (any, error) {
	return v, nil
}

func (stringConv) toWrite(_ context.Context, _ *Field, v any, _ Resolver) (any, error) {
	return v, nil
}

// toColumn clamps char values to the field size, counted in characters.
func (stringConv) toColumn(f *Field, v any) (any, error) {
	s := v.(string)
	if s == "" {
		return nil, nil
	}
	if f.Type == Char && f.Size > 0 && utf8.RuneCountInString(s) > f.Size {
		s = string([]rune(s)[:f.Size])
	}
	return s, nil
}

func (c stringConv) fromColumn(f *Field, v any) (any, error) {
	if v == nil {
		return "", nil
	}
	return c.text(f, v)
}

func (stringConv) equal(_ *Field, a, b any) bool { return a == b }
func (stringConv) zero(*Field) any               { return "" }

type selectionConv struct{ stringConv }

func (c selectionConv) toCache(ctx context.Context, f *Field, owner ir.ID, v any, r Resolver) (any, error) {
	s, err := c.text(f, v)
	if err != nil {
		return nil, err
	}
	if s == "" || len(f.Selection) == 0 {
		return s, nil
	}
	for _, item := range f.Selection {
		if item.Value == s {
			return s, nil
		}
	}
	return nil, f.invalid(v, "not one of %v", f.SelectionValues())
}

type dateConv struct{ layout string }

func (c dateConv) normalize(t time.Time) time.Time {
	t = t.UTC()
	if c.layout == DateLayout {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(time.Second)
}

func (c dateConv) parse(f *Field, v any) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return c.normalize(val), nil
	case string:
		if val == "" {
			return time.Time{}, nil
		}
		layout := c.layout
		if c.layout == DateLayout && len(val) == len(DatetimeLayout) {
			layout = DatetimeLayout
		}
		if c.layout == DatetimeLayout && len(val) == len(DateLayout) {
			layout = DateLayout
		}
		t, err := time.Parse(layout, val)
		if err != nil {
			return time.Time{}, f.invalid(v, "expected a %s in format %s", f.Type, c.layout)
		}
		return c.normalize(t), nil
	case []byte:
		return c.parse(f, string(val))
	}
	if isFalsy(v) {
		return time.Time{}, nil
	}
	return time.Time{}, f.invalid(v, "expected a %s", f.Type)
}

func (c dateConv) toCache(_ context.Context, f *Field, _ ir.ID, v any, _ Resolver) (any, error) {
	t, err := c.parse(f, v)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (c dateConv) format(v any) any {
	t := v.(time.Time)
	if t.IsZero() {
		return nil
	}
	return t.Format(c.layout)
}

func (c dateConv) toRead(_ context.Context, _ *Field, v any, _ Resolver) (any, error) {
	return c.format(v), nil
}

func (c dateConv) toWrite(_ context.Context, _ *Field, v any, _ Resolver) (any, error) {
	return c.format(v), nil
}

func (c dateConv) toColumn(_ *Field, v any) (any, error) {
	return c.format(v), nil
}

func (c dateConv) fromColumn(f *Field, v any) (any, error) {
	return c.toCache(context.Background(), f, ir.ID{}, v, nil)
}

func (dateConv) equal(_ *Field, a, b any) bool {
	ta, ok1 := a.(time.Time)
	tb, ok2 := b.(time.Time)
	return ok1 && ok2 && ta.Equal(tb)
}

func (dateConv) zero(*Field) any { return time.Time{} }

// binaryConv keeps payloads base64 encoded in cache and raw in storage.
type binaryConv struct{}

func (binaryConv) toCache(_ context.Context, f *Field, _ ir.ID, v any, _ Resolver) (any, error) {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case []byte:
		s = string(val)
	default:
		if isFalsy(v) {
			return "", nil
		}
		return nil, f.invalid(v, "expected base64 encoded content")
	}
	if _, err := base64.StdEncoding.DecodeString(s); err != nil {
		return nil, f.invalid(truncate(s, 32), "content is not valid base64")
	}
	return s, nil
}

func (binaryConv) toRead(_ context.Context, _ *Field, v any, _ Resolver) (any, error) {
	return v, nil
}

func (binaryConv) toWrite(_ context.Context, _ *Field, v any, _ Resolver) (any, error) {
	return v, nil
}

func (binaryConv) toColumn(f *Field, v any) (any, error) {
	s := v.(string)
	if s == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, f.invalid(truncate(s, 32), "content is not valid base64")
	}
	return raw, nil
}

func (binaryConv) fromColumn(f *Field, v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case []byte:
		return base64.StdEncoding.EncodeToString(val), nil
	case string:
		return base64.StdEncoding.EncodeToString([]byte(val)), nil
	}
	return nil, f.invalid(v, "unexpected binary column value")
}

func (binaryConv) equal(_ *Field, a, b any) bool { return a == b }
func (binaryConv) zero(*Field) any               { return "" }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type idConv struct{}

func (idConv) toCache(_ context.Context, f *Field, _ ir.ID, v any, _ Resolver) (any, error) {
	if id, ok := v.(ir.ID); ok {
		return id, nil
	}
	if isFalsy(v) {
		return ir.ID{}, nil
	}
	if n, ok := asInt64(v); ok {
		return ir.NewID(n), nil
	}
	return nil, f.invalid(v, "expected a record id")
}

func (idConv) toRead(_ context.Context, _ *Field, v any, _ Resolver) (any, error) {
	return v, nil
}

func (idConv) toWrite(_ context.Context, _ *Field, v any, _ Resolver) (any, error) {
	return v, nil
}

func (idConv) toColumn(_ *Field, v any) (any, error) {
	return v.(ir.ID).Int(), nil
}

func (c idConv) fromColumn(f *Field, v any) (any, error) {
	return c.toCache(context.Background(), f, ir.ID{}, v, nil)
}

func (idConv) equal(_ *Field, a, b any) bool { return a == b }
func (idConv) zero(*Field) any               { return ir.ID{} }
