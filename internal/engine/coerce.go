package engine

// coerce.go turns raw cells into typed values.
//
// Every declared field type has a parser producing a Value that carries:
//   - the pgtype representation of the cell
//   - an ordering key, for minimum/maximum constraints
//   - a canonical string, for uniqueness, enum and foreign-key membership
//
// Two cells with the same canonical string are the same value: "1.0" and
// "1" for numbers, differently cased UUIDs, JSON objects with reordered
// keys.

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/validata/internal/schema"
)

// numericRegex validates a number after group and decimal characters have
// been normalised. The exponent is bounded to keep big.Rat values small.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d{1,3})?$`)

var integerRegex = regexp.MustCompile(`^[+-]?\d+$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted by the "any"
// date format. Years that would land more than this many years in the
// future are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// Layouts tried by the "any" formats, split by year format for proper
// 2-digit year handling.
var (
	twoDigitYearLayouts = []string{
		"2/1/06", "02/01/06", "2-1-06", "2.1.06", "02.01.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"2/1/2006", "02/01/2006", "2-1-2006", "02-01-2006", "2.1.2006", "02.01.2006",
		"Jan 2, 2006", "2 Jan 2006", "January 2, 2006", "2 January 2006",
		"20060102",
	}
	anyTimeLayouts = []string{
		"15:04:05", "15:04", "15h04", "3:04 PM", "3:04PM", "3:04:05 PM", "15:04:05.999999999",
	}
	anyDatetimeLayouts = []string{
		time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02 15:04",
		"02/01/2006 15:04:05", "02/01/2006 15:04", time.RFC1123Z, time.RFC1123,
	}
)

var (
	errNotNumber  = errors.New("not a number")
	errNotInteger = errors.New("not an integer")
	errNotBool    = errors.New("not a boolean")
)

// ordKind tells which ordering key a Value carries.
type ordKind int

const (
	ordNone ordKind = iota
	ordNum
	ordTime
)

// Value is a coerced cell.
type Value struct {
	Raw   string
	Null  bool
	Canon string
	// Typed is the pgtype value (pgtype.Numeric, pgtype.Date, ...), or the
	// decoded JSON for object and array fields.
	Typed any
	// Len is the rune count of strings and the element count of arrays
	// and objects.
	Len int

	ord ordKind
	num *big.Rat
	t   time.Time
}

// compare orders two values of the same field. ok is false when the
// values have no common order.
func compare(a, b Value) (int, bool) {
	if a.ord != b.ord || a.ord == ordNone {
		return 0, false
	}
	if a.ord == ordNum {
		if a.num == nil || b.num == nil {
			return 0, false
		}
		return a.num.Cmp(b.num), true
	}
	return a.t.Compare(b.t), true
}

// coercer parses the raw cell of one field.
type coercer func(raw string) (Value, error)

// newCoercer builds the parser for a field's type and format.
func newCoercer(f *schema.Field) (coercer, error) {
	switch f.Type {
	case schema.TypeString:
		return stringCoercer(f.Format)
	case schema.TypeNumber:
		return numberCoercer(f), nil
	case schema.TypeInteger:
		return integerCoercer(f), nil
	case schema.TypeBoolean:
		return booleanCoercer(f), nil
	case schema.TypeDate:
		return dateCoercer(f.Format)
	case schema.TypeTime:
		return timeCoercer(f.Format)
	case schema.TypeDatetime:
		return datetimeCoercer(f.Format)
	case schema.TypeYear:
		return toYear, nil
	case schema.TypeYearMonth:
		return toYearMonth, nil
	case schema.TypeDuration:
		return toDuration, nil
	case schema.TypeGeopoint:
		return geopointCoercer(f.Format)
	case schema.TypeObject:
		return toObject, nil
	case schema.TypeArray:
		return toArray, nil
	case schema.TypeAny:
		return func(raw string) (Value, error) {
			return Value{Raw: raw, Canon: raw, Typed: raw, Len: utf8.RuneCountInString(raw)}, nil
		}, nil
	}
	return nil, fmt.Errorf("unsupported type %q", f.Type)
}

// ----------------------------------------------------------------------------
// Strings
// ----------------------------------------------------------------------------

func stringCoercer(format string) (coercer, error) {
	var check func(string) (string, error)
	switch format {
	case "", "default":
	case "email":
		check = func(s string) (string, error) {
			addr, err := mail.ParseAddress(s)
			if err != nil || addr.Address != s {
				return "", errors.New("not an email address")
			}
			return s, nil
		}
	case "uri":
		check = func(s string) (string, error) {
			u, err := url.Parse(s)
			if err != nil || u.Scheme == "" || (u.Host == "" && u.Opaque == "") {
				return "", errors.New("not a URI")
			}
			return s, nil
		}
	case "uuid":
		check = func(s string) (string, error) {
			id := ToPgUUID(s)
			if !id.Valid {
				return "", errors.New("not a UUID")
			}
			return uuid.UUID(id.Bytes).String(), nil
		}
	case "binary":
		check = func(s string) (string, error) {
			if _, err := base64.StdEncoding.DecodeString(s); err != nil {
				return "", errors.New("not base64")
			}
			return s, nil
		}
	default:
		return nil, fmt.Errorf("unsupported string format %q", format)
	}

	return func(raw string) (Value, error) {
		canon := raw
		if check != nil {
			c, err := check(raw)
			if err != nil {
				return Value{}, err
			}
			canon = c
		}
		return Value{
			Raw:   raw,
			Canon: canon,
			Typed: pgtype.Text{String: raw, Valid: true},
			Len:   utf8.RuneCountInString(raw),
		}, nil
	}, nil
}

// ToPgUUID converts a string to pgtype.UUID.
// Returns invalid if the string is empty or not a valid UUID.
func ToPgUUID(s string) pgtype.UUID {
	if s == "" {
		return pgtype.UUID{Valid: false}
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}
}

// ----------------------------------------------------------------------------
// Numbers
// ----------------------------------------------------------------------------

func numberCoercer(f *schema.Field) coercer {
	decimal := f.DecimalChar
	if decimal == "" {
		decimal = "."
	}
	group := f.GroupChar
	bare := f.BareNumber == nil || *f.BareNumber

	return func(raw string) (Value, error) {
		n := ToPgNumeric(raw, decimal, group, bare)
		if !n.Valid {
			return Value{}, errNotNumber
		}
		v := Value{Raw: raw, Typed: n, ord: ordNum}
		switch {
		case n.NaN:
			v.Canon, v.ord = "NaN", ordNone
		case n.InfinityModifier == pgtype.Infinity:
			v.Canon, v.ord = "INF", ordNone
		case n.InfinityModifier == pgtype.NegativeInfinity:
			v.Canon, v.ord = "-INF", ordNone
		default:
			v.num = numericRat(n)
			v.Canon = v.num.RatString()
		}
		return v, nil
	}
}

// ToPgNumeric converts a string to pgtype.Numeric.
//
// group characters are removed and decimal is read as the decimal point.
// When bare is false, currency symbols, percent signs and other
// non-numeric text around the number are ignored, and the accounting
// format "(123.45)" reads as negative. Returns invalid when the cell is
// not a number.
func ToPgNumeric(s, decimal, group string, bare bool) pgtype.Numeric {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Numeric{Valid: false}
	}

	switch s {
	case "NaN", "nan":
		return pgtype.Numeric{NaN: true, Valid: true}
	case "INF", "inf", "+INF", "Infinity":
		return pgtype.Numeric{InfinityModifier: pgtype.Infinity, Valid: true}
	case "-INF", "-inf", "-Infinity":
		return pgtype.Numeric{InfinityModifier: pgtype.NegativeInfinity, Valid: true}
	}

	isNegative := false
	if !bare {
		// Detect negative accounting format "(123.45)"
		if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
			isNegative = true
			s = s[1 : len(s)-1]
		}
		s = strings.TrimFunc(s, func(r rune) bool {
			return !unicode.IsDigit(r) && r != '-' && r != '+' && !strings.ContainsRune(decimal, r)
		})
	}

	if group != "" {
		s = strings.ReplaceAll(s, group, "")
	}
	if decimal != "." {
		s = strings.Replace(s, decimal, ".", 1)
	}
	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return pgtype.Numeric{Valid: false}
	}

	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return pgtype.Numeric{Valid: false}
	}
	return ratNumeric(r)
}

// ratNumeric converts a decimal-representable rational into the
// integer-and-exponent form of pgtype.Numeric.
func ratNumeric(r *big.Rat) pgtype.Numeric {
	x := new(big.Rat).Set(r)
	ten := big.NewRat(10, 1)
	var exp int32
	for !x.IsInt() {
		x.Mul(x, ten)
		exp--
	}
	return pgtype.Numeric{Int: new(big.Int).Set(x.Num()), Exp: exp, Valid: true}
}

// numericRat is the inverse of ratNumeric.
func numericRat(n pgtype.Numeric) *big.Rat {
	r := new(big.Rat).SetInt(n.Int)
	if n.Exp == 0 {
		return r
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(abs32(n.Exp))), nil)
	if n.Exp > 0 {
		return r.Mul(r, new(big.Rat).SetInt(scale))
	}
	return r.Quo(r, new(big.Rat).SetInt(scale))
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func integerCoercer(f *schema.Field) coercer {
	bare := f.BareNumber == nil || *f.BareNumber
	group := f.GroupChar

	return func(raw string) (Value, error) {
		s := strings.TrimSpace(raw)
		if !bare {
			s = strings.TrimFunc(s, func(r rune) bool {
				return !unicode.IsDigit(r) && r != '-' && r != '+'
			})
		}
		if group != "" {
			s = strings.ReplaceAll(s, group, "")
		}
		if !integerRegex.MatchString(s) {
			return Value{}, errNotInteger
		}
		i, ok := new(big.Int).SetString(strings.TrimPrefix(s, "+"), 10)
		if !ok {
			return Value{}, errNotInteger
		}

		var typed any = pgtype.Numeric{Int: i, Valid: true}
		if i.IsInt64() {
			typed = pgtype.Int8{Int64: i.Int64(), Valid: true}
		}
		return Value{
			Raw:   raw,
			Canon: i.String(),
			Typed: typed,
			ord:   ordNum,
			num:   new(big.Rat).SetInt(i),
		}, nil
	}
}

// ----------------------------------------------------------------------------
// Booleans
// ----------------------------------------------------------------------------

var (
	defaultTrueValues  = []string{"true", "True", "TRUE", "1"}
	defaultFalseValues = []string{"false", "False", "FALSE", "0"}
)

func booleanCoercer(f *schema.Field) coercer {
	trueValues := f.TrueValues
	if len(trueValues) == 0 {
		trueValues = defaultTrueValues
	}
	falseValues := f.FalseValues
	if len(falseValues) == 0 {
		falseValues = defaultFalseValues
	}
	return func(raw string) (Value, error) {
		b := ToPgBool(raw, trueValues, falseValues)
		if !b.Valid {
			return Value{}, errNotBool
		}
		return Value{Raw: raw, Canon: strconv.FormatBool(b.Bool), Typed: b}, nil
	}
}

// ToPgBool converts a string to pgtype.Bool using the declared true and
// false spellings. Matching is exact after trimming surrounding spaces.
func ToPgBool(s string, trueValues, falseValues []string) pgtype.Bool {
	s = strings.TrimSpace(s)
	for _, v := range trueValues {
		if s == v {
			return pgtype.Bool{Bool: true, Valid: true}
		}
	}
	for _, v := range falseValues {
		if s == v {
			return pgtype.Bool{Bool: false, Valid: true}
		}
	}
	return pgtype.Bool{Valid: false}
}

// ----------------------------------------------------------------------------
// Dates and times
// ----------------------------------------------------------------------------

// timeParser parses a trimmed cell into a time.
type timeParser func(s string) (time.Time, error)

func layoutParser(layouts ...string) timeParser {
	return func(s string) (time.Time, error) {
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("does not match %s", strings.Join(layouts, " | "))
	}
}

// formatParser resolves a date/time format to a parser: "default" uses
// the given layout, "any" tries the tolerant list, anything else is a
// strptime-style pattern.
func formatParser(format, defaultLayout string, tolerant timeParser) (timeParser, error) {
	switch format {
	case "", "default":
		return layoutParser(defaultLayout), nil
	case "any":
		return tolerant, nil
	}
	layout, err := strptimeLayout(format)
	if err != nil {
		return nil, err
	}
	return layoutParser(layout), nil
}

func dateCoercer(format string) (coercer, error) {
	parse, err := formatParser(format, "2006-01-02", parseAnyDate)
	if err != nil {
		return nil, err
	}
	return func(raw string) (Value, error) {
		t, err := parse(strings.TrimSpace(raw))
		if err != nil {
			return Value{}, err
		}
		d := pgtype.Date{Time: t, Valid: true}
		return Value{Raw: raw, Canon: t.Format("2006-01-02"), Typed: d, ord: ordTime, t: t}, nil
	}, nil
}

// parseAnyDate tries 4-digit year layouts first (unambiguous), then
// 2-digit year layouts with the pivot year adjustment.
func parseAnyDate(s string) (time.Time, error) {
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, nil
		}
	}
	return time.Time{}, errors.New("not a recognised date")
}

func timeCoercer(format string) (coercer, error) {
	parse, err := formatParser(format, "15:04:05", layoutParser(anyTimeLayouts...))
	if err != nil {
		return nil, err
	}
	return func(raw string) (Value, error) {
		t, err := parse(strings.TrimSpace(raw))
		if err != nil {
			return Value{}, err
		}
		// Keep only the time of day so values compare independently of
		// any date the layout may have carried.
		tod := time.Date(0, 1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
		us := int64(t.Hour())*3600e6 + int64(t.Minute())*60e6 + int64(t.Second())*1e6 + int64(t.Nanosecond()/1000)
		return Value{
			Raw:   raw,
			Canon: tod.Format("15:04:05.999999"),
			Typed: pgtype.Time{Microseconds: us, Valid: true},
			ord:   ordTime,
			t:     tod,
		}, nil
	}, nil
}

func datetimeCoercer(format string) (coercer, error) {
	parse, err := formatParser(format, time.RFC3339, layoutParser(anyDatetimeLayouts...))
	if err != nil {
		return nil, err
	}
	return func(raw string) (Value, error) {
		t, err := parse(strings.TrimSpace(raw))
		if err != nil {
			return Value{}, err
		}
		return Value{
			Raw:   raw,
			Canon: t.UTC().Format(time.RFC3339Nano),
			Typed: pgtype.Timestamptz{Time: t, Valid: true},
			ord:   ordTime,
			t:     t,
		}, nil
	}, nil
}

func toYear(raw string) (Value, error) {
	s := strings.TrimSpace(raw)
	if len(s) != 4 || !integerRegex.MatchString(s) {
		return Value{}, errors.New("not a year")
	}
	y, _ := strconv.Atoi(s)
	return Value{
		Raw:   raw,
		Canon: s,
		Typed: pgtype.Int4{Int32: int32(y), Valid: true},
		ord:   ordNum,
		num:   big.NewRat(int64(y), 1),
	}, nil
}

func toYearMonth(raw string) (Value, error) {
	t, err := time.Parse("2006-1", strings.TrimSpace(raw))
	if err != nil {
		return Value{}, errors.New("not a year-month")
	}
	return Value{
		Raw:   raw,
		Canon: t.Format("2006-01"),
		Typed: pgtype.Date{Time: t, Valid: true},
		ord:   ordTime,
		t:     t,
	}, nil
}

// strptimeDirectives maps strptime directives to Go layout elements. The
// non-padded Go elements are used where strptime accepts one or two
// digits.
var strptimeDirectives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "1",
	'd': "2",
	'e': "_2",
	'b': "Jan",
	'h': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
	'H': "15",
	'I': "3",
	'M': "4",
	'S': "5",
	'p': "PM",
	'f': "000000",
	'z': "-0700",
	'Z': "MST",
	'%': "%",
}

// strptimeLayout converts a strptime pattern such as "%d/%m/%Y" into a Go
// time layout. Literal digits are refused since Go would read them as
// layout elements.
func strptimeLayout(pattern string) (string, error) {
	var b strings.Builder
	sawDirective := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '%' {
			if c >= '0' && c <= '9' {
				return "", fmt.Errorf("format %q: literal digits are not supported", pattern)
			}
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(pattern) {
			return "", fmt.Errorf("format %q: dangling %%", pattern)
		}
		i++
		elem, ok := strptimeDirectives[pattern[i]]
		if !ok {
			return "", fmt.Errorf("format %q: unsupported directive %%%c", pattern, pattern[i])
		}
		b.WriteString(elem)
		sawDirective = true
	}
	if !sawDirective {
		return "", fmt.Errorf("format %q: no directive", pattern)
	}
	return b.String(), nil
}

// ----------------------------------------------------------------------------
// Durations
// ----------------------------------------------------------------------------

var durationRegex = regexp.MustCompile(
	`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// toDuration parses an ISO 8601 duration ("P1Y2M10DT2H30M").
func toDuration(raw string) (Value, error) {
	s := strings.TrimSpace(raw)
	m := durationRegex.FindStringSubmatch(s)
	if m == nil || s == "P" || strings.HasSuffix(s, "T") {
		return Value{}, errors.New("not an ISO 8601 duration")
	}
	num := func(i int) int64 {
		if m[i] == "" {
			return 0
		}
		n, _ := strconv.ParseInt(m[i], 10, 32)
		return n
	}

	months := num(1)*12 + num(2)
	days := num(3)*7 + num(4)
	us := num(5)*3600e6 + num(6)*60e6
	if m[7] != "" {
		secs, err := strconv.ParseFloat(m[7], 64)
		if err != nil {
			return Value{}, errors.New("not an ISO 8601 duration")
		}
		us += int64(math.Round(secs * 1e6))
	}

	// Months and days have no fixed length; order them as 30 and 1 days.
	const usPerDay = 86400e6
	total := new(big.Int).Mul(big.NewInt(months*30+days), big.NewInt(usPerDay))
	total.Add(total, big.NewInt(us))
	return Value{
		Raw:   raw,
		Canon: fmt.Sprintf("%dm%dd%dus", months, days, us),
		Typed: pgtype.Interval{Months: int32(months), Days: int32(days), Microseconds: us, Valid: true},
		ord:   ordNum,
		num:   new(big.Rat).SetInt(total),
	}, nil
}

// ----------------------------------------------------------------------------
// Geopoints, objects and arrays
// ----------------------------------------------------------------------------

func geopointCoercer(format string) (coercer, error) {
	var parse func(s string) (lon, lat float64, err error)
	switch format {
	case "", "default":
		parse = func(s string) (float64, float64, error) {
			parts := strings.Split(s, ",")
			if len(parts) != 2 {
				return 0, 0, errors.New(`expected "lon, lat"`)
			}
			lon, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
			if err != nil {
				return 0, 0, err
			}
			lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			return lon, lat, err
		}
	case "array":
		parse = func(s string) (float64, float64, error) {
			var pair []float64
			if err := json.Unmarshal([]byte(s), &pair); err != nil || len(pair) != 2 {
				return 0, 0, errors.New("expected [lon, lat]")
			}
			return pair[0], pair[1], nil
		}
	case "object":
		parse = func(s string) (float64, float64, error) {
			var obj struct {
				Lon *float64 `json:"lon"`
				Lat *float64 `json:"lat"`
			}
			if err := json.Unmarshal([]byte(s), &obj); err != nil || obj.Lon == nil || obj.Lat == nil {
				return 0, 0, errors.New(`expected {"lon": x, "lat": y}`)
			}
			return *obj.Lon, *obj.Lat, nil
		}
	default:
		return nil, fmt.Errorf("unsupported geopoint format %q", format)
	}

	return func(raw string) (Value, error) {
		lon, lat, err := parse(strings.TrimSpace(raw))
		if err != nil {
			return Value{}, err
		}
		if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
			return Value{}, errors.New("coordinates out of range")
		}
		canon := strconv.FormatFloat(lon, 'f', -1, 64) + "," + strconv.FormatFloat(lat, 'f', -1, 64)
		return Value{
			Raw:   raw,
			Canon: canon,
			Typed: pgtype.Point{P: pgtype.Vec2{X: lon, Y: lat}, Valid: true},
		}, nil
	}, nil
}

func toObject(raw string) (Value, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return Value{}, errors.New("not a JSON object")
	}
	canon, _ := json.Marshal(obj)
	return Value{Raw: raw, Canon: string(canon), Typed: obj, Len: len(obj)}, nil
}

func toArray(raw string) (Value, error) {
	var arr []any
	if err := json.Unmarshal([]byte(raw), &arr); err != nil || arr == nil {
		return Value{}, errors.New("not a JSON array")
	}
	canon, _ := json.Marshal(arr)
	return Value{Raw: raw, Canon: string(canon), Typed: arr, Len: len(arr)}, nil
}
