package checks

import (
	"strings"
)

type openingHoursCheck struct{ singleColumn }

func newOpeningHours(p params) (Check, error) {
	s, err := newSingle(p)
	if err != nil {
		return nil, err
	}
	return openingHoursCheck{s}, nil
}

func (c openingHoursCheck) Validate(row Row) []Finding {
	v, ok := row.Value(c.column)
	if !ok {
		return nil
	}
	if !validOpeningHours(v) {
		return c.finding(v, nil)
	}
	return nil
}

// validOpeningHours reports whether s follows the OpenStreetMap
// opening_hours syntax: rules separated by ";", "||" or ",", each made of
// optional year, month, week, weekday and time selectors followed by an
// optional state and comment. Keywords are case sensitive.
func validOpeningHours(s string) bool {
	p := &hoursParser{s: s}
	return p.domain()
}

var (
	weekdays  = []string{"Mo", "Tu", "We", "Th", "Fr", "Sa", "Su"}
	holidays  = []string{"PH", "SH"}
	months    = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}
	events    = []string{"dawn", "sunrise", "sunset", "dusk"}
	states    = []string{"open", "closed", "off", "unknown"}
	monthDays = [...]int{31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
)

type hoursParser struct {
	s   string
	pos int
}

func (p *hoursParser) ws() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t') {
		p.pos++
	}
}

func (p *hoursParser) done() bool {
	return p.pos >= len(p.s)
}

func (p *hoursParser) accept(lit string) bool {
	if strings.HasPrefix(p.s[p.pos:], lit) {
		p.pos += len(lit)
		return true
	}
	return false
}

// word accepts one of the keywords when it is not followed by another
// letter, and returns its index.
func (p *hoursParser) word(words []string) int {
	for i, w := range words {
		end := p.pos + len(w)
		if strings.HasPrefix(p.s[p.pos:], w) && (end >= len(p.s) || !isLetter(p.s[end])) {
			p.pos = end
			return i
		}
	}
	return -1
}

// number accepts a run of at most width digits.
func (p *hoursParser) number(width int) (int, int, bool) {
	start := p.pos
	n := 0
	for p.pos < len(p.s) && p.pos-start < width && isDigit(p.s[p.pos]) {
		n = n*10 + int(p.s[p.pos]-'0')
		p.pos++
	}
	return n, p.pos - start, p.pos > start
}

// list parses item, then any further items after a comma. A comma not
// followed by another item is left for the rule separator.
func (p *hoursParser) list(item func() bool) bool {
	if !item() {
		return false
	}
	for {
		save := p.pos
		p.ws()
		if !p.accept(",") {
			p.pos = save
			return true
		}
		p.ws()
		if !p.try(item) {
			p.pos = save
			return true
		}
	}
}

// try runs f and rewinds when it fails.
func (p *hoursParser) try(f func() bool) bool {
	save := p.pos
	if f() {
		return true
	}
	p.pos = save
	return false
}

func (p *hoursParser) domain() bool {
	p.ws()
	for {
		if !p.rule() {
			return false
		}
		p.ws()
		if p.done() {
			return true
		}
		if !p.accept(";") && !p.accept("||") && !p.accept(",") {
			return false
		}
		p.ws()
	}
}

// rule parses one rule. It must contain at least one selector, state or
// comment.
func (p *hoursParser) rule() bool {
	start := p.pos
	if p.accept("24/7") {
		p.ws()
	} else {
		p.selectors()
	}
	p.try(p.modifier)
	return p.pos > start
}

func (p *hoursParser) selectors() {
	wide := false
	for _, sel := range []func() bool{p.years, p.monthdays, p.weeks} {
		if p.try(sel) {
			wide = true
			p.ws()
		}
	}
	if wide {
		p.accept(":")
		p.ws()
	}
	if p.try(p.weekdaysSel) {
		p.ws()
	}
	if p.try(p.times) {
		p.ws()
	}
}

func (p *hoursParser) modifier() bool {
	if p.word(states) >= 0 {
		p.ws()
		p.try(p.comment)
		return true
	}
	return p.comment()
}

func (p *hoursParser) comment() bool {
	if !p.accept(`"`) {
		return false
	}
	end := strings.IndexByte(p.s[p.pos:], '"')
	if end < 0 {
		return false
	}
	p.pos += end + 1
	p.ws()
	return true
}

// Year selectors: 2024, 2024-2026, 2024-2030/2, 2024+.
func (p *hoursParser) years() bool {
	return p.list(func() bool {
		if !p.year() {
			return false
		}
		if p.accept("+") {
			return true
		}
		if p.try(func() bool { return p.accept("-") && p.year() }) {
			p.try(p.period)
		}
		return true
	})
}

func (p *hoursParser) year() bool {
	y, n, ok := p.number(4)
	return ok && n == 4 && y >= 1900
}

func (p *hoursParser) period() bool {
	if !p.accept("/") {
		return false
	}
	n, _, ok := p.number(2)
	return ok && n > 0
}

// Month selectors: Jan, Jan-Mar, Dec 24, Dec 24-26, Dec 24-Jan 02.
func (p *hoursParser) monthdays() bool {
	return p.list(func() bool {
		m := p.word(months)
		if m < 0 {
			return false
		}
		day := p.try(func() bool { p.ws(); return p.monthDay(m) })
		if !p.accept("-") {
			return true
		}
		if day && p.try(func() bool { return p.monthDay(m) }) {
			return true
		}
		to := p.word(months)
		if to < 0 {
			return false
		}
		if day {
			p.ws()
			return p.monthDay(to)
		}
		return true
	})
}

// monthDay accepts a two digit day of month m. Digits followed by ":"
// and another digit start a time, not a day.
func (p *hoursParser) monthDay(m int) bool {
	d, n, ok := p.number(2)
	if p.pos+1 < len(p.s) && p.s[p.pos] == ':' && isDigit(p.s[p.pos+1]) {
		return false
	}
	return ok && n == 2 && d >= 1 && d <= monthDays[m]
}

// Week selectors: week 01, week 01-26, week 02-52/2.
func (p *hoursParser) weeks() bool {
	if !p.accept("week") {
		return false
	}
	p.ws()
	return p.list(func() bool {
		if !p.weekNum() {
			return false
		}
		if p.accept("-") {
			if !p.weekNum() {
				return false
			}
			p.try(p.period)
		}
		return true
	})
}

func (p *hoursParser) weekNum() bool {
	w, n, ok := p.number(2)
	return ok && n == 2 && w >= 1 && w <= 53
}

// Weekday selectors: Mo, Mo-Fr, Mo,We, Su[1], Sa[-1] -1 day, PH, SH.
func (p *hoursParser) weekdaysSel() bool {
	return p.list(func() bool {
		if p.word(holidays) >= 0 {
			p.try(p.dayOffset)
			return true
		}
		if p.word(weekdays) < 0 {
			return false
		}
		if p.accept("-") {
			return p.word(weekdays) >= 0
		}
		if p.accept("[") {
			if !p.list(p.nth) || !p.accept("]") {
				return false
			}
			p.try(p.dayOffset)
		}
		return true
	})
}

func (p *hoursParser) nth() bool {
	neg := p.accept("-")
	n, _, ok := p.number(1)
	if !ok || n < 1 || n > 5 {
		return false
	}
	if !neg && p.accept("-") {
		m, _, ok := p.number(1)
		return ok && m > n && m <= 5
	}
	return true
}

func (p *hoursParser) dayOffset() bool {
	p.ws()
	if !p.accept("+") && !p.accept("-") {
		return false
	}
	if _, _, ok := p.number(3); !ok {
		return false
	}
	p.ws()
	return p.word([]string{"days", "day"}) >= 0
}

// Time selectors: 08:00-12:00,14:00-18:00, 22:00-02:00, 10:00+,
// sunrise-sunset, (sunset-01:00)-22:00, 10:00-16:00/01:30.
func (p *hoursParser) times() bool {
	return p.list(func() bool {
		if !p.timePoint(24) {
			return false
		}
		if p.accept("+") {
			return true
		}
		if !p.accept("-") {
			return true
		}
		if !p.timePoint(48) {
			return false
		}
		if p.accept("+") {
			return true
		}
		if p.accept("/") {
			return p.try(func() bool { return p.clock(24) }) || p.minutes()
		}
		return true
	})
}

func (p *hoursParser) timePoint(maxHour int) bool {
	if p.try(func() bool { return p.clock(maxHour) }) {
		return true
	}
	if p.word(events) >= 0 {
		return true
	}
	if !p.accept("(") {
		return false
	}
	if p.word(events) < 0 {
		return false
	}
	if !p.accept("+") && !p.accept("-") {
		return false
	}
	return p.clock(24) && p.accept(")")
}

// clock accepts HH:MM. The hour may exceed 24 only up to maxHour for
// spans that run past midnight.
func (p *hoursParser) clock(maxHour int) bool {
	h, hn, ok := p.number(2)
	if !ok || hn != 2 || h > maxHour {
		return false
	}
	if !p.accept(":") {
		return false
	}
	m, mn, ok := p.number(2)
	if !ok || mn != 2 || m > 59 {
		return false
	}
	return h < maxHour || m == 0
}

func (p *hoursParser) minutes() bool {
	m, _, ok := p.number(2)
	return ok && m > 0
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
