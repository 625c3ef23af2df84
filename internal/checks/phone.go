package checks

import (
	"github.com/nyaruka/phonenumbers"
)

// Numbers are read as French first, including short service numbers
// such as 115, then as international numbers written with their
// country code.
const phoneRegion = "FR"

type phoneNumberCheck struct{ singleColumn }

func newPhoneNumber(p params) (Check, error) {
	s, err := newSingle(p)
	if err != nil {
		return nil, err
	}
	return phoneNumberCheck{s}, nil
}

func (c phoneNumberCheck) Validate(row Row) []Finding {
	v, ok := row.Value(c.column)
	if !ok {
		return nil
	}
	if !validPhoneNumber(v) {
		return c.finding(v, nil)
	}
	return nil
}

func validPhoneNumber(s string) bool {
	if num, err := phonenumbers.Parse(s, phoneRegion); err == nil {
		if phonenumbers.IsValidNumber(num) || phonenumbers.IsValidShortNumber(num) {
			return true
		}
	}
	// Without a default region only numbers carrying a leading + parse.
	num, err := phonenumbers.Parse(s, "")
	return err == nil && phonenumbers.IsValidNumber(num)
}
