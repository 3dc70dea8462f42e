package finance

import (
	"fmt"
	"time"
)

const monthLayout = "2006-01"

// Month is a calendar month, rendered as YYYY-MM on the wire.
type Month struct {
	Year  int
	Month time.Month
}

func ParseMonth(s string) (Month, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q, want YYYY-MM", s)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

func CurrentMonth() Month {
	return MonthOf(time.Now())
}

func (m Month) IsZero() bool { return m.Year == 0 && m.Month == 0 }

func (m Month) String() string {
	if m.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

func (m Month) first() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

func (m Month) Next() Month { return MonthOf(m.first().AddDate(0, 1, 0)) }
func (m Month) Prev() Month { return MonthOf(m.first().AddDate(0, -1, 0)) }

// AddMonths shifts m by n months (n may be negative).
func (m Month) AddMonths(n int) Month { return MonthOf(m.first().AddDate(0, n, 0)) }

func (m Month) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Month) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*m = Month{}
		return nil
	}
	// Dates are accepted too; only the month part is kept.
	s := string(b)
	if len(s) > len(monthLayout) {
		s = s[:len(monthLayout)]
	}
	parsed, err := ParseMonth(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
