package importing

import "time"

// Period is the time window requested from the export provider.
type Period struct {
	Start time.Time
	End   time.Time
}

func NewPeriod(start, end time.Time) (Period, error) {
	if !start.Before(end) {
		return Period{}, ErrInvalidPeriod
	}
	return Period{Start: start.UTC(), End: end.UTC()}, nil
}

// AllTime covers everything saved up to now.
func AllTime() Period {
	return Period{End: time.Now().UTC()}
}

// IsAllTime reports whether the period has no lower bound.
func (p Period) IsAllTime() bool {
	return p.Start.IsZero()
}
