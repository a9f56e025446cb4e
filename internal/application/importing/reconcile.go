package importing

import (
	"strings"

	"github.com/paulmach/orb"

	domain "github.com/mohammadpnp/pinventory/internal/domain/importing"
	"github.com/mohammadpnp/pinventory/internal/domain/pin"
)

// removedPlaceComment is what the provider writes on a saved place that no
// longer has location data.
const removedPlaceComment = "No location information is available for this saved place"

type reconciliation struct {
	processed int
	created   int
	updated   int
	failed    int
	conflicts []domain.ReportedPlace
	failures  []domain.ReportedPlace
	// pins holds every created or updated pin once, in first-touch order.
	pins []*pin.Pin
}

// reconcile classifies each record, in order: removed place, name clash with
// a different place, unusable record, new place, known place. Pins created
// by earlier records take part in later matches.
func reconcile(ownerID string, records []StarredPlace, existing []*pin.Pin) reconciliation {
	var r reconciliation

	byPlaceID := make(map[string]*pin.Pin, len(existing))
	known := make([]*pin.Pin, 0, len(existing)+len(records))
	for _, p := range existing {
		byPlaceID[p.PlaceID] = p
		known = append(known, p)
	}
	touched := make(map[string]bool)

	touch := func(p *pin.Pin) {
		if touched[p.ID] {
			return
		}
		touched[p.ID] = true
		r.pins = append(r.pins, p)
	}
	fail := func(record StarredPlace) {
		r.failed++
		r.failures = append(r.failures, reported(record))
	}

	for _, record := range records {
		r.processed++

		if record.Comment != nil && *record.Comment == removedPlaceComment {
			fail(record)
			continue
		}

		placeID, parseErr := pin.ParsePlaceID(record.MapsURL)
		name := deref(record.Name)

		if name != "" && nameClash(known, name, placeID) {
			r.conflicts = append(r.conflicts, reported(record))
			continue
		}

		if parseErr != nil {
			fail(record)
			continue
		}

		current, ok := byPlaceID[placeID]
		if !ok {
			created, err := newPinFrom(ownerID, placeID, record)
			if err != nil {
				fail(record)
				continue
			}
			byPlaceID[placeID] = created
			known = append(known, created)
			touch(created)
			r.created++
			continue
		}

		current.Rename(name)
		touch(current)
		r.updated++
	}

	return r
}

func nameClash(pins []*pin.Pin, name, placeID string) bool {
	for _, p := range pins {
		if p.Name == name && p.PlaceID != placeID {
			return true
		}
	}
	return false
}

func newPinFrom(ownerID, placeID string, record StarredPlace) (*pin.Pin, error) {
	if record.Latitude == nil || record.Longitude == nil {
		return nil, pin.ErrInvalidLocation
	}
	return pin.NewPin(
		ownerID,
		placeID,
		deref(record.Name),
		pin.Address{Line: deref(record.Address), CountryCode: deref(record.CountryCode)},
		orb.Point{*record.Longitude, *record.Latitude},
		record.AddedDate,
	)
}

func reported(record StarredPlace) domain.ReportedPlace {
	return domain.ReportedPlace{MapsURL: record.MapsURL, AddedDate: record.AddedDate}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
