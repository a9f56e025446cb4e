package pin

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"golang.org/x/text/language"
)

type Address struct {
	Line        string
	CountryCode string
}

func (a Address) normalize() (Address, error) {
	a.Line = strings.TrimSpace(a.Line)
	code := strings.TrimSpace(a.CountryCode)
	if code == "" {
		a.CountryCode = ""
		return a, nil
	}

	region, err := language.ParseRegion(code)
	if err != nil || !region.IsCountry() {
		return Address{}, ErrInvalidCountryCode
	}
	a.CountryCode = region.String()
	return a, nil
}

// Pin is a saved place in a user's inventory. PlaceID is unique per owner.
type Pin struct {
	ID       string
	OwnerID  string
	Name     string
	PlaceID  string
	Address  Address
	Location orb.Point
	AddedAt  time.Time
	Tags     []string
	Version  int64
}

func NewPin(ownerID, placeID, name string, address Address, location orb.Point, addedAt time.Time) (*Pin, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrOwnerEmpty
	}
	if strings.TrimSpace(placeID) == "" {
		return nil, ErrPlaceIDEmpty
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameEmpty
	}
	if !validLocation(location) {
		return nil, ErrInvalidLocation
	}

	address, err := address.normalize()
	if err != nil {
		return nil, err
	}

	return &Pin{
		ID:       uuid.NewString(),
		OwnerID:  ownerID,
		Name:     name,
		PlaceID:  placeID,
		Address:  address,
		Location: location,
		AddedAt:  addedAt.UTC(),
	}, nil
}

// Rename sets a new display name and reports whether anything changed.
// Blank names are ignored.
func (p *Pin) Rename(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || name == p.Name {
		return false
	}
	p.Name = name
	return true
}

func (p *Pin) Lon() float64 { return p.Location.Lon() }
func (p *Pin) Lat() float64 { return p.Location.Lat() }

func validLocation(p orb.Point) bool {
	return p.Lon() >= -180 && p.Lon() <= 180 && p.Lat() >= -90 && p.Lat() <= 90
}
