package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"gorm.io/datatypes"

	"github.com/mohammadpnp/pinventory/internal/domain/pin"
)

type Pin struct {
	ID          string         `gorm:"type:uuid;primaryKey"`
	OwnerID     string         `gorm:"type:text;not null;uniqueIndex:ux_pins_owner_place,priority:1"`
	PlaceID     string         `gorm:"type:text;not null;uniqueIndex:ux_pins_owner_place,priority:2"`
	Name        string         `gorm:"type:text;not null"`
	AddressLine string         `gorm:"type:text;not null;default:''"`
	CountryCode string         `gorm:"type:text;not null;default:''"`
	Longitude   float64        `gorm:"not null"`
	Latitude    float64        `gorm:"not null"`
	AddedAt     time.Time      `gorm:"not null"`
	Tags        datatypes.JSON `gorm:"not null"`
	Version     int64          `gorm:"not null;default:1"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Pin) TableName() string {
	return "pins"
}

func NewPin(p *pin.Pin) (Pin, error) {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return Pin{}, fmt.Errorf("encode pin tags: %w", err)
	}

	return Pin{
		ID:          p.ID,
		OwnerID:     p.OwnerID,
		PlaceID:     p.PlaceID,
		Name:        p.Name,
		AddressLine: p.Address.Line,
		CountryCode: p.Address.CountryCode,
		Longitude:   p.Location.Lon(),
		Latitude:    p.Location.Lat(),
		AddedAt:     p.AddedAt,
		Tags:        datatypes.JSON(raw),
		Version:     p.Version,
	}, nil
}

func (m Pin) ToDomain() (*pin.Pin, error) {
	var tags []string
	if len(m.Tags) > 0 {
		if err := json.Unmarshal(m.Tags, &tags); err != nil {
			return nil, fmt.Errorf("decode pin %s tags: %w", m.ID, err)
		}
	}

	return &pin.Pin{
		ID:       m.ID,
		OwnerID:  m.OwnerID,
		Name:     m.Name,
		PlaceID:  m.PlaceID,
		Address:  pin.Address{Line: m.AddressLine, CountryCode: m.CountryCode},
		Location: orb.Point{m.Longitude, m.Latitude},
		AddedAt:  m.AddedAt.UTC(),
		Tags:     tags,
		Version:  m.Version,
	}, nil
}
