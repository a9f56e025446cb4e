package pin

import "errors"

var (
	ErrOwnerEmpty         = errors.New("pin owner cannot be empty")
	ErrPlaceIDEmpty       = errors.New("place id cannot be empty")
	ErrNameEmpty          = errors.New("pin name cannot be empty")
	ErrInvalidLocation    = errors.New("invalid location")
	ErrInvalidCountryCode = errors.New("invalid country code")
	ErrInvalidPlaceURL    = errors.New("maps url does not carry a place id")
)
