package pin

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const mapsURLPrefix = "https://maps.google.com/?cid="

// ParsePlaceID extracts the numeric place id from a maps url such as
// https://maps.google.com/?cid=1234.
func ParsePlaceID(mapsURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(mapsURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPlaceURL, err)
	}

	cid := u.Query().Get("cid")
	if cid == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidPlaceURL, mapsURL)
	}
	if _, err := strconv.ParseUint(cid, 10, 64); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidPlaceURL, mapsURL)
	}
	return cid, nil
}

func MapsURL(placeID string) string {
	return mapsURLPrefix + placeID
}
