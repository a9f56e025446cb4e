package archive

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	app "github.com/mohammadpnp/pinventory/internal/application/importing"
)

type archiveBrowser struct {
	ServiceStatus []serviceStatus `json:"serviceStatus"`
}

type serviceStatus struct {
	FolderName    string          `json:"folderName"`
	ExtractedFile []extractedFile `json:"extractedFile"`
}

type extractedFile struct {
	Name string `json:"name"`
}

// dataPath picks the first service and its first file from the manifest.
func dataPath(manifest []byte) (string, error) {
	var browser archiveBrowser
	if err := json.Unmarshal(manifest, &browser); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMalformedContent, manifestPath, err)
	}
	if len(browser.ServiceStatus) == 0 {
		return "", ErrMissingService
	}

	service := browser.ServiceStatus[0]
	if len(service.ExtractedFile) == 0 || strings.TrimSpace(service.ExtractedFile[0].Name) == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingExtractedFile, service.FolderName)
	}
	return portabilityRoot + service.FolderName + "/" + service.ExtractedFile[0].Name, nil
}

// parsePlaces reads a saved places FeatureCollection. Property keys are
// matched case-insensitively.
func parsePlaces(path string, data []byte) ([]app.StarredPlace, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedContent, path, err)
	}

	places := make([]app.StarredPlace, 0, len(fc.Features))
	for _, feature := range fc.Features {
		places = append(places, toStarredPlace(feature))
	}
	return places, nil
}

func toStarredPlace(feature *geojson.Feature) app.StarredPlace {
	props := feature.Properties

	place := app.StarredPlace{
		MapsURL:   stringProp(props, "google_maps_url"),
		AddedDate: timeProp(props, "date"),
		Comment:   optionalString(props, "comment"),
	}

	if location, ok := lookup(props, "location").(map[string]any); ok {
		place.Name = optionalString(location, "name")
		place.Address = optionalString(location, "address")
		place.CountryCode = optionalString(location, "country_code")
	}

	if point, ok := feature.Geometry.(orb.Point); ok {
		lon, lat := point.Lon(), point.Lat()
		place.Longitude = &lon
		place.Latitude = &lat
	}
	return place
}

func lookup(props map[string]any, key string) any {
	if v, ok := props[key]; ok {
		return v
	}
	for k, v := range props {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

func stringProp(props map[string]any, key string) string {
	s, _ := lookup(props, key).(string)
	return s
}

func optionalString(props map[string]any, key string) *string {
	s, ok := lookup(props, key).(string)
	if !ok {
		return nil
	}
	return &s
}

func timeProp(props map[string]any, key string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, stringProp(props, key))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
