package forecast

import "fmt"

type coordinates struct {
	lat float64
	lon float64
}

// cityCoords maps the city names that appear in market questions to
// coordinates. Aliases resolve to the same point.
var cityCoords = map[string]coordinates{
	"London":   {lat: 51.5074, lon: -0.1278},
	"New York": {lat: 40.7128, lon: -74.0060},
	"NYC":      {lat: 40.7128, lon: -74.0060},
	"Chicago":  {lat: 41.8781, lon: -87.6298},
	"Seoul":    {lat: 37.5665, lon: 126.9780},
}

func lookupCity(city string) (coordinates, error) {
	coords, ok := cityCoords[city]
	if !ok {
		return coordinates{}, fmt.Errorf("forecast: unknown city %q", city)
	}
	return coords, nil
}
