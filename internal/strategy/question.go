package strategy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Comparison is the direction a market question asks about.
type Comparison int

const (
	ComparisonAbove Comparison = iota
	ComparisonBelow
)

// MarketInfo is the tradable content extracted from a weather market
// question, e.g. "Will NYC temperature exceed 60°F on 2026-02-17?".
type MarketInfo struct {
	City       string
	ThresholdC float64
	Comparison Comparison
}

var tempPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:°[FC]|degrees?)`)

// knownCities maps lowercase question substrings to canonical city names.
// Order matters only for the aliases, which is why nyc precedes new york.
var knownCities = []struct {
	substr string
	name   string
}{
	{"london", "London"},
	{"nyc", "New York"},
	{"new york", "New York"},
	{"chicago", "Chicago"},
	{"seoul", "Seoul"},
}

// canonicalCitySet resolves configured city names (question substrings like
// "nyc") to the parser's canonical names. Unknown names are ignored; an
// empty or unresolvable list returns nil, which allows every known city.
func canonicalCitySet(cities []string) map[string]bool {
	if len(cities) == 0 {
		return nil
	}
	set := make(map[string]bool, len(cities))
	for _, city := range cities {
		lower := strings.ToLower(strings.TrimSpace(city))
		for _, c := range knownCities {
			if lower == c.substr || strings.Contains(lower, c.substr) {
				set[c.name] = true
				break
			}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// ParseQuestion extracts city, Celsius threshold, and comparison direction
// from a market question. Questions that do not look like temperature
// markets return an error and are skipped by the scanner.
func ParseQuestion(question string) (MarketInfo, error) {
	lower := strings.ToLower(question)

	var city string
	for _, c := range knownCities {
		if strings.Contains(lower, c.substr) {
			city = c.name
			break
		}
	}
	if city == "" {
		return MarketInfo{}, fmt.Errorf("strategy: no known city in question %q", question)
	}

	threshold, err := extractTemperature(question)
	if err != nil {
		return MarketInfo{}, err
	}

	var cmp Comparison
	switch {
	case strings.Contains(lower, "exceed"), strings.Contains(lower, "above"), strings.Contains(lower, ">"):
		cmp = ComparisonAbove
	case strings.Contains(lower, "below"), strings.Contains(lower, "<"):
		cmp = ComparisonBelow
	default:
		return MarketInfo{}, fmt.Errorf("strategy: no comparison in question %q", question)
	}

	return MarketInfo{City: city, ThresholdC: threshold, Comparison: cmp}, nil
}

// extractTemperature finds the threshold like "60°F", "15°C" or
// "60 degrees" and returns it in Celsius.
func extractTemperature(question string) (float64, error) {
	match := tempPattern.FindStringSubmatch(question)
	if match == nil {
		return 0, fmt.Errorf("strategy: no temperature in question %q", question)
	}

	temp, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, fmt.Errorf("strategy: parse temperature: %w", err)
	}

	if strings.Contains(question, "°F") || strings.Contains(question, "degrees F") {
		temp = (temp - 32.0) * 5.0 / 9.0
	}
	return temp, nil
}
