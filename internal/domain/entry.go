package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// UpdatedLayout is the feed's <updated> timestamp format.
const UpdatedLayout = "2006-01-02T15:04:05Z"

// RawEntry holds the untyped text of one feed entry, as extracted by the parser.
type RawEntry struct {
	Title   string
	Point   string
	Updated string
	Link    string

	// HasUpdated is false when the entry carried no <updated> element at all,
	// as opposed to one with unparseable text.
	HasUpdated bool
}

// ParseEntry converts a RawEntry into a Quake. Any field error drops the whole
// entry, except a malformed timestamp, which falls back to SentinelTime.
func ParseEntry(raw RawEntry) (Quake, error) {
	if !raw.HasUpdated {
		return Quake{}, errors.New("missing updated timestamp")
	}

	magnitude, details, err := parseTitle(raw.Title)
	if err != nil {
		return Quake{}, err
	}

	lat, lon, err := parsePoint(raw.Point)
	if err != nil {
		return Quake{}, err
	}

	link := strings.TrimSpace(raw.Link)
	if link == "" {
		return Quake{}, errors.New("missing link")
	}

	return Quake{
		OccurredAt: parseUpdated(raw.Updated),
		Details:    details,
		Latitude:   lat,
		Longitude:  lon,
		Magnitude:  magnitude,
		Link:       link,
	}, nil
}

// parseTitle splits "M 5.4, Offshore Region" into (5.4, "Offshore Region").
// The magnitude is the second word with its trailing character removed.
func parseTitle(title string) (float64, string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return 0, "", errors.New("missing title")
	}

	words := strings.Fields(title)
	if len(words) < 2 {
		return 0, "", fmt.Errorf("title %q has no magnitude token", title)
	}

	token := []rune(words[1])
	if len(token) < 2 {
		return 0, "", fmt.Errorf("magnitude token %q too short", words[1])
	}
	magnitude, err := strconv.ParseFloat(string(token[:len(token)-1]), 64)
	if err != nil {
		return 0, "", fmt.Errorf("parse magnitude: %w", err)
	}
	if math.IsNaN(magnitude) || math.IsInf(magnitude, 0) || magnitude < 0 {
		return 0, "", fmt.Errorf("invalid magnitude %v", magnitude)
	}

	_, details, found := strings.Cut(title, ",")
	if !found {
		return 0, "", fmt.Errorf("title %q has no description", title)
	}
	details = strings.TrimSpace(details)
	if details == "" {
		return 0, "", fmt.Errorf("title %q has no description", title)
	}

	return magnitude, details, nil
}

// parsePoint reads "<lat> <lon>". Extra tokens are ignored.
func parsePoint(point string) (float64, float64, error) {
	parts := strings.Fields(point)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("point %q needs latitude and longitude", point)
	}

	lat, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse longitude: %w", err)
	}
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return 0, 0, fmt.Errorf("point %q is not a number", point)
	}

	return lat, lon, nil
}

// parseUpdated parses the feed timestamp, returning SentinelTime on failure.
func parseUpdated(s string) time.Time {
	s = strings.TrimSpace(s)
	t, err := time.Parse(UpdatedLayout, s)
	// time.Parse accepts fractional seconds the layout does not name.
	if err != nil || t.Format(UpdatedLayout) != s {
		return SentinelTime
	}
	return t.UTC()
}
