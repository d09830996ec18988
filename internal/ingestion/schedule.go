// Package ingestion loads flight schedules from files or HTTP sources
// and upserts them into the store.
package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/CharlesOkeke1/AirValora/pkg/models"
)

// Format is a schedule encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatJSONC
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatJSONC:
		return "jsonc"
	case FormatYAML:
		return "yaml"
	default:
		return "json"
	}
}

// ErrEmptySchedule is returned when a document holds no flights.
var ErrEmptySchedule = errors.New("schedule contains no flights")

// DetectFormat picks a format from a file name or URL path, falling
// back to a content type. Unknown inputs are treated as JSONC, which
// also accepts plain JSON.
func DetectFormat(name, contentType string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	case ".jsonc":
		return FormatJSONC
	}
	if strings.Contains(contentType, "yaml") {
		return FormatYAML
	}
	return FormatJSONC
}

// ReadFile parses a schedule file from disk.
func ReadFile(path string) ([]models.FlightRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	flights, err := Parse(data, DetectFormat(path, ""))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return flights, nil
}

// Parse decodes a schedule. The document is either a list of flights
// or an object whose "flights" field is a list or a map keyed by flight
// reference. Records are normalized with Normalize.
func Parse(data []byte, format Format) ([]models.FlightRecord, error) {
	var (
		flights []models.FlightRecord
		err     error
	)
	switch format {
	case FormatYAML:
		flights, err = parseYAML(data)
	case FormatJSONC:
		flights, err = parseJSON(jsonc.ToJSON(data))
	default:
		flights, err = parseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s schedule: %w", format, err)
	}
	if len(flights) == 0 {
		return nil, ErrEmptySchedule
	}
	for i := range flights {
		Normalize(&flights[i])
	}
	return flights, nil
}

func parseJSON(data []byte) ([]models.FlightRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var list []models.FlightRecord
		err := json.Unmarshal(data, &list)
		return list, err
	}

	var doc struct {
		Flights json.RawMessage `json:"flights"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	raw := bytes.TrimSpace(doc.Flights)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []models.FlightRecord
		err := json.Unmarshal(raw, &list)
		return list, err
	}
	var byRef map[string]models.FlightRecord
	if err := json.Unmarshal(raw, &byRef); err != nil {
		return nil, err
	}
	return fromMap(byRef), nil
}

func parseYAML(data []byte) ([]models.FlightRecord, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	node := root.Content[0]

	if node.Kind == yaml.MappingNode {
		var flights *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == "flights" {
				flights = node.Content[i+1]
				break
			}
		}
		if flights == nil {
			return nil, nil
		}
		node = flights
	}

	switch node.Kind {
	case yaml.SequenceNode:
		var list []models.FlightRecord
		err := node.Decode(&list)
		return list, err
	case yaml.MappingNode:
		var byRef map[string]models.FlightRecord
		if err := node.Decode(&byRef); err != nil {
			return nil, err
		}
		return fromMap(byRef), nil
	default:
		return nil, fmt.Errorf("line %d: expected a list or map of flights", node.Line)
	}
}

// fromMap flattens a reference-keyed map in key order. A record
// without its own reference takes the key.
func fromMap(byRef map[string]models.FlightRecord) []models.FlightRecord {
	refs := make([]string, 0, len(byRef))
	for ref := range byRef {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	out := make([]models.FlightRecord, 0, len(refs))
	for _, ref := range refs {
		f := byRef[ref]
		if f.ID == "" {
			f.ID = ref
		}
		out = append(out, f)
	}
	return out
}

// Normalize fills derived fields: the departure timestamp from date and
// departure time, the duration from departure and arrival times, and
// the non-negative delay.
func Normalize(f *models.FlightRecord) {
	f.ID = strings.TrimSpace(f.ID)
	if f.DepartureTimestamp == "" && f.Date != "" && f.DepartureTime != "" {
		if t, ok := models.ParseTimestamp(f.Date + "T" + f.DepartureTime); ok {
			f.DepartureTimestamp = models.FormatTimestamp(t)
		}
	}
	if f.DurationMins <= 0 {
		f.DurationMins = durationBetween(f.DepartureTime, f.ArrivalTime)
	}
	if f.DelayMins < 0 {
		f.DelayMins = 0
	}
}

// durationBetween returns the minutes from dep to arr, both "15:04",
// wrapping past midnight. It returns 0 when either is unparseable.
func durationBetween(dep, arr string) float64 {
	d, err1 := time.Parse("15:04", dep)
	a, err2 := time.Parse("15:04", arr)
	if err1 != nil || err2 != nil {
		return 0
	}
	diff := a.Sub(d)
	if diff <= 0 {
		diff += 24 * time.Hour
	}
	return diff.Minutes()
}
