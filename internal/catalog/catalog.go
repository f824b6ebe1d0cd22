// Package catalog holds the static lookup tables for alert types, zones, factions and worlds.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"alert-relay/internal/models"
)

// UnknownAlertName is the title used for event type codes missing from the catalog.
const UnknownAlertName = "Unknown Alert"

//go:embed alerts.json
var defaultAlertTypes []byte

// AlertType describes one metagame event code.
type AlertType struct {
	ID          int    `json:"-"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Special     bool   `json:"special"` // non-competitive events that are never posted
}

// Zone is a continent with its display color.
type Zone struct {
	ID    int
	Name  string
	Color models.Color
}

// Faction is one of the three empires, in score order.
type Faction struct {
	Code  string
	Name  string
	Color models.Color
}

var zones = map[int]Zone{
	2:   {ID: 2, Name: "Indar", Color: models.MustColor("#fcda2b")},
	4:   {ID: 4, Name: "Hossin", Color: models.MustColor("#b4de2a")},
	6:   {ID: 6, Name: "Amerish", Color: models.MustColor("#59e632")},
	8:   {ID: 8, Name: "Esamir", Color: models.MustColor("#cbd5e1")},
	14:  {ID: 14, Name: "Koltyr", Color: models.MustColor("#454545")},
	344: {ID: 344, Name: "Oshur", Color: models.MustColor("#168cfa")},
}

// DefaultZoneColor is used for zones missing from the table.
var DefaultZoneColor = models.MustColor("#99aab5")

// Factions is indexed by models.VS, models.NC and models.TR.
var Factions = [3]Faction{
	{Code: "VS", Name: "Vanu Sovereignty", Color: models.MustColor("#8A2BE2")},
	{Code: "NC", Name: "New Conglomerate", Color: models.MustColor("#4169E1")},
	{Code: "TR", Name: "Terran Republic", Color: models.MustColor("#FF0000")},
}

// Worlds maps server names to world ids.
var Worlds = map[string]int{
	"Connery": 1,
	"Miller":  10,
	"Cobalt":  13,
	"Emerald": 17,
	"SolTech": 40,
}

// ResolveWorld accepts a world id or a case-insensitive world name.
func ResolveWorld(s string) (int, error) {
	s = strings.TrimSpace(s)
	if id, err := strconv.Atoi(s); err == nil && id > 0 {
		return id, nil
	}
	for name, id := range Worlds {
		if strings.EqualFold(name, s) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown world %q", s)
}

// Catalog resolves event type codes to display records.
type Catalog struct {
	alertTypes map[int]AlertType
}

// Default returns the catalog built from the embedded alert table.
func Default() *Catalog {
	c, err := parse(defaultAlertTypes)
	if err != nil {
		panic(fmt.Sprintf("embedded alert table is invalid: %v", err))
	}
	return c
}

// Load reads an alert table in the same format as the embedded one.
func Load(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read alert table: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Catalog, error) {
	var raw map[string]AlertType
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode alert table: %w", err)
	}
	c := &Catalog{alertTypes: make(map[int]AlertType, len(raw))}
	for key, at := range raw {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("invalid alert type id %q: %w", key, err)
		}
		at.ID = id
		c.alertTypes[id] = at
	}
	return c, nil
}

// AlertType looks up an event type code.
func (c *Catalog) AlertType(id int) (AlertType, bool) {
	at, ok := c.alertTypes[id]
	return at, ok
}

// AlertName returns the display name of an event type, or UnknownAlertName.
func (c *Catalog) AlertName(id int) string {
	if at, ok := c.alertTypes[id]; ok && at.Name != "" {
		return at.Name
	}
	return UnknownAlertName
}

// SpecialIDs lists the codes flagged as special, sorted.
func (c *Catalog) SpecialIDs() []int {
	var ids []int
	for id, at := range c.alertTypes {
		if at.Special {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// Zone looks up a zone id.
func (c *Catalog) Zone(id int) (Zone, bool) {
	z, ok := zones[id]
	return z, ok
}

// ZoneColor returns the configured color of a zone, or DefaultZoneColor.
func (c *Catalog) ZoneColor(id int) models.Color {
	if z, ok := zones[id]; ok {
		return z.Color
	}
	return DefaultZoneColor
}
