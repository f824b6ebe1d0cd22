package tracker

import (
	"fmt"
	"time"

	"alert-relay/internal/catalog"
	"alert-relay/internal/models"
)

// AlertDuration is the fixed length of an alert.
const AlertDuration = 5400 * time.Second

// Render builds the outward summary of an alert event.
func (t *Tracker) Render(ev models.AlertEvent) models.Embed {
	start, end := ev.Time(), ev.Time().Add(AlertDuration)
	if ev.State == models.Ended {
		start, end = ev.Time().Add(-AlertDuration), ev.Time()
	}

	embed := models.Embed{
		Title: t.catalog.AlertName(ev.EventTypeID),
		Fields: []models.Field{{
			Name:  "Timeframe",
			Value: fmt.Sprintf("%s - %s", t.clock(start), t.clock(end)),
		}},
		Color: t.catalog.ZoneColor(ev.ZoneID),
	}

	if ev.State == models.Ended {
		winner := catalog.Factions[models.Winner(ev.Scores)]
		embed.Fields = append(embed.Fields, models.Field{Name: "Winner", Value: winner.Name})
		embed.Color = winner.Color
	}
	return embed
}

func (t *Tracker) clock(ts time.Time) string {
	return ts.In(t.displayZone).Format("15:04")
}
