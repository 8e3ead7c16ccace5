package weather

import "tinglebot/internal/storage"

// Hurricane-force wind threshold on the Beaufort-extended scale (km/h).
const hurricaneWind = 118

type Source struct {
	Label string
	HP    int
}

// Report is the damage computed from one weather record. All applicable
// sources sum.
type Report struct {
	Total   int
	Sources []Source
}

type windBand struct {
	min   int
	hp    int
	label string
}

// Ordered highest-first; the first matching band wins and bands are
// mutually exclusive.
var windBands = []windBand{
	{min: hurricaneWind, hp: 2, label: "Hurricane"},
	{min: 88, hp: 1, label: "Violent Storm"},
	{min: 63, hp: 1, label: "Storm"},
	{min: 41, hp: 1, label: "Gale"},
}

var precipitationHP = map[string]int{
	"Blizzard":   5,
	"Heavy Snow": 2,
	"Hail":       3,
}

var specialHP = map[string]int{
	"Blight Rain":     50,
	"Avalanche":       15,
	"Rock Slide":      15,
	"Flood":           20,
	"Lightning Storm": 5,
}

// Damage computes village damage for a weather record. Deterministic and
// pure; the executor applies the result through a conditional write.
func Damage(w storage.Weather) Report {
	var r Report

	windHP := 0
	for _, b := range windBands {
		if w.WindKmh >= b.min {
			windHP = b.hp
			r.Sources = append(r.Sources, Source{Label: b.label, HP: b.hp})
			break
		}
	}

	if hp, ok := precipitationHP[w.Precipitation]; ok {
		r.Sources = append(r.Sources, Source{Label: w.Precipitation, HP: hp})
	}

	if hp, ok := specialHP[w.Special]; ok {
		r.Sources = append(r.Sources, Source{Label: w.Special, HP: hp})
	}

	// A cinder storm carries an implicit wind effect from its own
	// simulated wind, but only when no ambient wind band already counted.
	if w.Special == "Cinder Storm" && windHP == 0 {
		hp := 1
		if w.SpecialWindKmh >= hurricaneWind {
			hp = 2
		}
		r.Sources = append(r.Sources, Source{Label: "Cinder Storm", HP: hp})
	}

	for _, src := range r.Sources {
		r.Total += src.HP
	}
	return r
}
