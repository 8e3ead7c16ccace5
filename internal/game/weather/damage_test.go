package weather

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tinglebot/internal/storage"
)

func TestDamageBands(t *testing.T) {
	tests := []struct {
		name    string
		w       storage.Weather
		total   int
		sources int
	}{
		{name: "calm day", w: storage.Weather{WindKmh: 30}, total: 0, sources: 0},
		{name: "gale", w: storage.Weather{WindKmh: 41}, total: 1, sources: 1},
		{name: "storm", w: storage.Weather{WindKmh: 63}, total: 1, sources: 1},
		{name: "violent storm", w: storage.Weather{WindKmh: 117}, total: 1, sources: 1},
		{name: "hurricane", w: storage.Weather{WindKmh: 118}, total: 2, sources: 1},
		{name: "hurricane and blizzard", w: storage.Weather{WindKmh: 120, Precipitation: "Blizzard"}, total: 7, sources: 2},
		{name: "heavy snow", w: storage.Weather{WindKmh: 10, Precipitation: "Heavy Snow"}, total: 2, sources: 1},
		{name: "hail", w: storage.Weather{Precipitation: "Hail"}, total: 3, sources: 1},
		{name: "plain rain", w: storage.Weather{Precipitation: "Rain"}, total: 0, sources: 0},
		{name: "blight rain", w: storage.Weather{Special: "Blight Rain"}, total: 50, sources: 1},
		{name: "flood", w: storage.Weather{Special: "Flood"}, total: 20, sources: 1},
		{name: "avalanche in a gale", w: storage.Weather{WindKmh: 50, Special: "Avalanche"}, total: 16, sources: 2},
		{name: "everything at once", w: storage.Weather{WindKmh: 130, Precipitation: "Blizzard", Special: "Rock Slide"}, total: 22, sources: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Damage(tt.w)
			assert.Equal(t, tt.total, got.Total)
			assert.Len(t, got.Sources, tt.sources)
		})
	}
}

func TestDamageCinderStormImplicitWind(t *testing.T) {
	// No wind band counted: cinder storm contributes the implicit effect.
	got := Damage(storage.Weather{WindKmh: 30, Special: "Cinder Storm"})
	assert.Equal(t, 1, got.Total)
	assert.Len(t, got.Sources, 1)
	assert.Equal(t, "Cinder Storm", got.Sources[0].Label)

	// The storm's own simulated wind at hurricane force doubles the
	// effect even when the ambient wind is calm.
	got = Damage(storage.Weather{WindKmh: 30, SpecialWindKmh: 120, Special: "Cinder Storm"})
	assert.Equal(t, 2, got.Total)
	assert.Len(t, got.Sources, 1)
	assert.Equal(t, "Cinder Storm", got.Sources[0].Label)

	// A counted ambient wind band suppresses the implicit effect.
	got = Damage(storage.Weather{WindKmh: 70, Special: "Cinder Storm"})
	assert.Equal(t, 1, got.Total)
	assert.Equal(t, "Storm", got.Sources[0].Label)
}

func TestDamageWindBandsMutuallyExclusive(t *testing.T) {
	// A hurricane must not also count the lower bands.
	got := Damage(storage.Weather{WindKmh: 200})
	assert.Equal(t, 2, got.Total)
	assert.Len(t, got.Sources, 1)
	assert.Equal(t, "Hurricane", got.Sources[0].Label)
}
