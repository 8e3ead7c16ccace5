package weather

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"tinglebot/internal/storage"
)

// Generator produces a fresh weather record for a village and day.
// The real content tables live outside the engine; this boundary keeps
// them swappable in tests.
type Generator interface {
	Generate(village, day string, now time.Time) storage.Weather
}

// randomGenerator is the built-in placeholder roll. Mild weather dominates;
// destructive labels are rare.
type randomGenerator struct {
	mu  sync.Mutex // the daily post and its backup can roll concurrently
	rng *rand.Rand
}

func NewRandomGenerator(seed int64) Generator {
	return &randomGenerator{rng: rand.New(rand.NewSource(seed))}
}

var precipitationTable = []string{"", "", "", "Rain", "Rain", "Heavy Snow", "Hail", "Blizzard"}

var specialTable = []string{"Flood", "Lightning Storm", "Avalanche", "Rock Slide", "Cinder Storm", "Blight Rain"}

func (g *randomGenerator) Generate(village, day string, now time.Time) storage.Weather {
	g.mu.Lock()
	defer g.mu.Unlock()
	w := storage.Weather{
		ID:            uuid.NewString(),
		Village:       village,
		Day:           day,
		WindKmh:       g.rng.Intn(130),
		Precipitation: precipitationTable[g.rng.Intn(len(precipitationTable))],
		GeneratedAt:   now,
	}
	// Special events on roughly one day in twenty.
	if g.rng.Intn(20) == 0 {
		w.Special = specialTable[g.rng.Intn(len(specialTable))]
		if w.Special == "Cinder Storm" {
			// The storm simulates its own wind, separate from the
			// ambient roll above.
			w.SpecialWindKmh = g.rng.Intn(130)
		}
	}
	return w
}
