package quest

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"tinglebot/internal/storage"
)

// Generator supplies quest content. The real template tables are external
// collaborators; the engine only relies on this boundary.
type Generator interface {
	// GenerateDaily produces the day's quest set across villages and slots.
	GenerateDaily(day string, villages, slots []string, now time.Time) []storage.Quest

	// Regenerate produces replacement parameters for a quest whose
	// posting precondition failed. The returned quest keeps q's identity.
	Regenerate(q storage.Quest, now time.Time) storage.Quest
}

type template struct {
	kind  storage.QuestKind
	title string
	min   int
}

var questTemplates = []template{
	{kind: storage.QuestGather, title: "Gather supplies for the village stores", min: 2},
	{kind: storage.QuestCrafting, title: "Craft arms for the village guard", min: 2},
	{kind: storage.QuestEscort, title: "Escort a merchant along the trade road", min: 1},
	{kind: storage.QuestSubmission, title: "Chronicle the day's events for the archive", min: 1},
}

// safeTemplates excludes kinds with posting preconditions, for regeneration.
var safeTemplates = []template{
	{kind: storage.QuestGather, title: "Gather supplies for the village stores", min: 2},
	{kind: storage.QuestCrafting, title: "Craft arms for the village guard", min: 2},
}

type templateGenerator struct {
	mu  sync.Mutex // regeneration at post time can run from several jobs
	rng *rand.Rand
}

func NewTemplateGenerator(seed int64) Generator {
	return &templateGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *templateGenerator) pick(tpls []template) template {
	g.mu.Lock()
	defer g.mu.Unlock()
	return tpls[g.rng.Intn(len(tpls))]
}

func (g *templateGenerator) GenerateDaily(day string, villages, slots []string, now time.Time) []storage.Quest {
	var out []storage.Quest
	for _, village := range villages {
		for _, slot := range slots {
			tpl := g.pick(questTemplates)
			out = append(out, storage.Quest{
				ID:              uuid.NewString(),
				Village:         village,
				Kind:            tpl.kind,
				Title:           tpl.title,
				Description:     fmt.Sprintf("%s. Report back in %s by day's end.", tpl.title, village),
				Day:             day,
				Slot:            slot,
				Status:          storage.QuestUnposted,
				MinParticipants: tpl.min,
				ExpiresAt:       now.Add(24 * time.Hour),
			})
		}
	}
	return out
}

func (g *templateGenerator) Regenerate(q storage.Quest, now time.Time) storage.Quest {
	tpl := g.pick(safeTemplates)
	q.Kind = tpl.kind
	q.Title = tpl.title
	q.Description = fmt.Sprintf("%s. Report back in %s by day's end.", tpl.title, q.Village)
	q.MinParticipants = tpl.min
	q.ExpiresAt = now.Add(24 * time.Hour)
	return q
}
