// Package quest drives the quest lifecycle: idempotent daily generation,
// time-sliced posting with a conditional claim, regeneration under
// blocking preconditions, missed-quest catch-up, and a completion sweep
// with at-most-once reward distribution.
package quest

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"tinglebot/internal/services/notify"
	"tinglebot/internal/storage"
	kit "tinglebot/internal/transport"
	logx "tinglebot/pkg/logx"
)

// WeatherReader is the slice of the weather gateway used for the escort
// travel precondition.
type WeatherReader interface {
	WeatherForDay(ctx context.Context, village, day string) (*storage.Weather, error)
}

// Rewarder distributes quest rewards. The reward tables live outside the
// engine.
type Rewarder interface {
	Distribute(ctx context.Context, q storage.Quest) error
}

type Config struct {
	Slots []string // daily posting slots, "HH:MM", ascending
	// SubmissionCutoffHour is the local hour after which a submission
	// quest no longer leaves enough completion time and is regenerated.
	SubmissionCutoffHour int
	Channels             map[string]kit.ChatTarget
}

type Executor struct {
	store    storage.QuestStore
	weather  WeatherReader
	notif    *notify.Service
	gen      Generator
	rewarder Rewarder
	cfg      Config
	loc      *time.Location
	rngMu    sync.Mutex // slot jobs with overlapping schedules share rng
	rng      *rand.Rand
	log      logx.Logger
}

// staleClaimAge is how long a posting claim may sit without a recorded
// message before a catch-up run treats it as orphaned and releases it.
// Long enough that an in-flight send in this process is never touched.
const staleClaimAge = 5 * time.Minute

// releaseTimeout bounds claim releases that run on a detached context
// after the triggering context was canceled.
const releaseTimeout = 5 * time.Second

func NewExecutor(store storage.QuestStore, weather WeatherReader, notif *notify.Service, gen Generator, rewarder Rewarder, cfg Config, loc *time.Location, log logx.Logger) *Executor {
	if cfg.SubmissionCutoffHour <= 0 {
		cfg.SubmissionCutoffHour = 16
	}
	if loc == nil {
		loc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{
		store:    store,
		weather:  weather,
		notif:    notif,
		gen:      gen,
		rewarder: rewarder,
		cfg:      cfg,
		loc:      loc,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		log:      log,
	}
}

// GenerateDaily creates the day's quests unless any already exist.
// Idempotent per calendar day.
func (e *Executor) GenerateDaily(ctx context.Context, now time.Time) error {
	day := storage.Day(now, e.loc)
	n, err := e.store.CountQuestsForDay(ctx, day)
	if err != nil {
		return fmt.Errorf("count quests: %w", err)
	}
	if n > 0 {
		return nil
	}

	villages := make([]string, 0, len(e.cfg.Channels))
	for v := range e.cfg.Channels {
		villages = append(villages, v)
	}
	sort.Strings(villages)

	quests := e.gen.GenerateDaily(day, villages, e.cfg.Slots, now)
	if len(quests) == 0 {
		return nil
	}
	if err := e.store.InsertQuests(ctx, quests); err != nil {
		return fmt.Errorf("insert quests: %w", err)
	}
	e.log.Info("daily quests generated", logx.String("day", day), logx.Int("count", len(quests)))
	return nil
}

// PostSlot posts the quests scheduled for one daily slot. Order is
// shuffled so no village is systematically posted first.
func (e *Executor) PostSlot(ctx context.Context, now time.Time, slot string) error {
	day := storage.Day(now, e.loc)
	unposted, err := e.store.UnpostedQuests(ctx, day)
	if err != nil {
		return fmt.Errorf("unposted quests: %w", err)
	}

	var due []storage.Quest
	for _, q := range unposted {
		if q.Slot == slot {
			due = append(due, q)
		}
	}
	e.rngMu.Lock()
	e.rng.Shuffle(len(due), func(i, j int) { due[i], due[j] = due[j], due[i] })
	e.rngMu.Unlock()

	var firstErr error
	for _, q := range due {
		if err := e.postOne(ctx, q, now, false); err != nil {
			e.log.Warn("quest post failed", logx.String("quest", q.ID), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// CatchMissed posts any quest whose slot already passed today but which is
// still unposted, annotated as late. Used at startup and as a backup job.
func (e *Executor) CatchMissed(ctx context.Context, now time.Time) error {
	day := storage.Day(now, e.loc)

	// Repair claims orphaned by a crash or cancellation mid-post; the
	// quests become visible as unposted again and are caught below.
	released, err := e.store.ReleaseStaleQuestClaims(ctx, now.Add(-staleClaimAge))
	if err != nil {
		return fmt.Errorf("release stale claims: %w", err)
	}
	if released > 0 {
		e.log.Warn("stale quest claims released", logx.Int("count", released))
	}

	unposted, err := e.store.UnpostedQuests(ctx, day)
	if err != nil {
		return fmt.Errorf("unposted quests: %w", err)
	}

	local := now.In(e.loc)
	nowHM := local.Format("15:04")

	caught := 0
	var firstErr error
	for _, q := range unposted {
		if q.Slot >= nowHM {
			continue
		}
		if err := e.postOne(ctx, q, now, true); err != nil {
			e.log.Warn("missed quest post failed", logx.String("quest", q.ID), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		caught++
	}
	if caught > 0 {
		e.log.Info("missed quests posted", logx.String("day", day), logx.Int("count", caught))
	}
	return firstErr
}

func (e *Executor) postOne(ctx context.Context, q storage.Quest, now time.Time, late bool) error {
	regenerated, changed, err := e.maybeRegenerate(ctx, q, now)
	if err != nil {
		return err
	}
	if changed {
		q = regenerated
	}

	claimedWrite, err := e.store.ClaimQuestForPosting(ctx, q.ID, now)
	if err != nil {
		return fmt.Errorf("claim quest: %w", err)
	}
	if !claimedWrite {
		// Another execution already posted it; not an error.
		return nil
	}

	target, ok := e.cfg.Channels[q.Village]
	if !ok {
		e.releaseClaim(ctx, q.ID)
		return fmt.Errorf("no channel configured for village %s", q.Village)
	}

	ref, delivered := e.notif.Channel(ctx, target, formatQuest(q, late))
	if !delivered {
		e.releaseClaim(ctx, q.ID)
		return fmt.Errorf("quest post not delivered for %s", q.ID)
	}

	recorded, err := e.store.RecordQuestMessage(ctx, q.ID, ref.ChatID, ref.MessageID, late)
	if err != nil {
		return fmt.Errorf("record quest message: %w", err)
	}
	if !recorded {
		e.log.Warn("quest message already recorded", logx.String("quest", q.ID))
	}
	return nil
}

// releaseClaim undoes a posting claim on a context detached from the
// caller's, so a send that failed on cancellation still gets its claim
// back. The hourly catch-up covers the case where even this fails.
func (e *Executor) releaseClaim(ctx context.Context, id string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := e.store.ReleaseQuestClaim(rctx, id); err != nil {
		e.log.Warn("quest claim release failed", logx.String("quest", id), logx.Err(err))
	}
}

// maybeRegenerate replaces a quest's parameters in place when a blocking
// precondition holds at post time. Identity is preserved.
func (e *Executor) maybeRegenerate(ctx context.Context, q storage.Quest, now time.Time) (storage.Quest, bool, error) {
	blocked := false
	switch q.Kind {
	case storage.QuestEscort:
		w, err := e.weather.WeatherForDay(ctx, q.Village, q.Day)
		if err != nil {
			return q, false, fmt.Errorf("weather precondition: %w", err)
		}
		blocked = travelBlocked(w)
	case storage.QuestSubmission:
		blocked = now.In(e.loc).Hour() >= e.cfg.SubmissionCutoffHour
	}
	if !blocked {
		return q, false, nil
	}

	regen := e.gen.Regenerate(q, now)
	regen.ID = q.ID
	matchedWrite, err := e.store.ReplaceQuestParams(ctx, q.ID, regen.Kind, regen.Title, regen.Description, regen.ExpiresAt)
	if err != nil {
		return q, false, fmt.Errorf("replace quest params: %w", err)
	}
	if !matchedWrite {
		// A concurrent execution posted the quest between our read and
		// the replace. The sent content stands; our claim will miss.
		return q, false, nil
	}
	e.log.Info("quest regenerated",
		logx.String("quest", q.ID),
		logx.String("from", string(q.Kind)),
		logx.String("to", string(regen.Kind)))
	return regen, true, nil
}

func travelBlocked(w *storage.Weather) bool {
	if w == nil {
		return false
	}
	if w.Precipitation == "Blizzard" {
		return true
	}
	switch w.Special {
	case "Flood", "Avalanche", "Rock Slide":
		return true
	}
	return false
}

// CompletionSweep resolves active quests: completed ones get rewards at
// most once; expired ones transition terminally.
func (e *Executor) CompletionSweep(ctx context.Context, now time.Time) error {
	active, err := e.store.ActiveQuests(ctx)
	if err != nil {
		return fmt.Errorf("active quests: %w", err)
	}

	completed, expired := 0, 0
	for _, q := range active {
		switch {
		case questComplete(q, now):
			matchedWrite, err := e.store.SetQuestStatus(ctx, q.ID, storage.QuestActive, storage.QuestCompleted)
			if err != nil {
				e.log.Warn("complete transition errored", logx.String("quest", q.ID), logx.Err(err))
				continue
			}
			if !matchedWrite {
				continue
			}
			completed++
			e.distributeRewards(ctx, q)
		case now.After(q.ExpiresAt):
			matchedWrite, err := e.store.SetQuestStatus(ctx, q.ID, storage.QuestActive, storage.QuestExpired)
			if err != nil {
				e.log.Warn("expire transition errored", logx.String("quest", q.ID), logx.Err(err))
				continue
			}
			if !matchedWrite {
				continue
			}
			expired++
			if target, ok := e.cfg.Channels[q.Village]; ok {
				e.notif.Channel(ctx, target, fmt.Sprintf("The quest %q has expired unfulfilled.", q.Title))
			}
		}
	}
	if completed > 0 || expired > 0 {
		e.log.Info("quest completion sweep done", logx.Int("completed", completed), logx.Int("expired", expired))
	}
	return nil
}

// questComplete is the per-kind completion predicate. Submission quests
// complete at their deadline if anyone participated; the rest complete on
// the participant threshold.
func questComplete(q storage.Quest, now time.Time) bool {
	if q.Kind == storage.QuestSubmission {
		return now.After(q.ExpiresAt) && q.Participants > 0
	}
	return q.Participants >= q.MinParticipants && q.MinParticipants > 0
}

func (e *Executor) distributeRewards(ctx context.Context, q storage.Quest) {
	matchedWrite, err := e.store.MarkQuestRewarded(ctx, q.ID)
	if err != nil {
		e.log.Warn("mark rewarded errored", logx.String("quest", q.ID), logx.Err(err))
		return
	}
	if !matchedWrite {
		// A previous sweep already distributed.
		return
	}
	if e.rewarder == nil {
		return
	}
	if err := e.rewarder.Distribute(ctx, q); err != nil {
		e.log.Warn("reward distribution failed", logx.String("quest", q.ID), logx.Err(err))
	}
}

func formatQuest(q storage.Quest, late bool) string {
	var b strings.Builder
	if late {
		b.WriteString("(Posted late; the scheduled window was missed.)\n")
	}
	fmt.Fprintf(&b, "Quest for %s: %s\n", q.Village, q.Title)
	if q.Description != "" {
		b.WriteString(q.Description)
		b.WriteString("\n")
	}
	if q.MinParticipants > 1 {
		fmt.Fprintf(&b, "Requires %d participants.\n", q.MinParticipants)
	}
	fmt.Fprintf(&b, "Expires %s.", q.ExpiresAt.UTC().Format(time.RFC1123))
	return strings.TrimSpace(b.String())
}
