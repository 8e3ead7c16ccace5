package storage

import (
	"context"
	"time"
)

// DayFormat is the date-only granularity used for per-day dedup keys.
const DayFormat = "2006-01-02"

// Day renders t as a calendar day in the given location.
func Day(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayFormat)
}

// ---- Entities ----

type Village struct {
	Name          string
	HP            int
	MaxHP         int
	LastDamageDay string // DayFormat; empty if never damaged
}

type Weather struct {
	ID      string
	Village string
	Day     string // DayFormat, in the village's governing timezone
	WindKmh int
	// SpecialWindKmh is the wind a wind-simulating special (Cinder
	// Storm) rolled for itself, independent of the ambient wind.
	SpecialWindKmh int
	Precipitation  string // e.g. "Rain", "Blizzard", "Heavy Snow", "Hail"
	Special        string // e.g. "Blight Rain", "Flood", "Cinder Storm"
	GeneratedAt    time.Time
	Posted         bool
	PostedAt       time.Time
}

type QuestStatus string

const (
	QuestUnposted  QuestStatus = "unposted"
	QuestPosting   QuestStatus = "posting" // claimed by one execution, message not yet recorded
	QuestActive    QuestStatus = "active"
	QuestCompleted QuestStatus = "completed"
	QuestExpired   QuestStatus = "expired"
)

type QuestKind string

const (
	QuestEscort     QuestKind = "escort"
	QuestGather     QuestKind = "gather"
	QuestCrafting   QuestKind = "crafting"
	QuestSubmission QuestKind = "submission" // art/writing, daily cutoff applies
)

type Quest struct {
	ID              string
	Village         string
	Kind            QuestKind
	Title           string
	Description     string
	Day             string // DayFormat
	Slot            string // recurring daily HH:MM posting slot
	Status          QuestStatus
	ChannelID       int64 // set when posted
	MessageID       int   // zero until posted
	PostedLate      bool
	Participants    int
	MinParticipants int
	ExpiresAt       time.Time
	Rewarded        bool
}

type RaidStatus string

const (
	RaidActive RaidStatus = "active"
	RaidFailed RaidStatus = "failed"
)

type Raid struct {
	ID        string
	Village   string
	Monster   string
	Status    RaidStatus
	ChannelID int64
	ThreadID  int
	ExpiresAt time.Time
}

type RaidParticipant struct {
	RaidID      string
	CharacterID int64
	Name        string
	Defeated    bool
}

type Character struct {
	ID            int64
	Name          string
	Village       string
	BirthMonth    int
	BirthDay      int
	Jailed        bool
	JailReleaseAt time.Time
	BuffLabel     string
	BuffEndsAt    time.Time
	DebuffLabel   string
	DebuffEndsAt  time.Time
	Blighted      bool
	BlightStage   int
	BlightNextAt  time.Time
	BoostedBy     string
	BoostEndsAt   time.Time
	DailyRolls    int
}

// ---- Per-domain gateways ----
//
// Executors accept the narrowest interface they need; tests substitute
// small fakes.

type VillageStore interface {
	ListVillages(ctx context.Context) ([]Village, error)

	// ApplyVillageDamage subtracts hp (floored at zero) and stamps the
	// damage day. Matched is false when the village was already damaged
	// on that calendar day.
	ApplyVillageDamage(ctx context.Context, name string, hp int, day string) (bool, error)
}

type WeatherStore interface {
	WeatherForDay(ctx context.Context, village, day string) (*Weather, error)
	InsertWeather(ctx context.Context, w Weather) error

	// MarkWeatherPosted flips the posted flag. Matched is false when the
	// record was already posted.
	MarkWeatherPosted(ctx context.Context, id string, at time.Time) (bool, error)
}

type QuestStore interface {
	CountQuestsForDay(ctx context.Context, day string) (int, error)
	InsertQuests(ctx context.Context, quests []Quest) error

	// UnpostedQuests returns quests for the day that have no message yet.
	UnpostedQuests(ctx context.Context, day string) ([]Quest, error)

	// ClaimQuestForPosting gates the send: the transition unposted ->
	// posting matches at most once, so exactly one execution sends the
	// message. The claim is stamped with at so an orphaned claim can be
	// released later. Matched is false when another execution already
	// claimed it.
	ClaimQuestForPosting(ctx context.Context, id string, at time.Time) (bool, error)

	// RecordQuestMessage stores the sent message and activates the quest.
	// Matched is false when a message was already recorded.
	RecordQuestMessage(ctx context.Context, id string, channelID int64, messageID int, late bool) (bool, error)

	// ReleaseQuestClaim undoes a posting claim after a failed send so a
	// backup check can retry.
	ReleaseQuestClaim(ctx context.Context, id string) error

	// ReleaseStaleQuestClaims returns to unposted any claim stamped
	// before the cutoff whose message never got recorded. Claims go
	// stale when the process dies between claiming and recording.
	ReleaseStaleQuestClaims(ctx context.Context, before time.Time) (int, error)

	// ReplaceQuestParams swaps a quest's content in place, reusing its
	// identity (regeneration under a blocking precondition). Matched is
	// false when the quest already left the unposted state, in which
	// case the stored content must stand as sent.
	ReplaceQuestParams(ctx context.Context, id string, kind QuestKind, title, description string, expiresAt time.Time) (bool, error)

	ActiveQuests(ctx context.Context) ([]Quest, error)
	SetQuestStatus(ctx context.Context, id string, from, to QuestStatus) (bool, error)
	MarkQuestRewarded(ctx context.Context, id string) (bool, error)
}

type RaidStore interface {
	// DueRaids returns active raids whose expiry instant has passed.
	DueRaids(ctx context.Context, now time.Time) ([]Raid, error)

	// FailRaid transitions active -> failed. Matched is false when the
	// raid already left the active state.
	FailRaid(ctx context.Context, id string) (bool, error)

	DefeatRaidParticipants(ctx context.Context, raidID string) (int, error)
	RaidParticipants(ctx context.Context, raidID string) ([]RaidParticipant, error)
}

type CharacterStore interface {
	DueJailed(ctx context.Context, now time.Time) ([]Character, error)
	ReleaseJail(ctx context.Context, id int64) (bool, error)

	ExpireBuffs(ctx context.Context, now time.Time) (int, error)
	ExpireDebuffs(ctx context.Context, now time.Time) (int, error)
	ExpireBoosts(ctx context.Context, now time.Time) (int, error)

	BirthdayCharacters(ctx context.Context, month, day int) ([]Character, error)

	DueBlight(ctx context.Context, now time.Time) ([]Character, error)
	AdvanceBlightStage(ctx context.Context, id int64, fromStage int, nextAt time.Time) (bool, error)

	ResetDailyRolls(ctx context.Context) (int, error)
}

type WorldEventStore interface {
	// MarkEventAnnounced records that a day-scoped world event was
	// announced. Matched is false when the (event, day) pair was already
	// recorded, so at most one announcement goes out per day.
	MarkEventAnnounced(ctx context.Context, name, day string, at time.Time) (bool, error)
}

// Store is the full gateway surface, implemented by the SQLite backend.
type Store interface {
	VillageStore
	WeatherStore
	QuestStore
	RaidStore
	CharacterStore
	WorldEventStore
	Close() error
}
