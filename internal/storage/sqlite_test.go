package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "tinglebot/pkg/logx"
)

func openTempStore(t *testing.T) *sqliteStore {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "game.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st.(*sqliteStore)
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestApplyVillageDamageOncePerDay(t *testing.T) {
	t.Parallel()

	st := openTempStore(t)
	ctx := context.Background()
	if _, err := st.db.Exec(`INSERT INTO villages(name, hp, max_hp) VALUES('Rudania', 100, 100)`); err != nil {
		t.Fatalf("seed village: %v", err)
	}

	ok, err := st.ApplyVillageDamage(ctx, "Rudania", 7, "2026-03-02")
	if err != nil {
		t.Fatalf("first damage: %v", err)
	}
	if !ok {
		t.Fatal("first damage should match")
	}

	ok, err = st.ApplyVillageDamage(ctx, "Rudania", 7, "2026-03-02")
	if err != nil {
		t.Fatalf("second damage: %v", err)
	}
	if ok {
		t.Fatal("same-day damage should not match")
	}

	vs, err := st.ListVillages(ctx)
	if err != nil {
		t.Fatalf("list villages: %v", err)
	}
	if len(vs) != 1 || vs[0].HP != 93 {
		t.Fatalf("expected hp 93, got %+v", vs)
	}

	// Next day matches again.
	if ok, _ = st.ApplyVillageDamage(ctx, "Rudania", 200, "2026-03-03"); !ok {
		t.Fatal("next-day damage should match")
	}
	vs, _ = st.ListVillages(ctx)
	if vs[0].HP != 0 {
		t.Fatalf("hp should floor at zero, got %d", vs[0].HP)
	}
}

func TestMarkWeatherPostedOnce(t *testing.T) {
	t.Parallel()

	st := openTempStore(t)
	ctx := context.Background()
	w := Weather{
		ID: "w1", Village: "Inariko", Day: "2026-03-02",
		WindKmh: 120, Precipitation: "Blizzard", GeneratedAt: time.Now(),
	}
	if err := st.InsertWeather(ctx, w); err != nil {
		t.Fatalf("insert weather: %v", err)
	}

	now := time.Now()
	if ok, err := st.MarkWeatherPosted(ctx, "w1", now); err != nil || !ok {
		t.Fatalf("first mark: ok=%v err=%v", ok, err)
	}
	if ok, err := st.MarkWeatherPosted(ctx, "w1", now); err != nil || ok {
		t.Fatalf("second mark should not match: ok=%v err=%v", ok, err)
	}

	got, err := st.WeatherForDay(ctx, "Inariko", "2026-03-02")
	if err != nil {
		t.Fatalf("weather for day: %v", err)
	}
	if got == nil || !got.Posted {
		t.Fatalf("expected posted record, got %+v", got)
	}
}

func TestQuestPostingClaimRace(t *testing.T) {
	t.Parallel()

	st := openTempStore(t)
	ctx := context.Background()
	q := Quest{
		ID: "q1", Village: "Vhintl", Kind: QuestGather, Title: "Gather herbs",
		Day: "2026-03-02", Slot: "08:00", MinParticipants: 2,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	if err := st.InsertQuests(ctx, []Quest{q}); err != nil {
		t.Fatalf("insert quests: %v", err)
	}

	now := time.Now()
	if ok, err := st.ClaimQuestForPosting(ctx, "q1", now); err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if ok, err := st.ClaimQuestForPosting(ctx, "q1", now); err != nil || ok {
		t.Fatalf("second claim should not match: ok=%v err=%v", ok, err)
	}

	if ok, err := st.RecordQuestMessage(ctx, "q1", 42, 1001, false); err != nil || !ok {
		t.Fatalf("record message: ok=%v err=%v", ok, err)
	}
	if ok, err := st.RecordQuestMessage(ctx, "q1", 42, 1002, false); err != nil || ok {
		t.Fatalf("second record should not match: ok=%v err=%v", ok, err)
	}

	unposted, err := st.UnpostedQuests(ctx, "2026-03-02")
	if err != nil {
		t.Fatalf("unposted quests: %v", err)
	}
	if len(unposted) != 0 {
		t.Fatalf("expected no unposted quests, got %d", len(unposted))
	}

	active, err := st.ActiveQuests(ctx)
	if err != nil {
		t.Fatalf("active quests: %v", err)
	}
	if len(active) != 1 || active[0].MessageID != 1001 {
		t.Fatalf("expected one active quest with message 1001, got %+v", active)
	}
}

func TestReleaseQuestClaim(t *testing.T) {
	t.Parallel()

	st := openTempStore(t)
	ctx := context.Background()
	q := Quest{
		ID: "q2", Village: "Inariko", Kind: QuestEscort, Title: "Escort the merchant",
		Day: "2026-03-02", Slot: "11:00", ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	if err := st.InsertQuests(ctx, []Quest{q}); err != nil {
		t.Fatalf("insert quests: %v", err)
	}

	if ok, _ := st.ClaimQuestForPosting(ctx, "q2", time.Now()); !ok {
		t.Fatal("claim should match")
	}
	// Send failed; claim released so the backup check can retry.
	if err := st.ReleaseQuestClaim(ctx, "q2"); err != nil {
		t.Fatalf("release claim: %v", err)
	}
	if ok, _ := st.ClaimQuestForPosting(ctx, "q2", time.Now()); !ok {
		t.Fatal("claim after release should match")
	}
}

func TestReleaseStaleQuestClaims(t *testing.T) {
	t.Parallel()

	st := openTempStore(t)
	ctx := context.Background()
	now := time.Now()
	quests := []Quest{
		{ID: "q3", Village: "Rudania", Kind: QuestGather, Title: "Gather wood",
			Day: "2026-03-02", Slot: "08:00", ExpiresAt: now.Add(24 * time.Hour)},
		{ID: "q4", Village: "Inariko", Kind: QuestGather, Title: "Gather fish",
			Day: "2026-03-02", Slot: "11:00", ExpiresAt: now.Add(24 * time.Hour)},
	}
	if err := st.InsertQuests(ctx, quests); err != nil {
		t.Fatalf("insert quests: %v", err)
	}

	// q3's claim is an orphan from a dead process; q4's is fresh.
	if ok, _ := st.ClaimQuestForPosting(ctx, "q3", now.Add(-time.Hour)); !ok {
		t.Fatal("q3 claim should match")
	}
	if ok, _ := st.ClaimQuestForPosting(ctx, "q4", now); !ok {
		t.Fatal("q4 claim should match")
	}

	n, err := st.ReleaseStaleQuestClaims(ctx, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("release stale claims: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one stale claim released, got %d", n)
	}

	// The orphan is postable again; the fresh claim is untouched.
	unposted, err := st.UnpostedQuests(ctx, "2026-03-02")
	if err != nil {
		t.Fatalf("unposted quests: %v", err)
	}
	if len(unposted) != 1 || unposted[0].ID != "q3" {
		t.Fatalf("expected only q3 unposted, got %+v", unposted)
	}
	if ok, _ := st.ClaimQuestForPosting(ctx, "q3", now); !ok {
		t.Fatal("q3 must be claimable after the stale release")
	}

	// A claim with a recorded message is never released.
	if ok, _ := st.RecordQuestMessage(ctx, "q4", 42, 2001, false); !ok {
		t.Fatal("record q4 message should match")
	}
	if n, _ := st.ReleaseStaleQuestClaims(ctx, now.Add(time.Hour)); n != 0 {
		t.Fatalf("posted quest released as stale, n=%d", n)
	}
}

func TestReplaceQuestParamsOnlyBeforePosting(t *testing.T) {
	t.Parallel()

	st := openTempStore(t)
	ctx := context.Background()
	now := time.Now()
	q := Quest{
		ID: "q5", Village: "Vhintl", Kind: QuestEscort, Title: "Escort the merchant",
		Day: "2026-03-02", Slot: "14:00", ExpiresAt: now.Add(24 * time.Hour),
	}
	if err := st.InsertQuests(ctx, []Quest{q}); err != nil {
		t.Fatalf("insert quests: %v", err)
	}

	ok, err := st.ReplaceQuestParams(ctx, "q5", QuestGather, "Gather herbs", "", now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("replace unposted: %v", err)
	}
	if !ok {
		t.Fatal("replace should match while unposted")
	}

	if ok, _ := st.ClaimQuestForPosting(ctx, "q5", now); !ok {
		t.Fatal("claim should match")
	}
	if ok, _ := st.RecordQuestMessage(ctx, "q5", 42, 3001, false); !ok {
		t.Fatal("record message should match")
	}

	// Once the message is out the stored content must stand as sent.
	ok, err = st.ReplaceQuestParams(ctx, "q5", QuestCrafting, "Craft arms", "", now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("replace posted: %v", err)
	}
	if ok {
		t.Fatal("replace must not match a posted quest")
	}
	active, err := st.ActiveQuests(ctx)
	if err != nil {
		t.Fatalf("active quests: %v", err)
	}
	if len(active) != 1 || active[0].Title != "Gather herbs" {
		t.Fatalf("posted quest content changed: %+v", active)
	}
}

func TestFailRaidTerminal(t *testing.T) {
	t.Parallel()

	st := openTempStore(t)
	ctx := context.Background()
	past := toMillis(time.Now().Add(-time.Hour))
	if _, err := st.db.Exec(
		`INSERT INTO raids(id, village, monster, status, channel_id, thread_id, expires_at)
		 VALUES('r1', 'Rudania', 'Hinox', 'active', 7, 0, ?)`, past); err != nil {
		t.Fatalf("seed raid: %v", err)
	}
	if _, err := st.db.Exec(
		`INSERT INTO raid_participants(raid_id, character_id, name) VALUES('r1', 10, 'Link'), ('r1', 11, 'Zelda')`); err != nil {
		t.Fatalf("seed participants: %v", err)
	}

	due, err := st.DueRaids(ctx, time.Now())
	if err != nil {
		t.Fatalf("due raids: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected one due raid, got %d", len(due))
	}

	if ok, err := st.FailRaid(ctx, "r1"); err != nil || !ok {
		t.Fatalf("first fail: ok=%v err=%v", ok, err)
	}
	if ok, err := st.FailRaid(ctx, "r1"); err != nil || ok {
		t.Fatalf("second fail should not match: ok=%v err=%v", ok, err)
	}

	if n, err := st.DefeatRaidParticipants(ctx, "r1"); err != nil || n != 2 {
		t.Fatalf("defeat participants: n=%d err=%v", n, err)
	}

	due, _ = st.DueRaids(ctx, time.Now())
	if len(due) != 0 {
		t.Fatal("failed raid must not appear as due again")
	}
}

func TestCharacterSweeps(t *testing.T) {
	t.Parallel()

	st := openTempStore(t)
	ctx := context.Background()
	now := time.Now()
	past := toMillis(now.Add(-time.Minute))
	future := toMillis(now.Add(time.Hour))

	if _, err := st.db.Exec(
		`INSERT INTO characters(id, name, village, jailed, jail_release_at, buff_label, buff_ends_at, daily_rolls)
		 VALUES(1, 'Tetra', 'Inariko', 1, ?, 'Mighty', ?, 3),
		       (2, 'Groose', 'Rudania', 1, ?, '', NULL, 1)`,
		past, past, future); err != nil {
		t.Fatalf("seed characters: %v", err)
	}

	due, err := st.DueJailed(ctx, now)
	if err != nil {
		t.Fatalf("due jailed: %v", err)
	}
	if len(due) != 1 || due[0].ID != 1 {
		t.Fatalf("expected character 1 due, got %+v", due)
	}

	if ok, err := st.ReleaseJail(ctx, 1); err != nil || !ok {
		t.Fatalf("release: ok=%v err=%v", ok, err)
	}
	if ok, _ := st.ReleaseJail(ctx, 1); ok {
		t.Fatal("second release should not match")
	}

	if n, err := st.ExpireBuffs(ctx, now); err != nil || n != 1 {
		t.Fatalf("expire buffs: n=%d err=%v", n, err)
	}
	if n, err := st.ResetDailyRolls(ctx); err != nil || n != 2 {
		t.Fatalf("reset rolls: n=%d err=%v", n, err)
	}
}

func TestMarkEventAnnouncedOncePerDay(t *testing.T) {
	t.Parallel()

	st := openTempStore(t)
	ctx := context.Background()
	now := time.Now()

	if ok, err := st.MarkEventAnnounced(ctx, "blood-moon", "2026-03-02", now); err != nil || !ok {
		t.Fatalf("first mark: ok=%v err=%v", ok, err)
	}
	if ok, err := st.MarkEventAnnounced(ctx, "blood-moon", "2026-03-02", now); err != nil || ok {
		t.Fatalf("second mark should not match: ok=%v err=%v", ok, err)
	}
	// A different day or event is independent.
	if ok, err := st.MarkEventAnnounced(ctx, "blood-moon", "2026-03-03", now); err != nil || !ok {
		t.Fatalf("next day mark: ok=%v err=%v", ok, err)
	}
	if ok, err := st.MarkEventAnnounced(ctx, "eclipse", "2026-03-02", now); err != nil || !ok {
		t.Fatalf("other event mark: ok=%v err=%v", ok, err)
	}
}
