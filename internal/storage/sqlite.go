package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "tinglebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite store and applies embedded migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// matched reports whether a conditional write took effect.
func matched(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---- Villages ----

func (s *sqliteStore) ListVillages(ctx context.Context) ([]Village, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, hp, max_hp, COALESCE(last_damage_day, '') FROM villages ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Village
	for rows.Next() {
		var v Village
		if err := rows.Scan(&v.Name, &v.HP, &v.MaxHP, &v.LastDamageDay); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ApplyVillageDamage(ctx context.Context, name string, hp int, day string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE villages
		 SET hp = MAX(hp - ?, 0), last_damage_day = ?
		 WHERE name = ? AND (last_damage_day IS NULL OR last_damage_day <> ?)`,
		hp, day, name, day)
	if err != nil {
		return false, err
	}
	return matched(res)
}

// ---- Weather ----

func (s *sqliteStore) WeatherForDay(ctx context.Context, village, day string) (*Weather, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, village, day, wind_kmh, special_wind_kmh, precipitation, special, generated_at, posted, COALESCE(posted_at, 0)
		 FROM weather WHERE village = ? AND day = ?`, village, day)

	var w Weather
	var genMS, postedMS int64
	err := row.Scan(&w.ID, &w.Village, &w.Day, &w.WindKmh, &w.SpecialWindKmh, &w.Precipitation, &w.Special, &genMS, &w.Posted, &postedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	w.GeneratedAt = fromMillis(genMS)
	if postedMS > 0 {
		w.PostedAt = fromMillis(postedMS)
	}
	return &w, nil
}

func (s *sqliteStore) InsertWeather(ctx context.Context, w Weather) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO weather(id, village, day, wind_kmh, special_wind_kmh, precipitation, special, generated_at, posted)
		 VALUES(?,?,?,?,?,?,?,?,0)`,
		w.ID, w.Village, w.Day, w.WindKmh, w.SpecialWindKmh, w.Precipitation, w.Special, toMillis(w.GeneratedAt))
	return err
}

func (s *sqliteStore) MarkWeatherPosted(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE weather SET posted = 1, posted_at = ? WHERE id = ? AND posted = 0`,
		toMillis(at), id)
	if err != nil {
		return false, err
	}
	return matched(res)
}

// ---- Quests ----

const questCols = `id, village, kind, title, description, day, slot, status,
	COALESCE(channel_id, 0), COALESCE(message_id, 0), posted_late,
	participants, min_participants, expires_at, rewarded`

func scanQuest(rows interface{ Scan(...any) error }) (Quest, error) {
	var q Quest
	var kind, status string
	var expMS int64
	err := rows.Scan(&q.ID, &q.Village, &kind, &q.Title, &q.Description, &q.Day, &q.Slot, &status,
		&q.ChannelID, &q.MessageID, &q.PostedLate,
		&q.Participants, &q.MinParticipants, &expMS, &q.Rewarded)
	if err != nil {
		return Quest{}, err
	}
	q.Kind = QuestKind(kind)
	q.Status = QuestStatus(status)
	q.ExpiresAt = fromMillis(expMS)
	return q, nil
}

func (s *sqliteStore) CountQuestsForDay(ctx context.Context, day string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quests WHERE day = ?`, day).Scan(&n)
	return n, err
}

func (s *sqliteStore) InsertQuests(ctx context.Context, quests []Quest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range quests {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO quests(id, village, kind, title, description, day, slot, status, min_participants, expires_at)
			 VALUES(?,?,?,?,?,?,?,?,?,?)`,
			q.ID, q.Village, string(q.Kind), q.Title, q.Description, q.Day, q.Slot,
			string(QuestUnposted), q.MinParticipants, toMillis(q.ExpiresAt)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) UnpostedQuests(ctx context.Context, day string) ([]Quest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+questCols+` FROM quests
		 WHERE day = ? AND message_id IS NULL AND status = ?
		 ORDER BY slot, village`, day, string(QuestUnposted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Quest
	for rows.Next() {
		q, err := scanQuest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ClaimQuestForPosting(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quests SET status = ?, claimed_at = ?
		 WHERE id = ? AND status = ? AND message_id IS NULL`,
		string(QuestPosting), toMillis(at), id, string(QuestUnposted))
	if err != nil {
		return false, err
	}
	return matched(res)
}

func (s *sqliteStore) RecordQuestMessage(ctx context.Context, id string, channelID int64, messageID int, late bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quests
		 SET channel_id = ?, message_id = ?, posted_late = ?, status = ?
		 WHERE id = ? AND message_id IS NULL`,
		channelID, messageID, late, string(QuestActive), id)
	if err != nil {
		return false, err
	}
	return matched(res)
}

func (s *sqliteStore) ReleaseQuestClaim(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE quests SET status = ?, claimed_at = NULL
		 WHERE id = ? AND status = ? AND message_id IS NULL`,
		string(QuestUnposted), id, string(QuestPosting))
	return err
}

func (s *sqliteStore) ReleaseStaleQuestClaims(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quests SET status = ?, claimed_at = NULL
		 WHERE status = ? AND message_id IS NULL AND claimed_at < ?`,
		string(QuestUnposted), string(QuestPosting), toMillis(before))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) ReplaceQuestParams(ctx context.Context, id string, kind QuestKind, title, description string, expiresAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quests SET kind = ?, title = ?, description = ?, expires_at = ?
		 WHERE id = ? AND status = ? AND message_id IS NULL`,
		string(kind), title, description, toMillis(expiresAt), id, string(QuestUnposted))
	if err != nil {
		return false, err
	}
	return matched(res)
}

func (s *sqliteStore) ActiveQuests(ctx context.Context) ([]Quest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+questCols+` FROM quests WHERE status = ? ORDER BY day, slot`, string(QuestActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Quest
	for rows.Next() {
		q, err := scanQuest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetQuestStatus(ctx context.Context, id string, from, to QuestStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quests SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return false, err
	}
	return matched(res)
}

func (s *sqliteStore) MarkQuestRewarded(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quests SET rewarded = 1 WHERE id = ? AND rewarded = 0`, id)
	if err != nil {
		return false, err
	}
	return matched(res)
}

// ---- Raids ----

func (s *sqliteStore) DueRaids(ctx context.Context, now time.Time) ([]Raid, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, village, monster, status, channel_id, thread_id, expires_at
		 FROM raids WHERE status = ? AND expires_at <= ?`,
		string(RaidActive), toMillis(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Raid
	for rows.Next() {
		var r Raid
		var status string
		var expMS int64
		if err := rows.Scan(&r.ID, &r.Village, &r.Monster, &status, &r.ChannelID, &r.ThreadID, &expMS); err != nil {
			return nil, err
		}
		r.Status = RaidStatus(status)
		r.ExpiresAt = fromMillis(expMS)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) FailRaid(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raids SET status = ? WHERE id = ? AND status = ?`,
		string(RaidFailed), id, string(RaidActive))
	if err != nil {
		return false, err
	}
	return matched(res)
}

func (s *sqliteStore) DefeatRaidParticipants(ctx context.Context, raidID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raid_participants SET defeated = 1 WHERE raid_id = ? AND defeated = 0`, raidID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) RaidParticipants(ctx context.Context, raidID string) ([]RaidParticipant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT raid_id, character_id, name, defeated FROM raid_participants WHERE raid_id = ?`, raidID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RaidParticipant
	for rows.Next() {
		var p RaidParticipant
		if err := rows.Scan(&p.RaidID, &p.CharacterID, &p.Name, &p.Defeated); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ---- Characters ----

const characterCols = `id, name, village, birth_month, birth_day,
	jailed, COALESCE(jail_release_at, 0),
	buff_label, COALESCE(buff_ends_at, 0),
	debuff_label, COALESCE(debuff_ends_at, 0),
	blighted, blight_stage, COALESCE(blight_next_at, 0),
	boosted_by, COALESCE(boost_ends_at, 0), daily_rolls`

func scanCharacter(rows interface{ Scan(...any) error }) (Character, error) {
	var c Character
	var jailMS, buffMS, debuffMS, blightMS, boostMS int64
	err := rows.Scan(&c.ID, &c.Name, &c.Village, &c.BirthMonth, &c.BirthDay,
		&c.Jailed, &jailMS,
		&c.BuffLabel, &buffMS,
		&c.DebuffLabel, &debuffMS,
		&c.Blighted, &c.BlightStage, &blightMS,
		&c.BoostedBy, &boostMS, &c.DailyRolls)
	if err != nil {
		return Character{}, err
	}
	if jailMS > 0 {
		c.JailReleaseAt = fromMillis(jailMS)
	}
	if buffMS > 0 {
		c.BuffEndsAt = fromMillis(buffMS)
	}
	if debuffMS > 0 {
		c.DebuffEndsAt = fromMillis(debuffMS)
	}
	if blightMS > 0 {
		c.BlightNextAt = fromMillis(blightMS)
	}
	if boostMS > 0 {
		c.BoostEndsAt = fromMillis(boostMS)
	}
	return c, nil
}

func (s *sqliteStore) queryCharacters(ctx context.Context, where string, args ...any) ([]Character, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+characterCols+` FROM characters WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DueJailed(ctx context.Context, now time.Time) ([]Character, error) {
	return s.queryCharacters(ctx, `jailed = 1 AND jail_release_at <= ?`, toMillis(now))
}

func (s *sqliteStore) ReleaseJail(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE characters SET jailed = 0, jail_release_at = NULL WHERE id = ? AND jailed = 1`, id)
	if err != nil {
		return false, err
	}
	return matched(res)
}

func (s *sqliteStore) ExpireBuffs(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE characters SET buff_label = '', buff_ends_at = NULL
		 WHERE buff_label <> '' AND buff_ends_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) ExpireDebuffs(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE characters SET debuff_label = '', debuff_ends_at = NULL
		 WHERE debuff_label <> '' AND debuff_ends_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) ExpireBoosts(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE characters SET boosted_by = '', boost_ends_at = NULL
		 WHERE boosted_by <> '' AND boost_ends_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) BirthdayCharacters(ctx context.Context, month, day int) ([]Character, error) {
	return s.queryCharacters(ctx, `birth_month = ? AND birth_day = ?`, month, day)
}

func (s *sqliteStore) DueBlight(ctx context.Context, now time.Time) ([]Character, error) {
	return s.queryCharacters(ctx, `blighted = 1 AND blight_next_at <= ?`, toMillis(now))
}

func (s *sqliteStore) AdvanceBlightStage(ctx context.Context, id int64, fromStage int, nextAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE characters SET blight_stage = blight_stage + 1, blight_next_at = ?
		 WHERE id = ? AND blighted = 1 AND blight_stage = ?`,
		toMillis(nextAt), id, fromStage)
	if err != nil {
		return false, err
	}
	return matched(res)
}

func (s *sqliteStore) ResetDailyRolls(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE characters SET daily_rolls = 0 WHERE daily_rolls <> 0`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ---- World events ----

func (s *sqliteStore) MarkEventAnnounced(ctx context.Context, name, day string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO world_events (name, day, announced_at) VALUES (?, ?, ?)
		 ON CONFLICT (name, day) DO NOTHING`,
		name, day, toMillis(at))
	if err != nil {
		return false, err
	}
	return matched(res)
}
