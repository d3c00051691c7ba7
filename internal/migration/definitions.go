package migration

import (
	"context"
	"fmt"

	"github.com/noah-isme/mayegue-core/internal/store"
)

// Definitions returns the built-in schema history. New entries are appended
// with a higher version; existing entries are never edited once released.
func Definitions() []Migration {
	return []Migration{
		{Version: "001", Description: "initial schema", Up: statements(initialSchema...), Down: dropTables("app_settings", "admin_logs", "teacher_content", "user_achievements", "achievements", "progress", "users")},
		{Version: "002", Description: "guest daily usage", Up: statements(guestUsageSchema), Down: dropTables("guest_daily_usage")},
		{Version: "003", Description: "offline write queue", Up: statements(offlineQueueSchema), Down: dropTables("offline_queue")},
		{Version: "004", Description: "contact messages and newsletter", Up: statements(contactSchema...), Down: dropTables("newsletter_subscriptions", "contact_messages")},
		{Version: "005", Description: "analytics events", Up: statements(analyticsSchema), Down: dropTables("analytics_events")},
		{Version: "006", Description: "user gamification counters", Up: addColumns("users", gamificationColumns)},
		{Version: "007", Description: "seed achievement catalog", Up: seedAchievements, Down: unseedAchievements},
		{Version: "008", Description: "lookup indexes", Up: statements(indexes...), Down: dropIndexes},
	}
}

var initialSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		remote_id TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'student' CHECK (role IN ('student', 'teacher', 'admin')),
		is_active INTEGER NOT NULL DEFAULT 1,
		email_verified INTEGER NOT NULL DEFAULT 0,
		last_login_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS achievements (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		icon TEXT NOT NULL DEFAULT '',
		xp_reward INTEGER NOT NULL DEFAULT 0,
		coin_reward INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS progress (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		content_type TEXT NOT NULL,
		content_id TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('not_started', 'in_progress', 'completed')),
		score REAL,
		time_spent INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		last_accessed_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, content_type, content_id)
	)`,
	`CREATE TABLE IF NOT EXISTS user_achievements (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		achievement_id TEXT NOT NULL REFERENCES achievements(id) ON DELETE CASCADE,
		earned_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, achievement_id)
	)`,
	`CREATE TABLE IF NOT EXISTS teacher_content (
		id TEXT PRIMARY KEY,
		author_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		content_type TEXT NOT NULL CHECK (content_type IN ('lesson', 'quiz', 'translation')),
		content_id TEXT NOT NULL,
		title TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'pending_review', 'approved', 'rejected')),
		reviewer_id TEXT REFERENCES users(id) ON DELETE SET NULL,
		review_notes TEXT,
		reviewed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (content_type, content_id)
	)`,
	`CREATE TABLE IF NOT EXISTS admin_logs (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS app_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('string', 'boolean', 'integer')),
		description TEXT,
		updated_by TEXT,
		updated_at TIMESTAMP NOT NULL
	)`,
}

const guestUsageSchema = `CREATE TABLE IF NOT EXISTS guest_daily_usage (
	usage_date TEXT NOT NULL,
	content_type TEXT NOT NULL,
	used INTEGER NOT NULL DEFAULT 0,
	max_allowed INTEGER NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (usage_date, content_type)
)`

const offlineQueueSchema = `CREATE TABLE IF NOT EXISTS offline_queue (
	id TEXT PRIMARY KEY,
	action_type TEXT NOT NULL,
	collection TEXT NOT NULL,
	operation TEXT NOT NULL CHECK (operation IN ('create', 'update', 'delete')),
	document_id TEXT,
	payload TEXT NOT NULL DEFAULT '{}',
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL,
	last_error TEXT,
	remote_id TEXT,
	created_at TIMESTAMP NOT NULL,
	last_attempt_at TIMESTAMP,
	processed_at TIMESTAMP
)`

var contactSchema = []string{
	`CREATE TABLE IF NOT EXISTS contact_messages (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		subject TEXT NOT NULL,
		message TEXT NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS newsletter_subscriptions (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		is_active INTEGER NOT NULL DEFAULT 1,
		subscribed_at TIMESTAMP NOT NULL,
		unsubscribed_at TIMESTAMP
	)`,
}

const analyticsSchema = `CREATE TABLE IF NOT EXISTS analytics_events (
	id TEXT PRIMARY KEY,
	user_id TEXT REFERENCES users(id) ON DELETE SET NULL,
	event_name TEXT NOT NULL,
	properties TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL
)`

// column is an additive change applied through AddColumn.
type column struct {
	name       string
	definition string
}

var gamificationColumns = []column{
	{name: "coins", definition: "INTEGER NOT NULL DEFAULT 0"},
	{name: "streak_days", definition: "INTEGER NOT NULL DEFAULT 0"},
	{name: "longest_streak", definition: "INTEGER NOT NULL DEFAULT 0"},
	{name: "xp", definition: "INTEGER NOT NULL DEFAULT 0"},
	{name: "level", definition: "INTEGER NOT NULL DEFAULT 1"},
	{name: "last_activity_date", definition: "TEXT"},
}

type seedAchievement struct {
	code        string
	name        string
	description string
	icon        string
	xp          int
	coins       int
}

// achievementCatalog codes are referenced by the progress ledger's rules.
var achievementCatalog = []seedAchievement{
	{code: "first_lesson", name: "First Steps", description: "Complete your first lesson", icon: "book", xp: 20, coins: 5},
	{code: "first_quiz", name: "Quiz Taker", description: "Complete your first quiz", icon: "check", xp: 20, coins: 5},
	{code: "streak_3", name: "On a Roll", description: "Study three days in a row", icon: "flame", xp: 30, coins: 10},
	{code: "streak_7", name: "Week Warrior", description: "Study seven days in a row", icon: "calendar", xp: 70, coins: 25},
	{code: "xp_500", name: "Rising Scholar", description: "Earn 500 experience points", icon: "star", xp: 50, coins: 20},
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
	`CREATE INDEX IF NOT EXISTS idx_progress_user ON progress(user_id, updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_user_achievements_user ON user_achievements(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_teacher_content_status ON teacher_content(status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_admin_logs_created ON admin_logs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_offline_queue_pending ON offline_queue(processed_at, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_analytics_events_name ON analytics_events(event_name, created_at)`,
}

func statements(stmts ...string) Func {
	return func(ctx context.Context, exec store.Executor) error {
		for _, stmt := range stmts {
			if _, err := exec.Execute(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

func dropTables(tables ...string) Func {
	return func(ctx context.Context, exec store.Executor) error {
		for _, table := range tables {
			if _, err := exec.Execute(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
				return err
			}
		}
		return nil
	}
}

func addColumns(table string, columns []column) Func {
	return func(ctx context.Context, exec store.Executor) error {
		for _, col := range columns {
			if _, err := exec.AddColumn(ctx, table, col.name, col.definition); err != nil {
				return err
			}
		}
		return nil
	}
}

func seedAchievements(ctx context.Context, exec store.Executor) error {
	const insert = `INSERT OR IGNORE INTO achievements (id, code, name, description, icon, xp_reward, coin_reward, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`
	for _, a := range achievementCatalog {
		if _, err := exec.Execute(ctx, insert, "ach_"+a.code, a.code, a.name, a.description, a.icon, a.xp, a.coins); err != nil {
			return fmt.Errorf("seed achievement %s: %w", a.code, err)
		}
	}
	return nil
}

func unseedAchievements(ctx context.Context, exec store.Executor) error {
	for _, a := range achievementCatalog {
		if _, err := exec.Execute(ctx, `DELETE FROM achievements WHERE code = ?`, a.code); err != nil {
			return err
		}
	}
	return nil
}

func dropIndexes(ctx context.Context, exec store.Executor) error {
	for _, name := range []string{"idx_users_email", "idx_progress_user", "idx_user_achievements_user", "idx_teacher_content_status", "idx_admin_logs_created", "idx_offline_queue_pending", "idx_analytics_events_name"} {
		if _, err := exec.Execute(ctx, fmt.Sprintf("DROP INDEX IF EXISTS %s", name)); err != nil {
			return err
		}
	}
	return nil
}
