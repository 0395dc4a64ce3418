package infra

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase establishes a GORM connection backed by pgx and applies the
// idempotent schema patches. TranslateError is on so unique violations surface
// as gorm.ErrDuplicatedKey.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	// ⚠️ GORM AutoMigrate stays disabled: partial unique indexes and the notify
	// triggers are not expressible as struct tags, so the schema lives below.
	if err := applySchemaPatches(db); err != nil {
		return nil, fmt.Errorf("schema patches: %w", err)
	}

	return db, nil
}

// applySchemaPatches runs idempotent DDL. Each statement uses IF NOT EXISTS /
// OR REPLACE semantics so re-running on an already-patched DB is safe.
func applySchemaPatches(db *gorm.DB) error {
	patches := []struct{ descr, sql string }{
		{"users", `
CREATE TABLE IF NOT EXISTS users (
  id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  business_id   UUID        NOT NULL,
  username      TEXT        NOT NULL UNIQUE,
  display_name  TEXT        NOT NULL,
  password_hash TEXT        NOT NULL,
  role          VARCHAR(20) NOT NULL,
  active        BOOLEAN     NOT NULL DEFAULT TRUE,
  created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`},
		{"registers", `
CREATE TABLE IF NOT EXISTS registers (
  id               UUID PRIMARY KEY,
  business_id      UUID        NOT NULL,
  name             TEXT        NOT NULL,
  location         TEXT        NOT NULL DEFAULT '',
  admin_status     VARCHAR(20) NOT NULL DEFAULT 'active',
  claim_user_id    UUID,
  claim_session_id UUID,
  claimed_at       TIMESTAMPTZ,
  last_activity    TIMESTAMPTZ NOT NULL,
  version          BIGINT      NOT NULL DEFAULT 1,
  created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  CONSTRAINT registers_claim_pair CHECK ((claim_user_id IS NULL) = (claim_session_id IS NULL))
)`},
		{"register_sessions", `
CREATE TABLE IF NOT EXISTS register_sessions (
  id                 UUID PRIMARY KEY,
  register_id        UUID          NOT NULL,
  business_id        UUID          NOT NULL,
  user_id            UUID          NOT NULL,
  user_display_name  TEXT          NOT NULL,
  start_time         TIMESTAMPTZ   NOT NULL,
  end_time           TIMESTAMPTZ,
  starting_amount    DECIMAL(12,2) NOT NULL,
  ending_amount      DECIMAL(12,2),
  total_sales        DECIMAL(12,2) NOT NULL DEFAULT 0,
  total_transactions INT           NOT NULL DEFAULT 0,
  status             VARCHAR(20)   NOT NULL DEFAULT 'active',
  version            BIGINT        NOT NULL DEFAULT 1
)`},
		{"idx_registers_business",
			`CREATE INDEX IF NOT EXISTS idx_registers_business ON registers (business_id, name)`},
		{"idx_sessions_business_start",
			`CREATE INDEX IF NOT EXISTS idx_sessions_business_start ON register_sessions (business_id, start_time DESC)`},
		// At most one active session per register and per user.
		{"ux_sessions_active_register",
			`CREATE UNIQUE INDEX IF NOT EXISTS ux_sessions_active_register ON register_sessions (register_id) WHERE status = 'active'`},
		{"ux_sessions_active_user",
			`CREATE UNIQUE INDEX IF NOT EXISTS ux_sessions_active_user ON register_sessions (user_id) WHERE status = 'active'`},
		{"notify function", `
CREATE OR REPLACE FUNCTION registerhub_notify_change() RETURNS trigger AS $$
DECLARE
  rec RECORD;
BEGIN
  IF TG_OP = 'DELETE' THEN
    rec := OLD;
  ELSE
    rec := NEW;
  END IF;
  PERFORM pg_notify('registerhub_changes', json_build_object(
    'table', TG_TABLE_NAME,
    'op', TG_OP,
    'id', rec.id,
    'business_id', rec.business_id,
    'version', rec.version)::text);
  RETURN NULL;
END
$$ LANGUAGE plpgsql`},
		{"registers notify trigger", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'registers_notify_change') THEN
    CREATE TRIGGER registers_notify_change
      AFTER INSERT OR UPDATE OR DELETE ON registers
      FOR EACH ROW EXECUTE FUNCTION registerhub_notify_change();
  END IF;
END $$`},
		{"register_sessions notify trigger", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'register_sessions_notify_change') THEN
    CREATE TRIGGER register_sessions_notify_change
      AFTER INSERT OR UPDATE OR DELETE ON register_sessions
      FOR EACH ROW EXECUTE FUNCTION registerhub_notify_change();
  END IF;
END $$`},
	}

	for _, p := range patches {
		if err := db.Exec(p.sql).Error; err != nil {
			return fmt.Errorf("patch %q: %w", p.descr, err)
		}
	}
	return nil
}

// RunMigrations applies the schema patches; integration tests call it on a
// connection opened outside NewDatabase.
func RunMigrations(db *gorm.DB) error {
	return applySchemaPatches(db)
}
