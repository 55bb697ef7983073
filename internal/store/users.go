package store

import (
	"context"
	"fmt"
	"regexp"

	"github.com/recio/trading-core/internal/domain"
)

// validUser matches the identifier charset allowed in a per-user table
// suffix. User ids originate from users/<user_id>/ directory names (spec
// §6), never from untrusted request bodies, but every table name built from
// one is still validated here before being interpolated into DDL/DML.
var validUser = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

func safeUser(user string) (string, error) {
	if !validUser.MatchString(user) {
		return "", &domain.ConfigError{Component: "store", Message: fmt.Sprintf("invalid user identifier %q", user)}
	}
	return user, nil
}

// EnsureUserSchema creates the eight per-user tables (trades, active_trades,
// trade_preferences, and the positions, fills, orders, settlements and
// balance account mirrors) if they do not already exist. Called once at
// user onboarding and idempotently at boot for every configured user.
func (db *DB) EnsureUserSchema(ctx context.Context, user string) error {
	u, err := safeUser(user)
	if err != nil {
		return err
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users.trades_%s (
			id            BIGSERIAL PRIMARY KEY,
			ticket_id     TEXT NOT NULL UNIQUE,
			symbol        TEXT NOT NULL,
			side          TEXT NOT NULL,
			strike        DOUBLE PRECISION NOT NULL,
			contract      TEXT NOT NULL,
			buy_price     DOUBLE PRECISION NOT NULL,
			position      INTEGER NOT NULL,
			fees          DOUBLE PRECISION NOT NULL DEFAULT 0,
			prob          DOUBLE PRECISION NOT NULL,
			diff          DOUBLE PRECISION NOT NULL,
			momentum      DOUBLE PRECISION NOT NULL DEFAULT 0,
			symbol_open   DOUBLE PRECISION NOT NULL,
			status        TEXT NOT NULL,
			entry_method  TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, u),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users.active_trades_%s (
			trade_id               BIGINT PRIMARY KEY,
			current_symbol_price   DOUBLE PRECISION NOT NULL DEFAULT 0,
			current_close_price    DOUBLE PRECISION NOT NULL DEFAULT 0,
			buffer_from_strike     DOUBLE PRECISION NOT NULL DEFAULT 0,
			time_since_entry_seconds       DOUBLE PRECISION NOT NULL DEFAULT 0,
			ttc_seconds            DOUBLE PRECISION NOT NULL DEFAULT 0,
			current_probability    DOUBLE PRECISION NOT NULL DEFAULT 0,
			current_pnl            DOUBLE PRECISION NOT NULL DEFAULT 0,
			degraded               BOOLEAN NOT NULL DEFAULT false,
			last_updated           TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, u),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users.trade_preferences_%s (
			user_id                         TEXT PRIMARY KEY,
			auto_entry                      BOOLEAN NOT NULL DEFAULT false,
			auto_stop                       BOOLEAN NOT NULL DEFAULT true,
			position_size                   INTEGER NOT NULL DEFAULT 1,
			multiplier                      INTEGER NOT NULL DEFAULT 1,
			min_probability                 DOUBLE PRECISION NOT NULL DEFAULT 0,
			min_differential                DOUBLE PRECISION NOT NULL DEFAULT 0,
			min_time_seconds                DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_time_seconds                DOUBLE PRECISION NOT NULL DEFAULT 0,
			min_ttc_seconds                 DOUBLE PRECISION NOT NULL DEFAULT 60,
			allow_re_entry                  BOOLEAN NOT NULL DEFAULT false,
			min_current_probability         DOUBLE PRECISION NOT NULL DEFAULT 40,
			spike_alert_momentum_threshold  DOUBLE PRECISION NOT NULL DEFAULT 0,
			spike_alert_cooldown_threshold  DOUBLE PRECISION NOT NULL DEFAULT 0,
			spike_alert_cooldown_minutes    DOUBLE PRECISION NOT NULL DEFAULT 0,
			watchlist_min_volume            BIGINT NOT NULL DEFAULT 0,
			watchlist_max_ask               DOUBLE PRECISION NOT NULL DEFAULT 0,
			momentum_spike_threshold        DOUBLE PRECISION NOT NULL DEFAULT 0,
			momentum_spike_enabled          BOOLEAN NOT NULL DEFAULT false
		)`, u),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users.positions_%s (
			market_id TEXT PRIMARY KEY,
			side      TEXT NOT NULL,
			quantity  INTEGER NOT NULL,
			avg_price DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, u),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users.fills_%s (
			trade_id   TEXT PRIMARY KEY,
			order_id   TEXT NOT NULL,
			market_id  TEXT NOT NULL,
			side       TEXT NOT NULL,
			price      DOUBLE PRECISION NOT NULL,
			quantity   INTEGER NOT NULL,
			filled_at  TIMESTAMPTZ NOT NULL
		)`, u),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users.orders_%s (
			order_id   TEXT PRIMARY KEY,
			market_id  TEXT NOT NULL,
			side       TEXT NOT NULL,
			status     TEXT NOT NULL,
			price      DOUBLE PRECISION NOT NULL,
			quantity   INTEGER NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, u),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users.settlements_%s (
			market_id   TEXT PRIMARY KEY,
			result      TEXT NOT NULL,
			revenue     DOUBLE PRECISION NOT NULL,
			settled_at  TIMESTAMPTZ NOT NULL
		)`, u),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users.balance_%s (
			user_id    TEXT PRIMARY KEY,
			currency   TEXT NOT NULL DEFAULT 'USD',
			amount     DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, u),
	}

	for _, stmt := range stmts {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return &domain.ConfigError{Component: "store", Message: "failed to ensure user schema for " + u, Err: err}
		}
	}

	return nil
}
