package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/recio/trading-core/internal/domain"
	"github.com/recio/trading-core/internal/notify"
)

// PreferencesRepo is the typed accessor for trade_preferences_<user>,
// mutated by the UI and read by ATS and the Auto-Entry Engine (spec §3).
type PreferencesRepo struct {
	db   *DB
	bus  *notify.Bus
	user string
}

func (db *DB) Preferences(user string, bus *notify.Bus) (*PreferencesRepo, error) {
	u, err := safeUser(user)
	if err != nil {
		return nil, err
	}
	return &PreferencesRepo{db: db, bus: bus, user: u}, nil
}

// Get loads the user's preferences, falling back to DefaultPreferences when
// no row exists yet rather than erroring (preferences are optional until the
// user first edits them in the UI).
func (r *PreferencesRepo) Get(ctx context.Context) (domain.Preferences, error) {
	query := fmt.Sprintf(`SELECT user_id, auto_entry, auto_stop, position_size, multiplier,
		min_probability, min_differential, min_time_seconds, max_time_seconds, min_ttc_seconds,
		allow_re_entry, min_current_probability, spike_alert_momentum_threshold,
		spike_alert_cooldown_threshold, spike_alert_cooldown_minutes, watchlist_min_volume,
		watchlist_max_ask, momentum_spike_threshold, momentum_spike_enabled
		FROM users.trade_preferences_%s WHERE user_id = $1`, r.user)

	var p domain.Preferences
	err := r.db.conn.GetContext(ctx, &p, query, r.user)
	if err == sql.ErrNoRows {
		return domain.DefaultPreferences(r.user), nil
	}
	if err != nil {
		return domain.Preferences{}, &domain.TransientError{Component: "store.preferences", Message: "get failed", Err: err}
	}
	return p, nil
}

// Upsert writes the user's preferences, emitting db_change so ATS and the
// Auto-Entry Engine pick up the change on their next read.
func (r *PreferencesRepo) Upsert(ctx context.Context, p domain.Preferences) error {
	query := fmt.Sprintf(`
		INSERT INTO users.trade_preferences_%s
			(user_id, auto_entry, auto_stop, position_size, multiplier, min_probability, min_differential,
			 min_time_seconds, max_time_seconds, min_ttc_seconds, allow_re_entry, min_current_probability,
			 spike_alert_momentum_threshold, spike_alert_cooldown_threshold, spike_alert_cooldown_minutes,
			 watchlist_min_volume, watchlist_max_ask, momentum_spike_threshold, momentum_spike_enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (user_id) DO UPDATE SET
			auto_entry = EXCLUDED.auto_entry, auto_stop = EXCLUDED.auto_stop,
			position_size = EXCLUDED.position_size, multiplier = EXCLUDED.multiplier,
			min_probability = EXCLUDED.min_probability, min_differential = EXCLUDED.min_differential,
			min_time_seconds = EXCLUDED.min_time_seconds, max_time_seconds = EXCLUDED.max_time_seconds,
			min_ttc_seconds = EXCLUDED.min_ttc_seconds, allow_re_entry = EXCLUDED.allow_re_entry,
			min_current_probability = EXCLUDED.min_current_probability,
			spike_alert_momentum_threshold = EXCLUDED.spike_alert_momentum_threshold,
			spike_alert_cooldown_threshold = EXCLUDED.spike_alert_cooldown_threshold,
			spike_alert_cooldown_minutes = EXCLUDED.spike_alert_cooldown_minutes,
			watchlist_min_volume = EXCLUDED.watchlist_min_volume,
			watchlist_max_ask = EXCLUDED.watchlist_max_ask,
			momentum_spike_threshold = EXCLUDED.momentum_spike_threshold,
			momentum_spike_enabled = EXCLUDED.momentum_spike_enabled`, r.user)

	_, err := r.db.conn.ExecContext(ctx, query,
		r.user, p.AutoEntry, p.AutoStop, p.PositionSize, p.Multiplier, p.MinProbability, p.MinDifferential,
		p.MinTimeSeconds, p.MaxTimeSeconds, p.MinTTCSeconds, p.AllowReEntry, p.MinCurrentProbability,
		p.SpikeAlertMomentumThreshold, p.SpikeAlertCooldownThreshold, p.SpikeAlertCooldownMinutes,
		p.WatchlistMinVolume, p.WatchlistMaxAsk, p.MomentumSpikeThreshold, p.MomentumSpikeEnabled)
	if err != nil {
		return &domain.TransientError{Component: "store.preferences", Message: "upsert failed", Err: err}
	}

	r.bus.Publish(notify.Change{Table: tableName("trade_preferences", r.user), User: r.user})
	return nil
}
