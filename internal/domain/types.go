package domain

import "time"

// Side is the YES/NO leg of a binary event contract.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// TradeStatus tracks the lifecycle of a Trade. Transitions are restricted to
// pending -> {open, failed}, open -> closing -> closed; never skipped or
// reversed (invariant P3).
type TradeStatus string

const (
	StatusPending TradeStatus = "pending"
	StatusOpen    TradeStatus = "open"
	StatusClosing TradeStatus = "closing"
	StatusClosed  TradeStatus = "closed"
	StatusFailed  TradeStatus = "failed"
)

// EntryMethod records whether a trade was opened by AutoEntryEngine or a
// human operator.
type EntryMethod string

const (
	EntryManual EntryMethod = "manual"
	EntryAuto   EntryMethod = "auto"
)

// Trade is the append-mostly record of an order's full lifecycle, keyed by
// the exchange-assigned TicketID for idempotent transitions (L1, L2).
type Trade struct {
	ID           int64       `db:"id"`
	TicketID     string      `db:"ticket_id"`
	User         string      `db:"-"`
	Symbol       string      `db:"symbol"`
	Side         Side        `db:"side"`
	Strike       float64     `db:"strike"`
	Contract     string      `db:"contract"`
	BuyPrice     float64     `db:"buy_price"`
	Position     int         `db:"position"`
	Fees         float64     `db:"fees"`
	Prob         float64     `db:"prob"`
	Diff         float64     `db:"diff"`
	Momentum     float64     `db:"momentum"`
	SymbolOpen   float64     `db:"symbol_open"`
	Status       TradeStatus `db:"status"`
	EntryMethod  EntryMethod `db:"entry_method"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

// CanTransition reports whether moving from the trade's current status to
// next is a legal edge under the status state machine (invariant P3).
func (t Trade) CanTransition(next TradeStatus) bool {
	switch t.Status {
	case StatusPending:
		return next == StatusOpen || next == StatusFailed
	case StatusOpen:
		return next == StatusClosing
	case StatusClosing:
		return next == StatusClosed
	default:
		return false
	}
}

// IsTerminal reports whether the trade has reached closed or failed, at
// which point its ActiveTrade row must be removed (invariant P1).
func (t Trade) IsTerminal() bool {
	return t.Status == StatusClosed || t.Status == StatusFailed
}

// ActiveTrade is the live metrics mirror of a non-terminal Trade. Exactly
// one row exists per non-terminal trade (invariant P1).
type ActiveTrade struct {
	TradeID             int64     `db:"trade_id"`
	User                string    `db:"-"`
	CurrentSymbolPrice  float64   `db:"current_symbol_price"`
	CurrentClosePrice   float64   `db:"current_close_price"`
	BufferFromStrike    float64   `db:"buffer_from_strike"`
	TimeSinceEntry      float64   `db:"time_since_entry_seconds"`
	TTCSeconds          float64   `db:"ttc_seconds"`
	CurrentProbability  float64   `db:"current_probability"`
	CurrentPnL          float64   `db:"current_pnl"`
	Degraded            bool      `db:"degraded"`
	LastUpdated         time.Time `db:"last_updated"`
}

// MarketSnapshot is the last-known per-event view published by MarketFeed.
type MarketSnapshot struct {
	EventTicker string    `db:"event_ticker" json:"event_ticker"`
	MarketID    string    `db:"market_id" json:"market_id"`
	Strike      float64   `db:"strike" json:"strike"`
	YesBid      float64   `db:"yes_bid" json:"yes_bid"`
	YesAsk      float64   `db:"yes_ask" json:"yes_ask"`
	NoBid       float64   `db:"no_bid" json:"no_bid"`
	NoAsk       float64   `db:"no_ask" json:"no_ask"`
	Volume      int64     `db:"volume" json:"volume"`
	Status      string    `db:"status" json:"status"`
	TierSpacing float64   `db:"tier_spacing" json:"tier_spacing"`
	CloseTime   time.Time `db:"close_time" json:"close_time"`
	OpenTime    time.Time `db:"open_time" json:"open_time"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Preferences is the per-user auto-entry/auto-stop configuration, mutated by
// the (out-of-scope) UI and read by ATS and AutoEntryEngine.
type Preferences struct {
	User                         string  `db:"user_id"`
	AutoEntry                    bool    `db:"auto_entry"`
	AutoStop                     bool    `db:"auto_stop"`
	PositionSize                 int     `db:"position_size"`
	Multiplier                   int     `db:"multiplier"`
	MinProbability                float64 `db:"min_probability"`
	MinDifferential               float64 `db:"min_differential"`
	MinTimeSeconds                float64 `db:"min_time_seconds"`
	MaxTimeSeconds                float64 `db:"max_time_seconds"`
	MinTTCSeconds                  float64 `db:"min_ttc_seconds"`
	AllowReEntry                  bool    `db:"allow_re_entry"`
	MinCurrentProbability          float64 `db:"min_current_probability"`
	SpikeAlertMomentumThreshold    float64 `db:"spike_alert_momentum_threshold"`
	SpikeAlertCooldownThreshold    float64 `db:"spike_alert_cooldown_threshold"`
	SpikeAlertCooldownMinutes      float64 `db:"spike_alert_cooldown_minutes"`
	WatchlistMinVolume             int64   `db:"watchlist_min_volume"`
	WatchlistMaxAsk                float64 `db:"watchlist_max_ask"`
	MomentumSpikeThreshold         float64 `db:"momentum_spike_threshold"`
	MomentumSpikeEnabled           bool    `db:"momentum_spike_enabled"`
}

// DefaultPreferences returns the baseline per-user configuration applied
// when a user has never customized their preferences (probability floor 40,
// ttc floor 60).
func DefaultPreferences(user string) Preferences {
	return Preferences{
		User:                   user,
		MinCurrentProbability:  40,
		MinTTCSeconds:          60,
		Multiplier:             1,
		PositionSize:           1,
	}
}

// ServiceStatus is the Supervisor-managed state of one child process.
type ServiceStatus string

const (
	ServiceStarting   ServiceStatus = "STARTING"
	ServiceRunning    ServiceStatus = "RUNNING"
	ServiceStopped    ServiceStatus = "STOPPED"
	ServiceFatal      ServiceStatus = "FATAL"
	ServiceRestarting ServiceStatus = "RESTARTING"
)

// ServiceState is the Supervisor's view of one managed process.
type ServiceState struct {
	Name            string        `db:"name"`
	PID             int           `db:"pid"`
	Status          ServiceStatus `db:"status"`
	RestartCount    int           `db:"restart_count"`
	LastExitReason  string        `db:"last_exit_reason"`
	UpdatedAt       time.Time     `db:"updated_at"`
}

// PortAssignment binds a service name to its host/port, resolved once from
// the PortRegistry manifest; there are no fallbacks (§4.1).
type PortAssignment struct {
	Name string `db:"name" json:"name"`
	Host string `db:"host" json:"host"`
	Port int    `db:"port" json:"port"`
}

// AccountMode selects which Kalshi environment a user's credentials target.
type AccountMode string

const (
	AccountDemo AccountMode = "demo"
	AccountProd AccountMode = "prod"
)

// Position mirrors the exchange's view of a held contract, owned
// exclusively by AccountSync.
type Position struct {
	User       string    `db:"-"`
	MarketID   string    `db:"market_id"`
	Side       Side      `db:"side"`
	Quantity   int       `db:"quantity"`
	AvgPrice   float64   `db:"avg_price"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// Fill is one exchange-reported execution, keyed by the exchange's TradeID.
type Fill struct {
	User      string    `db:"-"`
	TradeID   string    `db:"trade_id"`
	OrderID   string    `db:"order_id"`
	MarketID  string    `db:"market_id"`
	Side      Side      `db:"side"`
	Quantity  int       `db:"quantity"`
	Price     float64   `db:"price"`
	FilledAt  time.Time `db:"filled_at"`
}

// Order mirrors an exchange order's lifecycle, keyed by OrderID.
type Order struct {
	User      string    `db:"-"`
	OrderID   string    `db:"order_id"`
	MarketID  string    `db:"market_id"`
	Side      Side      `db:"side"`
	Quantity  int       `db:"quantity"`
	Price     float64   `db:"price"`
	Status    string    `db:"status"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Settlement records the resolution of an event market.
type Settlement struct {
	User        string    `db:"-"`
	MarketID    string    `db:"market_id"`
	Result      string    `db:"result"`
	Revenue     float64   `db:"revenue"`
	SettledAt   time.Time `db:"settled_at"`
}

// Balance is the account's cash balance in its settlement currency.
type Balance struct {
	User      string    `db:"-"`
	Currency  string    `db:"currency"`
	Amount    float64   `db:"amount"`
	UpdatedAt time.Time `db:"updated_at"`
}

// PriceTick is one second-resolution sample of a symbol's spot price.
type PriceTick struct {
	Symbol    string    `db:"-"`
	Timestamp time.Time `db:"ts"`
	Price     float64   `db:"price"`
}
