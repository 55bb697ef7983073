// Package portregistry is the single source of truth mapping service name to
// TCP port and bind host (spec §4.1). No component in this module takes a
// *Registry yet: the control-plane server listens on the SERVER_PORT config
// value (default 8000) and supervisorctl defaults to localhost:8000.
package portregistry

import (
	"encoding/json"
	"net"
	"os"

	"github.com/recio/trading-core/internal/domain"
)

// Names of the ~12 core services whose ports live in the manifest (spec §6).
const (
	ServiceMainApp                   = "main_app"
	ServiceTradeManager               = "trade_manager"
	ServiceTradeExecutor              = "trade_executor"
	ServiceActiveTradeSupervisor      = "active_trade_supervisor"
	ServiceAutoEntrySupervisor        = "auto_entry_supervisor"
	ServiceKalshiAccountSync          = "kalshi_account_sync"
	ServiceKalshiAPIWatchdog          = "kalshi_api_watchdog"
	ServiceBTCPriceWatchdog           = "btc_price_watchdog"
	ServiceETHPriceWatchdog           = "eth_price_watchdog"
	ServiceCascadingFailureDetector   = "cascading_failure_detector"
	ServiceUnifiedProductionCoordinator = "unified_production_coordinator"
	ServiceSupervisorRPC              = "supervisor_rpc"
)

// manifestEntry is the on-disk shape of one entry in the port manifest.
type manifestEntry struct {
	Port int    `json:"port"`
	Host string `json:"host,omitempty"`
}

// Registry resolves service name -> (host, port) from a JSON manifest file,
// the only source of truth (contract (1) in spec §4.1).
type Registry struct {
	ports map[string]manifestEntry
	host  string
}

// Load reads the manifest at path and resolves the bind host: env override
// (TRADING_SYSTEM_HOST) -> detected LAN IP -> "localhost" (contract (4)).
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigError{Component: "portregistry", Message: "failed to read manifest " + path, Err: err}
	}

	var raw map[string]manifestEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &domain.ConfigError{Component: "portregistry", Message: "failed to parse manifest " + path, Err: err}
	}

	return &Registry{ports: raw, host: resolveHost()}, nil
}

// resolveHost applies the deliberate no-silent-defaults chain: env override
// first, then the first non-loopback LAN IP, then localhost.
func resolveHost() string {
	if h := os.Getenv("TRADING_SYSTEM_HOST"); h != "" {
		return h
	}

	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}

	return "localhost"
}

// Get returns the port assigned to name. A missing name is a ConfigError —
// this deliberately forbids silent defaults so configuration drift is
// caught at boot (contract (3)).
func (r *Registry) Get(name string) (domain.PortAssignment, error) {
	entry, ok := r.ports[name]
	if !ok {
		return domain.PortAssignment{}, &domain.ConfigError{
			Component: "portregistry",
			Message:   "no port assigned to service " + name,
		}
	}

	host := entry.Host
	if host == "" {
		host = r.host
	}

	return domain.PortAssignment{Name: name, Host: host, Port: entry.Port}, nil
}

// Host returns the resolved bind host shared by services that don't override it.
func (r *Registry) Host() string {
	return r.host
}

// All returns every assignment in the manifest, in no particular order.
func (r *Registry) All() []domain.PortAssignment {
	out := make([]domain.PortAssignment, 0, len(r.ports))
	for name, entry := range r.ports {
		host := entry.Host
		if host == "" {
			host = r.host
		}
		out = append(out, domain.PortAssignment{Name: name, Host: host, Port: entry.Port})
	}
	return out
}
