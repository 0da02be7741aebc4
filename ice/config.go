package ice

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// StackConfig holds the optional, environment-overridable knobs named in
// spec.md §6: retransmit timing, whether received retransmissions are
// surfaced to request listeners, and whether MESSAGE-INTEGRITY is mandatory
// on every inbound request regardless of whether the peer included one.
type StackConfig struct {
	RequireIntegrity         bool
	PropagateRetransmissions bool
	RetransmitParams         RetransmitParams
}

// DefaultStackConfig returns the documented defaults, then applies any
// recognized environment variable overrides.
func DefaultStackConfig() StackConfig {
	cfg := StackConfig{
		RequireIntegrity:         false,
		PropagateRetransmissions: false,
		RetransmitParams:         DefaultRetransmitParams,
	}
	cfg.applyEnv()
	return cfg
}

func (cfg *StackConfig) applyEnv() {
	if v, ok := boolEnv("ICE_REQUIRE_INTEGRITY"); ok {
		cfg.RequireIntegrity = v
	}
	if v, ok := boolEnv("ICE_PROPAGATE_RETRANSMISSIONS"); ok {
		cfg.PropagateRetransmissions = v
	}
	if v, ok := durationMsEnv("ICE_RTO"); ok {
		cfg.RetransmitParams.T0 = v
	}
	if v, ok := intEnv("ICE_RC"); ok {
		cfg.RetransmitParams.N = v
	}
	if v, ok := durationMsEnv("ICE_RM"); ok {
		cfg.RetransmitParams.Tmax = v
	}
}

func boolEnv(name string) (bool, bool) {
	s, present := os.LookupEnv(name)
	if !present {
		return false, false
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ice: invalid %s value %q: %s\n", name, s, err)
		return false, false
	}
	return v, true
}

func intEnv(name string) (int, bool) {
	s, present := os.LookupEnv(name)
	if !present {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ice: invalid %s value %q: %s\n", name, s, err)
		return 0, false
	}
	return v, true
}

func durationMsEnv(name string) (time.Duration, bool) {
	v, ok := intEnv(name)
	if !ok {
		return 0, false
	}
	return time.Duration(v) * time.Millisecond, true
}
