// Package config reads rollcall settings from the environment.
package config

import (
	"os"
	"strconv"
)

// Slot exhaustion policies.
const (
	PolicyReject = "reject"
	PolicyGrow   = "grow"
)

type Config struct {
	Database       string  // SQLite path (ROLLCALL_DB)
	Roster         string  // CUE roster file (ROLLCALL_ROSTER)
	References     string  // YAML reference descriptors (ROLLCALL_REFERENCES)
	Slots          int     // slots in a fresh grid (ROLLCALL_SLOTS)
	SlotPolicy     string  // reject | grow (ROLLCALL_SLOT_POLICY)
	MatchThreshold float64 // max mean descriptor distance (ROLLCALL_MATCH_THRESHOLD)
	LabelPrefix    string  // session header prefix (ROLLCALL_LABEL_PREFIX)
}

// Defaults.
const (
	DefaultDatabase       = "rollcall.db"
	DefaultRoster         = "roster.cue"
	DefaultReferences     = "references.yaml"
	DefaultSlots          = 12
	DefaultMatchThreshold = 0.6
	DefaultLabelPrefix    = "Session"
)

// envString returns the variable's value or defaultVal when unset or empty.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as a non-negative integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a positive float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func Load() *Config {
	policy := envString("ROLLCALL_SLOT_POLICY", PolicyReject)
	if policy != PolicyGrow {
		policy = PolicyReject
	}

	return &Config{
		Database:       envString("ROLLCALL_DB", DefaultDatabase),
		Roster:         envString("ROLLCALL_ROSTER", DefaultRoster),
		References:     envString("ROLLCALL_REFERENCES", DefaultReferences),
		Slots:          envInt("ROLLCALL_SLOTS", DefaultSlots),
		SlotPolicy:     policy,
		MatchThreshold: envFloat("ROLLCALL_MATCH_THRESHOLD", DefaultMatchThreshold),
		LabelPrefix:    envString("ROLLCALL_LABEL_PREFIX", DefaultLabelPrefix),
	}
}
