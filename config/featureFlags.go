package config

import (
	"os"
	"strings"
	"time"
	_ "time/tzdata"
)

const defaultSyncTimezone = "America/New_York"

// LedgerSyncFeatureEnabled is the process-level kill switch for every ledger write path.
// The admin "enabled" setting and a connected ledger are still required on top of it.
//
// Set via env:
// - LEDGER_SYNC_FEATURE_ENABLED=false
func LedgerSyncFeatureEnabled() bool {
	return EnvBool("LEDGER_SYNC_FEATURE_ENABLED", true)
}

// SyncLocation is the business timezone used for day windows and receipt dates.
func SyncLocation() *time.Location {
	name := strings.TrimSpace(os.Getenv("LEDGER_SYNC_TIMEZONE"))
	if name == "" {
		name = defaultSyncTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		LogError(GetLogger(), "config", "SyncLocation", "load timezone "+name, nil, err)
		loc, _ = time.LoadLocation(defaultSyncTimezone)
	}
	return loc
}

func SyncChunkSize() int {
	n := intFromEnv("LEDGER_SYNC_CHUNK_SIZE", 25)
	if n <= 0 {
		return 25
	}
	return n
}

func SyncItemDelay() time.Duration {
	return time.Duration(intFromEnv("LEDGER_SYNC_ITEM_DELAY_MS", 250)) * time.Millisecond
}

func SyncChunkDelay() time.Duration {
	return time.Duration(intFromEnv("LEDGER_SYNC_CHUNK_DELAY_MS", 2000)) * time.Millisecond
}

// SyncDayLimit caps transactions per day run; 0 means no cap.
func SyncDayLimit() int {
	return intFromEnv("LEDGER_SYNC_DAY_LIMIT", 0)
}

// SyncClaimLease is how long a pending claim blocks other runs before it is considered abandoned.
func SyncClaimLease() time.Duration {
	return time.Duration(intFromEnv("LEDGER_SYNC_CLAIM_LEASE_SECONDS", 600)) * time.Second
}

func EnvBool(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

func EnvString(key string, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
