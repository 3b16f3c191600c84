package main

import (
	"os"
	"strconv"
	"time"
)

// config holds cmd/coordnode's startup parameters, read from
// environment variables with getenv's default-fallback convention
// (mirroring cmd/coordinator's COORDINATOR_ADDR handling in the
// teacher repo).
type config struct {
	// nodeID is this process's session prefix (§3.2): the logical
	// identity every session it owns shares.
	nodeID string

	// listenAddr is where the entry-operation HTTP API listens.
	listenAddr string

	// metricsAddr is where the prometheus /metrics endpoint listens.
	// Empty disables the metrics server.
	metricsAddr string

	// dataDir is the root directory for the badger-backed stores. Two
	// subdirectories, "entries" and "sessions", are opened under it,
	// since each badger.DB instance owns an exclusive directory lock.
	dataDir string

	// inMemory runs the in-process reference store instead of badger,
	// for local runs and tests that don't want on-disk state.
	inMemory bool

	// leaseLength is how far into the future a renewed session lease
	// extends (§4.5).
	leaseLength time.Duration

	// cacheCapacity bounds the client cache's LRU eviction (§4.9, C9).
	cacheCapacity int
}

func defaultConfig() config {
	return config{
		nodeID:        getenv("COORDNODE_ID", "coordnode-0"),
		listenAddr:    getenv("COORDNODE_LISTEN", ":7070"),
		metricsAddr:   getenv("COORDNODE_METRICS_LISTEN", ":7071"),
		dataDir:       getenv("COORDNODE_DATA_DIR", "./data"),
		inMemory:      getenvBool("COORDNODE_IN_MEMORY", false),
		leaseLength:   getenvDuration("COORDNODE_LEASE_LENGTH", 10*time.Second),
		cacheCapacity: getenvInt("COORDNODE_CACHE_CAPACITY", 4096),
	}
}

// getenv retrieves an environment variable with a default fallback,
// exactly as cmd/coordinator's helper of the same name does.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return parsed
}
