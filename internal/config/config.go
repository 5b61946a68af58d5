// Package config provides centralized configuration management for Hindsight.
package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Default configuration values.
const (
	DefaultCollectJobs      = 2
	DefaultRebuildJobs      = 2
	DefaultCollectWorkers   = 4
	DefaultVectorDimensions = 768
	DefaultRetrievalK       = 5
)

// GetCollectJobs returns the maximum number of concurrent PR collection jobs
// across all repositories. Configurable via HINDSIGHT_COLLECT_JOBS.
func GetCollectJobs() int {
	return getEnvInt("HINDSIGHT_COLLECT_JOBS", DefaultCollectJobs)
}

// GetRebuildJobs returns the maximum number of concurrent index rebuild jobs
// across all repositories. Configurable via HINDSIGHT_REBUILD_JOBS.
func GetRebuildJobs() int {
	return getEnvInt("HINDSIGHT_REBUILD_JOBS", DefaultRebuildJobs)
}

// GetCollectWorkers returns the number of concurrent per-PR fetch workers used
// inside a single collection job. Configurable via HINDSIGHT_COLLECT_WORKERS.
func GetCollectWorkers() int {
	return getEnvInt("HINDSIGHT_COLLECT_WORKERS", DefaultCollectWorkers)
}

// GetVectorDimensions returns the embedding vector dimensions.
// Configurable via HINDSIGHT_VECTOR_DIMENSIONS.
func GetVectorDimensions() int {
	dims := getEnvInt("HINDSIGHT_VECTOR_DIMENSIONS", DefaultVectorDimensions)
	// Validate range
	if dims < 1 || dims > 4096 {
		return DefaultVectorDimensions
	}
	return dims
}

// GetRetrievalK returns the initial similarity-search candidate count.
// Configurable via HINDSIGHT_RETRIEVAL_K.
func GetRetrievalK() int {
	return getEnvInt("HINDSIGHT_RETRIEVAL_K", DefaultRetrievalK)
}

// GetDataDir returns the root directory for per-repository data (PR exports,
// knowledge indexes, downloaded base-file snapshots). Configurable via
// HINDSIGHT_DATA_DIR, defaults to ~/.hindsight.
func GetDataDir() string {
	if dir := os.Getenv("HINDSIGHT_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hindsight"
	}
	return filepath.Join(home, ".hindsight")
}

// GetGitHubToken returns the GitHub API token from the environment.
func GetGitHubToken() string {
	return os.Getenv("GITHUB_TOKEN")
}

// getEnvInt reads an integer from environment variable with a default fallback.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil && intVal > 0 {
			return intVal
		}
	}
	return defaultVal
}
