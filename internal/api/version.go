package api

import (
	"encoding/json"
	"net/http"
	"os"
)

// VersionResponse contains build metadata for the running deployment.
// The full commit hash and the Go version are deliberately excluded;
// the short hash is enough for debugging.
type VersionResponse struct {
	Version        string `json:"version"`
	BuildDate      string `json:"build_date"`
	GitCommitShort string `json:"git_commit_short"`
	Environment    string `json:"environment"`
}

// version returns build metadata as JSON. Values are read from the
// environment at request time so a container restart with new metadata
// is reflected immediately. This endpoint requires no authentication.
func (s *Server) version(w http.ResponseWriter, _ *http.Request) {
	gitCommit := getEnvOrDefault("GIT_COMMIT", "")
	shortCommit := gitCommit
	if len(gitCommit) > 7 {
		shortCommit = gitCommit[:7]
	}

	response := VersionResponse{
		Version:        getEnvOrDefault("VERSION", ""),
		BuildDate:      getEnvOrDefault("BUILD_DATE", ""),
		GitCommitShort: shortCommit,
		Environment:    getEnvOrDefault("ENVIRONMENT", "development"),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// getEnvOrDefault retrieves an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
