// Package ciutil detects CI environments and resolves the environment
// variables that integration tests depend on.
package ciutil

import (
	"log/slog"
	"os"

	"github.com/phrazzld/taskdispatch/internal/redact"
)

// Environment variable names shared by the integration test harnesses.
// Constants keep the lookups consistent and prevent typos.
const (
	// CI provider detection variables.
	EnvCI            = "CI"
	EnvGitHubActions = "GITHUB_ACTIONS"
	EnvGitLabCI      = "GITLAB_CI"
	EnvJenkinsURL    = "JENKINS_URL"
	EnvCircleCI      = "CIRCLECI"

	// EnvTestDatabaseURL is the preferred variable for pointing integration
	// tests at a postgres instance. EnvDatabaseURL is accepted as a
	// fallback so CI jobs that already export it keep working.
	EnvTestDatabaseURL = "TASKDISPATCH_TEST_DB_URL"
	EnvDatabaseURL     = "DATABASE_URL"

	// EnvDockerTest gates tests that manage containers themselves.
	EnvDockerTest = "DOCKER_TEST"
)

// IsCI returns true when the current process runs under a CI provider.
// It checks the variables the common providers set.
func IsCI() bool {
	return os.Getenv(EnvCI) != "" ||
		os.Getenv(EnvGitHubActions) != "" ||
		os.Getenv(EnvGitLabCI) != "" ||
		os.Getenv(EnvJenkinsURL) != "" ||
		os.Getenv(EnvCircleCI) != ""
}

// FirstEnv returns the value of the first set variable in names. When a
// fallback variable supplies the value, a warning names the preferred one
// so callers migrate off legacy names. The logged value is redacted.
// Returns the empty string when none are set.
func FirstEnv(logger *slog.Logger, names ...string) string {
	for i, name := range names {
		val := os.Getenv(name)
		if val == "" {
			continue
		}
		if i > 0 && logger != nil {
			logger.Warn("Using fallback environment variable",
				slog.String("used_var", name),
				slog.String("preferred_var", names[0]),
				slog.String("value", redact.URL(val)),
			)
		}
		return val
	}
	return ""
}

// TestDatabaseURL resolves the postgres URL integration tests run against.
// An empty result means no database is available and callers should skip.
func TestDatabaseURL(logger *slog.Logger) string {
	return FirstEnv(logger, EnvTestDatabaseURL, EnvDatabaseURL)
}

// DockerTestsEnabled reports whether container-managing tests may run.
func DockerTestsEnabled() bool {
	return os.Getenv(EnvDockerTest) == "1"
}
