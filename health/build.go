package health

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	GitBranch string    `json:"git_branch"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
	OS        string    `json:"os"`
	Arch      string    `json:"arch"`
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("%s-%s (%s)", b.Version, b.GitCommit[:min(len(b.GitCommit), 7)], b.BuildTime.Format("2006-01-02"))
}

// GetBuildInfo reads BUILD_* environment variables, overridden by a
// build.info file in the working directory when one exists.
func GetBuildInfo() BuildInfo {
	buildInfo := BuildInfo{
		Version:   getEnvOrDefault("BUILD_VERSION", "dev"),
		GitCommit: getEnvOrDefault("BUILD_COMMIT", "unknown"),
		GitBranch: getEnvOrDefault("BUILD_BRANCH", "unknown"),
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}

	if buildTimeStr := getEnvOrDefault("BUILD_TIME", ""); buildTimeStr != "" {
		if buildTime, err := time.Parse(time.RFC3339, buildTimeStr); err == nil {
			buildInfo.BuildTime = buildTime
		}
	}

	if data, err := os.ReadFile("build.info"); err == nil {
		buildInfo.merge(parseBuildInfoFile(string(data)))
	}

	return buildInfo
}

func (b *BuildInfo) merge(other BuildInfo) {
	if other.Version != "" {
		b.Version = other.Version
	}
	if other.GitCommit != "" {
		b.GitCommit = other.GitCommit
	}
	if other.GitBranch != "" {
		b.GitBranch = other.GitBranch
	}
	if !other.BuildTime.IsZero() {
		b.BuildTime = other.BuildTime
	}
}

func parseBuildInfoFile(content string) BuildInfo {
	var buildInfo BuildInfo

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "VERSION":
			buildInfo.Version = value
		case "GIT_COMMIT":
			buildInfo.GitCommit = value
		case "GIT_BRANCH":
			buildInfo.GitBranch = value
		case "BUILD_TIME":
			if buildTime, err := time.Parse(time.RFC3339, value); err == nil {
				buildInfo.BuildTime = buildTime
			}
		}
	}

	return buildInfo
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
