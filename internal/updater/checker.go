// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/hashicorp/go-version"
)

const (
	// GitHubAPIURL is the endpoint for fetching the latest release
	GitHubAPIURL = "https://api.github.com/repos/shiqicao/warpy/releases/latest"
	// CheckInterval is how often we check for updates
	CheckInterval = 24 * time.Hour
	// RequestTimeout is the maximum time to wait for the GitHub API
	RequestTimeout = 5 * time.Second
)

// Checker handles update checking logic
type Checker struct {
	currentVersion string
	cacheDir       string
}

// GitHubRelease represents the GitHub API response for a release
type GitHubRelease struct {
	TagName string `json:"tag_name"`
}

// CacheData stores the last check timestamp and latest version
type CacheData struct {
	LastCheck     time.Time `json:"last_check"`
	LatestVersion string    `json:"latest_version"`
}

// NewChecker creates a new update checker
func NewChecker(currentVersion string) *Checker {
	return &Checker{
		currentVersion: currentVersion,
		cacheDir:       cacheDir(),
	}
}

// CheckForUpdates checks the latest release and prints a notice when a
// newer version exists. All failures are silent; an update check must
// never break an interpreter run.
func (c *Checker) CheckForUpdates() {
	if os.Getenv("WARPY_NO_UPDATE_CHECK") != "" {
		return
	}
	if !c.shouldCheck() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
	defer cancel()

	latest, err := c.fetchLatestVersion(ctx)
	if err != nil {
		return
	}
	c.updateCache(latest)

	newer, err := isNewer(c.currentVersion, latest)
	if err != nil || !newer {
		return
	}

	yellow := color.New(color.FgYellow)
	yellow.Fprintf(os.Stderr, "A new version of warpy is available: %s (current: %s)\n",
		latest, c.currentVersion)
}

// shouldCheck consults the cache so the API is hit at most once per
// interval.
func (c *Checker) shouldCheck() bool {
	data, err := os.ReadFile(filepath.Join(c.cacheDir, "last_update_check"))
	if err != nil {
		return true
	}
	var cache CacheData
	if err := json.Unmarshal(data, &cache); err != nil {
		return true
	}
	return time.Since(cache.LastCheck) >= CheckInterval
}

func (c *Checker) updateCache(latest string) {
	cache := CacheData{LastCheck: time.Now(), LatestVersion: latest}
	data, err := json.Marshal(cache)
	if err != nil {
		return
	}
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(c.cacheDir, "last_update_check"), data, 0o644)
}

// fetchLatestVersion calls the GitHub API for the latest release tag.
func (c *Checker) fetchLatestVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, GitHubAPIURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var release GitHubRelease
	if err := json.Unmarshal(body, &release); err != nil {
		return "", err
	}
	if release.TagName == "" {
		return "", fmt.Errorf("release has no tag")
	}
	return release.TagName, nil
}

// isNewer compares two semver strings, tolerating a leading "v".
func isNewer(current, latest string) (bool, error) {
	cur, err := version.NewVersion(strings.TrimPrefix(current, "v"))
	if err != nil {
		return false, err
	}
	lat, err := version.NewVersion(strings.TrimPrefix(latest, "v"))
	if err != nil {
		return false, err
	}
	return lat.GreaterThan(cur), nil
}

func cacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".warpy")
}
