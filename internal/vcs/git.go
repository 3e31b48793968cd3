// Package vcs resolves the application's identity from the git remote
// and package metadata. The resulting ApplicationUID is immutable for
// the process lifetime.
package vcs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// Info is the git identity of the working copy.
type Info struct {
	Remote   string
	Org      string
	Project  string
	Branch   string
	Commit   string
	Username string
}

// remoteRx matches both SSH (git@host:org/project.git) and HTTPS
// (https://host/org/project.git) remote URLs.
var remoteRx = regexp.MustCompile(`(?:[:/])([^/:]+)/([^/]+?)(?:\.git)?$`)

// Resolve reads the git identity of dir. The remote is required; branch,
// commit and username are best-effort.
func Resolve(ctx context.Context, dir string) (Info, error) {
	remote, err := gitOutput(ctx, dir, "config", "--get", "remote.origin.url")
	if err != nil {
		return Info{}, fmt.Errorf("resolve git remote: %w", err)
	}

	org, project, err := parseRemote(remote)
	if err != nil {
		return Info{}, err
	}

	info := Info{
		Remote:  remote,
		Org:     org,
		Project: project,
	}

	if branch, err := gitOutput(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		info.Branch = branch
	}
	if commit, err := gitOutput(ctx, dir, "rev-parse", "HEAD"); err == nil {
		info.Commit = commit
	}
	if user, err := gitOutput(ctx, dir, "config", "user.name"); err == nil && user != "" {
		info.Username = user
	} else {
		info.Username = os.Getenv("USER")
	}

	return info, nil
}

// parseRemote extracts org and project from a git remote URL.
func parseRemote(remote string) (org, project string, err error) {
	m := remoteRx.FindStringSubmatch(remote)
	if m == nil {
		return "", "", fmt.Errorf("unrecognized git remote %q", remote)
	}
	return m[1], m[2], nil
}

// AppName reads the application name from package.json in dir.
func AppName(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return "", fmt.Errorf("read package metadata: %w", err)
	}
	var pkg struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return "", fmt.Errorf("parse package metadata: %w", err)
	}
	if pkg.Name == "" {
		return "", fmt.Errorf("package metadata has no name")
	}
	return pkg.Name, nil
}

// ApplicationUID derives the stable application identifier from the app
// name and the git identity: <app>.<project>.<org>, each component
// sanitized.
func ApplicationUID(app string, info Info) string {
	return fmt.Sprintf("%s.%s.%s", sanitize(app), sanitize(info.Project), sanitize(info.Org))
}

// sanitize lowercases a component and collapses everything outside
// [a-z0-9-] into single dashes.
func sanitize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-'
		if ok {
			b.WriteRune(r)
			lastDash = r == '-'
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

// gitOutput runs a git command in dir and returns its trimmed stdout.
func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}
