package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	FFmpegName  = "ffmpeg"
	FFprobeName = "ffprobe"

	versionTimeout = 5 * time.Second
)

// Locator finds the ffmpeg and ffprobe executables.
// Absence is represented by an empty path; nothing here returns an error.
type Locator struct {
	mu          sync.RWMutex
	ffmpegPath  string
	ffprobePath string

	goos         string
	getenv       func(string) string
	fallbackDirs []string
}

// LocatorOption customizes a Locator
type LocatorOption func(*Locator)

// WithGetenv replaces the environment lookup (PATH, ProgramFiles, USERPROFILE)
func WithGetenv(getenv func(string) string) LocatorOption {
	return func(l *Locator) { l.getenv = getenv }
}

// WithFallbackDirs replaces the OS-conventional install directories
func WithFallbackDirs(dirs ...string) LocatorOption {
	return func(l *Locator) { l.fallbackDirs = dirs }
}

// WithGOOS overrides the platform used for suffix and separator rules
func WithGOOS(goos string) LocatorOption {
	return func(l *Locator) { l.goos = goos }
}

// NewLocator creates a locator and performs an initial search
func NewLocator(opts ...LocatorOption) *Locator {
	l := &Locator{
		goos:   runtime.GOOS,
		getenv: os.Getenv,
	}
	for _, o := range opts {
		o(l)
	}
	if l.fallbackDirs == nil {
		l.fallbackDirs = defaultFallbackDirs(l.goos, l.getenv)
	}
	l.Refresh()
	return l
}

func defaultFallbackDirs(goos string, getenv func(string) string) []string {
	switch goos {
	case "darwin":
		// Homebrew (Intel, Apple silicon), MacPorts
		return []string{"/usr/local/bin", "/opt/homebrew/bin", "/opt/local/bin"}
	case "windows":
		var dirs []string
		if pf := getenv("ProgramFiles"); pf != "" {
			dirs = append(dirs, filepath.Join(pf, "ffmpeg", "bin"))
		}
		if home := getenv("USERPROFILE"); home != "" {
			dirs = append(dirs, filepath.Join(home, "ffmpeg", "bin"))
		}
		return dirs
	default:
		return []string{"/usr/bin", "/usr/local/bin"}
	}
}

// Refresh repeats the search for both tools
func (l *Locator) Refresh() {
	ffmpeg := l.Locate(FFmpegName)
	ffprobe := l.Locate(FFprobeName)

	l.mu.Lock()
	l.ffmpegPath = ffmpeg
	l.ffprobePath = ffprobe
	l.mu.Unlock()
}

// Locate returns the first existing file named name on PATH, then in the
// fallback directories, or "" if none exists.
func (l *Locator) Locate(name string) string {
	separator, suffix := ":", ""
	if l.goos == "windows" {
		separator, suffix = ";", ".exe"
	}

	for _, dir := range strings.Split(l.getenv("PATH"), separator) {
		if dir == "" {
			continue
		}
		if candidate := filepath.Join(dir, name+suffix); isFile(candidate) {
			return candidate
		}
	}

	for _, dir := range l.fallbackDirs {
		if candidate := filepath.Join(dir, name+suffix); isFile(candidate) {
			return candidate
		}
	}

	return ""
}

// SetFFmpegPath overrides the ffmpeg location if the file exists
func (l *Locator) SetFFmpegPath(path string) bool {
	if !isFile(path) {
		return false
	}
	l.mu.Lock()
	l.ffmpegPath = path
	l.mu.Unlock()
	return true
}

// SetFFprobePath overrides the ffprobe location if the file exists
func (l *Locator) SetFFprobePath(path string) bool {
	if !isFile(path) {
		return false
	}
	l.mu.Lock()
	l.ffprobePath = path
	l.mu.Unlock()
	return true
}

func (l *Locator) FFmpegPath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ffmpegPath
}

func (l *Locator) FFprobePath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ffprobePath
}

// FFmpegAvailable reflects file existence only
func (l *Locator) FFmpegAvailable() bool { return l.FFmpegPath() != "" }

// FFprobeAvailable reflects file existence only
func (l *Locator) FFprobeAvailable() bool { return l.FFprobePath() != "" }

// FFmpegVersion returns the first line of `ffmpeg -version`, or "" on any failure
func (l *Locator) FFmpegVersion(ctx context.Context) string {
	return version(ctx, l.FFmpegPath())
}

// FFprobeVersion returns the first line of `ffprobe -version`, or "" on any failure
func (l *Locator) FFprobeVersion(ctx context.Context) string {
	return version(ctx, l.FFprobePath())
}

func version(ctx context.Context, path string) string {
	if path == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return ""
	}

	sc := bufio.NewScanner(bytes.NewReader(out))
	if sc.Scan() {
		return strings.TrimSpace(sc.Text())
	}
	return ""
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
