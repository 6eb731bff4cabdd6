package server

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	lenserrors "github.com/loclens/loclens/internal/errors"
	"github.com/loclens/loclens/internal/media"
)

// vlcCandidates and iinaCandidates are checked before PATH lookup so the
// common app-bundle installs work without shell configuration.
var vlcCandidates = []string{
	"/Applications/VLC.app/Contents/MacOS/VLC",
	"/opt/homebrew/bin/vlc",
	"/usr/local/bin/vlc",
}

var iinaCandidates = []string{
	"/Applications/IINA.app/Contents/MacOS/iina-cli",
	"/opt/homebrew/bin/iina",
	"/usr/local/bin/iina",
}

// Opener launches files in external applications. Audio and video files can
// be opened at a playback position when VLC or IINA is installed.
type Opener struct {
	// lookPath, run and start are swappable for tests.
	lookPath func(file string) (string, error)
	run      func(name string, args ...string) error
	start    func(name string, args ...string) error
}

// NewOpener creates an opener using the host's applications.
func NewOpener() *Opener {
	return &Opener{
		lookPath: exec.LookPath,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
		start: func(name string, args ...string) error {
			cmd := exec.Command(name, args...)
			cmd.Stdout = nil
			cmd.Stderr = nil
			return cmd.Start()
		},
	}
}

// OpenFile opens a file with its default application. For audio and video a
// non-nil startTime opens the file at that playback position via VLC or
// IINA, degrading to a plain open when neither is installed.
func (o *Opener) OpenFile(path string, startTime *float64) error {
	if _, err := os.Stat(path); err != nil {
		return lenserrors.FileError("file not found: "+path, err)
	}

	if startTime != nil && media.IsMediaFile(path) {
		if o.openWithPlayer(path, *startTime) {
			return nil
		}
		slog.Warn("VLC or IINA not found, opening without timestamp",
			slog.String("path", path))
	}

	return o.openDefault(path)
}

func (o *Opener) openDefault(path string) error {
	if err := o.run(defaultOpenCommand(), path); err != nil {
		return lenserrors.New(lenserrors.ErrCodeToolNotFound,
			"failed to open file: "+path, err)
	}
	slog.Info("opened file", slog.String("path", path))
	return nil
}

func (o *Opener) openWithPlayer(path string, startTime float64) bool {
	if player := o.findPlayer(vlcCandidates, "vlc"); player != "" {
		if err := o.start(player, fmt.Sprintf("--start-time=%g", startTime), path); err == nil {
			slog.Info("opened with VLC",
				slog.String("path", path),
				slog.Float64("start_time", startTime))
			return true
		}
	}
	if player := o.findPlayer(iinaCandidates, "iina"); player != "" {
		if err := o.start(player, fmt.Sprintf("--mpv-start=%g", startTime), path); err == nil {
			slog.Info("opened with IINA",
				slog.String("path", path),
				slog.Float64("start_time", startTime))
			return true
		}
	}
	return false
}

func (o *Opener) findPlayer(candidates []string, binary string) string {
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if path, err := o.lookPath(binary); err == nil {
		return path
	}
	return ""
}

// RevealFile shows the file in the system file manager. On macOS this
// selects the file in Finder; elsewhere the containing directory is opened.
func (o *Opener) RevealFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return lenserrors.FileError("file not found: "+path, err)
	}

	var err error
	if runtime.GOOS == "darwin" {
		err = o.run("open", "-R", path)
	} else {
		err = o.run(defaultOpenCommand(), filepath.Dir(path))
	}
	if err != nil {
		return lenserrors.New(lenserrors.ErrCodeToolNotFound,
			"failed to reveal file: "+path, err)
	}
	slog.Info("revealed file", slog.String("path", path))
	return nil
}

func defaultOpenCommand() string {
	if runtime.GOOS == "darwin" {
		return "open"
	}
	return "xdg-open"
}
