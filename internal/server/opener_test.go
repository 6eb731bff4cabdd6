package server

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

func TestOpenFile_DefaultApplication(t *testing.T) {
	var commands []recordedCommand
	opener := recordingOpener(&commands)
	path := writeTempFile(t, "notes.txt")

	require.NoError(t, opener.OpenFile(path, nil))

	require.Len(t, commands, 1)
	assert.Equal(t, defaultOpenCommand(), commands[0].name)
	assert.Equal(t, []string{path}, commands[0].args)
}

func TestOpenFile_MissingFile(t *testing.T) {
	var commands []recordedCommand
	opener := recordingOpener(&commands)

	err := opener.OpenFile("/no/such/file.txt", nil)
	require.Error(t, err)
	assert.Empty(t, commands)
}

func TestOpenFile_VideoWithStartTime_UsesVLC(t *testing.T) {
	var commands []recordedCommand
	opener := recordingOpener(&commands)
	opener.lookPath = func(file string) (string, error) {
		if file == "vlc" {
			return "/usr/bin/vlc", nil
		}
		return "", fmt.Errorf("not installed")
	}
	path := writeTempFile(t, "talk.mp4")

	start := 12.5
	require.NoError(t, opener.OpenFile(path, &start))

	require.Len(t, commands, 1)
	assert.Equal(t, "/usr/bin/vlc", commands[0].name)
	assert.Equal(t, []string{"--start-time=12.5", path}, commands[0].args)
}

func TestOpenFile_VideoWithStartTime_FallsBackToIINA(t *testing.T) {
	var commands []recordedCommand
	opener := recordingOpener(&commands)
	opener.lookPath = func(file string) (string, error) {
		if file == "iina" {
			return "/usr/bin/iina", nil
		}
		return "", fmt.Errorf("not installed")
	}
	path := writeTempFile(t, "talk.mp4")

	start := 90.0
	require.NoError(t, opener.OpenFile(path, &start))

	require.Len(t, commands, 1)
	assert.Equal(t, "/usr/bin/iina", commands[0].name)
	assert.Equal(t, []string{"--mpv-start=90", path}, commands[0].args)
}

func TestOpenFile_VideoWithStartTime_NoPlayerInstalled(t *testing.T) {
	var commands []recordedCommand
	opener := recordingOpener(&commands)
	path := writeTempFile(t, "talk.mp4")

	start := 5.0
	require.NoError(t, opener.OpenFile(path, &start))

	// Degrades to a plain open without the timestamp.
	require.Len(t, commands, 1)
	assert.Equal(t, defaultOpenCommand(), commands[0].name)
	assert.Equal(t, []string{path}, commands[0].args)
}

func TestOpenFile_StartTimeIgnoredForDocuments(t *testing.T) {
	var commands []recordedCommand
	opener := recordingOpener(&commands)
	path := writeTempFile(t, "notes.txt")

	start := 30.0
	require.NoError(t, opener.OpenFile(path, &start))

	require.Len(t, commands, 1)
	assert.Equal(t, defaultOpenCommand(), commands[0].name)
}

func TestRevealFile(t *testing.T) {
	var commands []recordedCommand
	opener := recordingOpener(&commands)
	path := writeTempFile(t, "notes.txt")

	require.NoError(t, opener.RevealFile(path))

	require.Len(t, commands, 1)
	if runtime.GOOS == "darwin" {
		assert.Equal(t, []string{"-R", path}, commands[0].args)
	} else {
		assert.Equal(t, []string{filepath.Dir(path)}, commands[0].args)
	}
}

func TestRevealFile_MissingFile(t *testing.T) {
	var commands []recordedCommand
	opener := recordingOpener(&commands)

	require.Error(t, opener.RevealFile("/no/such/file.txt"))
	assert.Empty(t, commands)
}
