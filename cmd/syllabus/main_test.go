package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/syllabus/config"
	"github.com/poiesic/syllabus/core"
)

// runApp runs the CLI against a fresh on-disk database and returns stdout.
func runApp(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &bytes.Buffer{}
	err := app.Run(append([]string{"syllabus", "--config", cfgPath, "--log-level", "error"}, args...))
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(dir, "db")
	path := filepath.Join(dir, "syllabus.yaml")
	require.NoError(t, config.Save(path, cfg))
	return path
}

func findCommand(t *testing.T, cmds []*cli.Command, path ...string) *cli.Command {
	t.Helper()
	for _, cmd := range cmds {
		if cmd.Name != path[0] {
			continue
		}
		if len(path) == 1 {
			return cmd
		}
		return findCommand(t, cmd.Subcommands, path[1:]...)
	}
	t.Fatalf("command %v not found", path)
	return nil
}

func TestCommandFlags(t *testing.T) {
	app := newApp()

	t.Run("owner is required for search", func(t *testing.T) {
		cmd := findCommand(t, app.Commands, "search")
		for _, flag := range cmd.Flags {
			if f, ok := flag.(*cli.StringFlag); ok && f.Name == "owner" {
				assert.True(t, f.Required)
				assert.Equal(t, []string{"SYLLABUS_USER"}, f.EnvVars)
				return
			}
		}
		t.Fatal("owner flag missing")
	})

	t.Run("owner is optional for books", func(t *testing.T) {
		cmd := findCommand(t, app.Commands, "books")
		for _, flag := range cmd.Flags {
			if f, ok := flag.(*cli.StringFlag); ok && f.Name == "owner" {
				assert.False(t, f.Required)
				return
			}
		}
		t.Fatal("owner flag missing")
	})

	t.Run("review window defaults to last week", func(t *testing.T) {
		cmd := findCommand(t, app.Commands, "review")
		for _, flag := range cmd.Flags {
			if f, ok := flag.(*cli.StringFlag); ok && f.Name == "window" {
				assert.Equal(t, "last_7_days", f.Value)
				return
			}
		}
		t.Fatal("window flag missing")
	})

	t.Run("every job subcommand exists", func(t *testing.T) {
		for _, name := range []string{"submit", "status", "cancel", "worker"} {
			assert.NotNil(t, findCommand(t, app.Commands, "jobs", name))
		}
	})
}

func TestCommandValidation(t *testing.T) {
	cfgPath := writeConfig(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"search without owner", []string{"search", "--book", "b1", "cells"}, "owner"},
		{"search without query", []string{"search", "--owner", "t1", "--book", "b1"}, "expects 1 argument"},
		{"ingest without file", []string{"ingest"}, "expects 1 argument"},
		{"ingest missing file", []string{"ingest", "/nonexistent/book.json"}, "no such file"},
		{"jobs submit without task", []string{"jobs", "submit", "--owner", "t1", "--book", "b1"}, "task"},
		{"move without shard", []string{"shards", "move", "b1"}, "expects 2 argument"},
		{"artifacts delete without profile", []string{"artifacts", "delete", "a1"}, "profile"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, cfgPath, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProfileCommands(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := runApp(t, cfgPath, "profiles", "put", "--owner", "t1", "--id", "p1",
		"--name", "Period 3", "--grade", "7", "--book", "cells", "--book", "genetics", "--pedagogy", "inquiry-based")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved profile p1")

	out, err = runApp(t, cfgPath, "profiles", "get", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, `"OwnerUserID": "t1"`)
	assert.Contains(t, out, `"genetics"`)
	assert.Contains(t, out, `"inquiry-based"`)

	_, err = runApp(t, cfgPath, "profiles", "get", "missing")
	assert.Error(t, err)
}

func TestJobCommands(t *testing.T) {
	cfgPath := writeConfig(t)

	_, err := runApp(t, cfgPath, "jobs", "submit", "--owner", "t1", "--task", "essay", "--book", "b1")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidRequest)

	out, err := runApp(t, cfgPath, "jobs", "submit", "--owner", "t1", "--task", "quiz", "--book", "b1", "--topic", "cells")
	require.NoError(t, err)
	assert.Contains(t, out, `"Status": "QUEUED"`)

	_, err = runApp(t, cfgPath, "jobs", "status", "unknown-job")
	assert.Error(t, err)
}

func TestShardAndBookCommands(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := runApp(t, cfgPath, "shards", "load")
	require.NoError(t, err)
	assert.Contains(t, out, `"primary": 0`)

	out, err = runApp(t, cfgPath, "books", "--owner", "t1")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestReadBookFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"id": "cells", "title": "Cell Biology", "subject": "biology", "grade_level": 7,
		"sections": [{"ref": "u1", "title": "Structure", "level": 1}],
		"chunks": [{"section_ref": "u1", "text": "The membrane surrounds the cell.", "atom_type": "text"}]
	}`), 0o644))

	bf, err := readBookFile(path)
	require.NoError(t, err)

	req := bf.request(true)
	assert.Equal(t, core.ID("cells"), req.Book.ID)
	assert.Equal(t, 7, req.Book.GradeLevel)
	assert.True(t, req.Replace)
	require.Len(t, req.Sections, 1)
	require.Len(t, req.Chunks, 1)
	assert.Equal(t, "u1", req.Chunks[0].SectionRef)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = readBookFile(path)
	assert.Error(t, err)
}

func TestSetupLogger(t *testing.T) {
	app := func() *cli.App {
		return &cli.App{
			Name:   "test",
			Flags:  []cli.Flag{&cli.StringFlag{Name: "log-level", Aliases: []string{"l"}, Value: "info"}},
			Before: setupLogger,
			Action: func(c *cli.Context) error { return nil },
		}
	}

	for _, level := range []string{"debug", "info", "warn", "error", "DEBUG", "WaRn"} {
		t.Run(level, func(t *testing.T) {
			require.NoError(t, app().Run([]string{"test", "-l", level}))
		})
	}

	t.Run("invalid log level returns error", func(t *testing.T) {
		err := app().Run([]string{"test", "--log-level", "invalid"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})
}
