package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ResearchBrief/internal/config"
	"ResearchBrief/internal/domain"
)

func TestRootCommandListsSubcommands(t *testing.T) {
	cmd := newRootCommand()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"migrate", "tick", "daemon", "step", "jobs", "show"} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestTickWhenDisabled(t *testing.T) {
	t.Setenv(config.ConfigPathEnv, "")
	t.Setenv("RESEARCH_ENABLED", "false")
	t.Setenv("DATABASE_DSN", filepath.Join(t.TempDir(), "research.db"))

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"tick"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "research is disabled")
}

func TestJobsOnEmptyDatabase(t *testing.T) {
	t.Setenv(config.ConfigPathEnv, "")
	t.Setenv("DATABASE_DSN", filepath.Join(t.TempDir(), "research.db"))

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"jobs"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "no jobs\n", out.String())
}

func TestRenderJobsTable(t *testing.T) {
	t.Parallel()

	table := renderJobs([]domain.Job{{
		ID: "j1", UserID: "u1", Period: "2026-W42", TopicID: "t1",
		Status: domain.StatusPartial, Attempt: 2, State: domain.JobState{Stage: domain.StageFetch},
		UpdatedAt: time.Date(2026, time.October, 17, 9, 0, 0, 0, time.UTC),
	}})
	for _, want := range []string{"ID", "j1", "2026-W42", "partial", "FETCH"} {
		assert.Contains(t, table, want)
	}
}

func TestRenderArtifact(t *testing.T) {
	t.Parallel()

	pending := renderArtifact(&domain.Artifact{JobID: "j1", Status: domain.StatusQueued, Stage: domain.StageDiscover}, false)
	assert.True(t, strings.HasSuffix(pending, "no report yet\n"))

	done := &domain.Artifact{
		JobID: "j1", Status: domain.StatusComplete, Stage: domain.StagePublish,
		Report: &domain.Report{Subject: "Chips research brief", Markdown: "# Chips\n", HTML: "<h1>Chips</h1>"},
	}
	assert.Contains(t, renderArtifact(done, false), "# Chips")
	assert.Contains(t, renderArtifact(done, true), "<h1>Chips</h1>")
}
