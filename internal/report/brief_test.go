package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToleratesModelFormatting(t *testing.T) {
	t.Parallel()

	raw := "```markdown\n" +
		"# Chip export rules tighten\n\n" +
		"### what happened\n* one\n* two\n* three\n\n" +
		"**What Changed**\n\n" +
		"## Risks and Watch-outs\n1) first\n2) second\n\n" +
		"## Appendix\n- ignored\n" +
		"```"

	brief := Parse(raw)
	assert.Equal(t, "Chip export rules tighten", brief.Headline)
	require.NotNil(t, brief.Section(SectionWhatHappened))
	assert.Equal(t, []string{"one", "two", "three"}, brief.Section(SectionWhatHappened).Bullets)
	assert.Equal(t, []string{"first", "second"}, brief.Section(SectionRisks).Bullets)
	assert.Nil(t, brief.Section("Appendix"))
}

func TestNormalizeRebuildsSources(t *testing.T) {
	t.Parallel()

	published := time.Date(2026, time.October, 12, 9, 0, 0, 0, time.UTC)
	raw := "# Headline\n\n## What Happened\n- a\n- b\n- c\n\n## Sources\n1. made up link\n"
	md := Normalize(raw, []SourceRef{
		{Title: "Real [title]", URL: "https://news.example/x", SourceName: "News", PublishedAt: &published},
	})

	assert.Contains(t, md, "1. [Real (title)](https://news.example/x) - News (2026-10-12)")
	assert.NotContains(t, md, "made up link")
}

func TestNormalizeKeepsUnstructuredText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "just a paragraph", Normalize("  just a paragraph \n", nil))
}
