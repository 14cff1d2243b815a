package usecase

import (
	"fmt"
	"strings"
	"time"

	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/infrastructure/parser"
)

const briefSystemPrompt = `You write concise research briefs for busy professionals.
Use only facts found in the numbered sources. Do not invent names, numbers or dates.
Return markdown with exactly this structure and nothing else:

# <one-line headline>

## What Happened
3 to 6 bullets, each a concrete development with the source number in brackets, e.g. [2].

## What Changed
2 to 4 bullets comparing with the previous state of affairs, or the single sentence
"No meaningful change identified." when nothing changed.

## Why It Matters
Exactly 3 bullets.

## Risks / Watch-outs
2 to 4 bullets.

## Action Prompts
Exactly 3 bullets, each starting with a verb.

## Sources
A numbered list of the sources you used.

Plain, factual tone. No exclamation marks, no marketing language, no filler.`

const strictSuffix = `

Your previous answer was rejected. Follow the structure exactly, respect every
bullet count, mention only people, organisations and places that appear in the
sources, and avoid phrases like "in today's fast-paced world" or "game changer".`

const mapSystemPrompt = `You summarise one source document for a research analyst.
Write 3 to 5 factual sentences using only information from the document.
Keep names, figures and dates exactly as written. No opinions, no filler.`

func directPrompt(topic string, sources []domain.Source, excerptChars int, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\nDate: %s\n\nSources:\n", topic, now.Format("January 2, 2006"))
	for i, src := range sources {
		writeSourceHeader(&sb, i+1, src)
		sb.WriteString(parser.Truncate(src.ExtractedText, excerptChars))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Write the research brief for this topic.")
	return sb.String()
}

func mapPrompt(topic string, src domain.Source, excerptChars int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\n\n", topic)
	writeSourceHeader(&sb, 1, src)
	sb.WriteString(parser.Truncate(src.ExtractedText, excerptChars))
	return sb.String()
}

func reducePrompt(topic string, sources []domain.Source, summaries []string, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\nDate: %s\n\nSource summaries:\n", topic, now.Format("January 2, 2006"))
	for i, src := range sources {
		if strings.TrimSpace(summaries[i]) == "" {
			continue
		}
		writeSourceHeader(&sb, i+1, src)
		sb.WriteString(strings.TrimSpace(summaries[i]))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Write the research brief for this topic from these summaries.")
	return sb.String()
}

func writeSourceHeader(sb *strings.Builder, n int, src domain.Source) {
	title := strings.TrimSpace(src.Title)
	if title == "" {
		title = src.URL
	}
	fmt.Fprintf(sb, "[%d] %s", n, title)
	if name := strings.TrimSpace(src.SourceName); name != "" {
		fmt.Fprintf(sb, " (%s)", name)
	}
	fmt.Fprintf(sb, "\n%s\n", src.URL)
}
