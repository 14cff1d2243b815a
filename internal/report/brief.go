// Package report holds the structured research brief: its canonical markdown
// form, the grounding and anti-filler validator, and the deterministic
// fallback reports that never need a model call.
package report

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Section names in required order.
const (
	SectionWhatHappened  = "What Happened"
	SectionWhatChanged   = "What Changed"
	SectionWhyItMatters  = "Why It Matters"
	SectionRisks         = "Risks / Watch-outs"
	SectionActionPrompts = "Action Prompts"
	SectionSources       = "Sources"
)

// NoChangeSentence is the only non-bullet content allowed in "What Changed".
const NoChangeSentence = "No meaningful change identified."

// SectionOrder lists every required section after the headline.
var SectionOrder = []string{
	SectionWhatHappened,
	SectionWhatChanged,
	SectionWhyItMatters,
	SectionRisks,
	SectionActionPrompts,
	SectionSources,
}

// Bounds is the inclusive bullet-count range of a section.
type Bounds struct{ Min, Max int }

// SectionBounds are the bullet-count rules; Sources only needs one entry.
var SectionBounds = map[string]Bounds{
	SectionWhatHappened:  {3, 6},
	SectionWhatChanged:   {2, 4},
	SectionWhyItMatters:  {3, 3},
	SectionRisks:         {2, 4},
	SectionActionPrompts: {3, 3},
	SectionSources:       {1, 1 << 16},
}

var (
	bulletPrefix   = regexp.MustCompile(`^(?:[-*•+]|\d+[.)])\s+`)
	headingPrefix  = regexp.MustCompile(`^(#{1,6})\s+`)
	codeFenceLine  = regexp.MustCompile("^```")
	sectionAliases = func() map[string]string {
		m := make(map[string]string, len(SectionOrder)+2)
		for _, name := range SectionOrder {
			m[normalizeHeading(name)] = name
		}
		m[normalizeHeading("Risks and Watch-outs")] = SectionRisks
		m[normalizeHeading("Risks")] = SectionRisks
		return m
	}()
)

// Section is one parsed section of a brief.
type Section struct {
	Name    string
	Bullets []string
	Text    []string
}

// Empty reports whether the section has no content at all.
func (s *Section) Empty() bool {
	return s == nil || (len(s.Bullets) == 0 && len(s.Text) == 0)
}

// Brief is a parsed research brief.
type Brief struct {
	Headline string
	Sections map[string]*Section
}

// Section returns the named section or nil.
func (b *Brief) Section(name string) *Section {
	if b == nil || b.Sections == nil {
		return nil
	}
	return b.Sections[name]
}

// ChangedFallback reports whether "What Changed" holds only the fixed sentence.
func (b *Brief) ChangedFallback() bool {
	sec := b.Section(SectionWhatChanged)
	if sec.Empty() {
		return false
	}
	lines := append(append([]string(nil), sec.Text...), sec.Bullets...)
	if len(lines) != 1 {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(lines[0]), NoChangeSentence)
}

// Parse reads markdown into a brief. Unknown sections are dropped; the first
// level-one heading (or the first non-empty line before any section) is the headline.
func Parse(markdown string) *Brief {
	brief := &Brief{Sections: map[string]*Section{}}
	var current *Section
	skipping := false

	for _, raw := range strings.Split(StripCodeFence(markdown), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if m := headingPrefix.FindStringSubmatch(line); m != nil {
			title := strings.TrimSpace(line[len(m[0]):])
			if name, ok := sectionAliases[normalizeHeading(title)]; ok {
				current = &Section{Name: name}
				brief.Sections[name] = current
				skipping = false
				continue
			}
			if len(m[1]) == 1 && brief.Headline == "" && current == nil {
				brief.Headline = title
				continue
			}
			current = nil
			skipping = true
			continue
		}
		if current == nil {
			if brief.Headline == "" && !skipping {
				brief.Headline = strings.TrimSpace(strings.TrimLeft(line, "*_"))
				brief.Headline = strings.TrimSpace(strings.TrimRight(brief.Headline, "*_"))
			}
			continue
		}
		if loc := bulletPrefix.FindStringIndex(line); loc != nil {
			item := strings.TrimSpace(line[loc[1]:])
			if item != "" {
				current.Bullets = append(current.Bullets, item)
			}
			continue
		}
		current.Text = append(current.Text, line)
	}
	return brief
}

// SourceRef is one entry of the rebuilt "Sources" list.
type SourceRef struct {
	Title       string
	URL         string
	SourceName  string
	PublishedAt *time.Time
}

// Render writes the brief in canonical form. When sources is non-nil the
// "Sources" section is rebuilt from it instead of the parsed content.
func Render(b *Brief, sources []SourceRef) string {
	var sb strings.Builder
	headline := strings.TrimSpace(b.Headline)
	if headline != "" {
		fmt.Fprintf(&sb, "# %s\n", headline)
	}
	for _, name := range SectionOrder {
		if name == SectionSources && sources != nil {
			sb.WriteString("\n## " + SectionSources + "\n")
			sb.WriteString(RenderSources(sources))
			continue
		}
		sec := b.Section(name)
		if sec.Empty() {
			continue
		}
		sb.WriteString("\n## " + name + "\n")
		if name == SectionWhatChanged && b.ChangedFallback() {
			sb.WriteString(NoChangeSentence + "\n")
			continue
		}
		for _, line := range sec.Text {
			sb.WriteString(line + "\n")
		}
		for i, bullet := range sec.Bullets {
			if name == SectionSources {
				fmt.Fprintf(&sb, "%d. %s\n", i+1, bullet)
				continue
			}
			sb.WriteString("- " + bullet + "\n")
		}
	}
	return strings.TrimSpace(sb.String()) + "\n"
}

// RenderSources writes the numbered list of title/link pairs.
func RenderSources(sources []SourceRef) string {
	var sb strings.Builder
	for i, src := range sources {
		title := strings.TrimSpace(src.Title)
		if title == "" {
			title = src.URL
		}
		title = strings.NewReplacer("[", "(", "]", ")").Replace(title)
		fmt.Fprintf(&sb, "%d. [%s](%s)", i+1, title, src.URL)
		if name := strings.TrimSpace(src.SourceName); name != "" {
			fmt.Fprintf(&sb, " - %s", name)
		}
		if src.PublishedAt != nil && !src.PublishedAt.IsZero() {
			fmt.Fprintf(&sb, " (%s)", src.PublishedAt.UTC().Format("2006-01-02"))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Normalize parses model output and re-renders it canonically with the given sources.
// Output with no recognizable structure is returned trimmed so validation can reject it.
func Normalize(markdown string, sources []SourceRef) string {
	brief := Parse(markdown)
	if len(brief.Sections) == 0 {
		return strings.TrimSpace(StripCodeFence(markdown))
	}
	return Render(brief, sources)
}

// StripCodeFence removes a wrapping ``` fence that models like to add.
func StripCodeFence(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) >= 2 && codeFenceLine.MatchString(strings.TrimSpace(lines[0])) &&
		codeFenceLine.MatchString(strings.TrimSpace(lines[len(lines)-1])) {
		lines = lines[1 : len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

func normalizeHeading(title string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
