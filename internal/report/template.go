package report

import (
	"fmt"
	"strings"
	"time"
)

// NoCoverageHeadline opens the report produced when no evidence survived.
const NoCoverageHeadline = "No Coverage Available"

const maxTemplateHappened = 6

// NoCoverage builds the fixed report used when a job has zero usable sources.
func NoCoverage(topic string, now time.Time) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = "this topic"
	}
	brief := &Brief{
		Headline: fmt.Sprintf("%s: %s", NoCoverageHeadline, topic),
		Sections: map[string]*Section{
			SectionWhatHappened: {Bullets: []string{
				fmt.Sprintf("No recent documents about %s were found in the period ending %s.", topic, now.UTC().Format("January 2, 2006")),
				"Candidate documents were either missing, blocked, or behind a paywall.",
				"No claims are made in this report because there is no evidence to support them.",
			}},
			SectionWhatChanged: {Text: []string{NoChangeSentence}},
			SectionWhyItMatters: {Bullets: []string{
				"A quiet period can mean the topic is stable or that coverage moved to other outlets.",
				"Decisions that depend on this topic should rely on the most recent earlier brief.",
				"Gaps in coverage are worth noting before acting on older information.",
			}},
			SectionRisks: {Bullets: []string{
				"Developments may have happened in sources that could not be read.",
				"Older conclusions may be out of date.",
			}},
			SectionActionPrompts: {Bullets: []string{
				"Check whether the topic keywords still match how the subject is discussed.",
				"Consider adding sources that publish regularly on this topic.",
				"Review the next brief for any delayed coverage.",
			}},
			SectionSources: {Text: []string{"No sources were available."}},
		},
	}
	return Render(brief, nil)
}

// Template builds a brief purely from source titles and links. It never fails.
func Template(topic string, sources []SourceRef, now time.Time) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = "Research"
	}
	if len(sources) == 0 {
		return NoCoverage(topic, now)
	}

	happened := make([]string, 0, maxTemplateHappened)
	for _, src := range sources {
		if len(happened) == maxTemplateHappened {
			break
		}
		title := strings.TrimSpace(src.Title)
		if title == "" {
			title = src.URL
		}
		if name := strings.TrimSpace(src.SourceName); name != "" {
			happened = append(happened, fmt.Sprintf("%s reported: %s", name, title))
			continue
		}
		happened = append(happened, fmt.Sprintf("Coverage: %s", title))
	}
	for len(happened) < 3 {
		happened = append(happened, fmt.Sprintf("Only %d source(s) could be read for this period.", len(sources)))
		if len(happened) < 3 {
			happened = append(happened, "Read the linked sources below for the full details.")
		}
	}

	brief := &Brief{
		Headline: fmt.Sprintf("%s: research brief for %s", topic, now.UTC().Format("January 2, 2006")),
		Sections: map[string]*Section{
			SectionWhatHappened: {Bullets: happened},
			SectionWhatChanged:  {Text: []string{NoChangeSentence}},
			SectionWhyItMatters: {Bullets: []string{
				"The linked coverage is the most recent material found on this topic.",
				"Headlines alone can hide important qualifications in the full text.",
				"Tracking the same sources over time shows which stories persist.",
			}},
			SectionRisks: {Bullets: []string{
				"This brief lists headlines without an automated summary.",
				"Some relevant sources may have been unreadable or paywalled.",
			}},
			SectionActionPrompts: {Bullets: []string{
				"Open the two or three sources closest to your current work.",
				"Note any claim that would change a decision you are about to make.",
				"Flag topics where you need a deeper follow-up.",
			}},
		},
	}
	return Render(brief, sources)
}
