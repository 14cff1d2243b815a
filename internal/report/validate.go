package report

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxExclamations      = 1
	maxFillerRatio       = 0.2
	maxUngroundedRatio   = 0.3
	minFillerSentenceLen = 10
	minEntityRunLength   = 2
)

// BannedPhrases are filler phrases a brief must not contain.
var BannedPhrases = []string{
	"paradigm shift",
	"game changer",
	"game-changer",
	"in today's fast-paced",
	"fast-paced world",
	"it is important to note",
	"it's important to note",
	"cutting-edge",
	"revolutionize",
	"groundbreaking",
	"unprecedented",
	"synergy",
	"synergies",
	"delve",
	"ever-evolving",
	"in conclusion",
	"at the end of the day",
	"best-in-class",
	"world-class",
	"seismic shift",
	"stay tuned",
	"unlock the potential",
	"a testament to",
	"needle-moving",
	"move the needle",
}

var acronymStopwords = map[string]struct{}{
	"AM": {}, "PM": {}, "US": {}, "UK": {}, "EU": {}, "UN": {}, "OK": {}, "TV": {},
	"CEO": {}, "CFO": {}, "CTO": {}, "COO": {}, "FAQ": {}, "USD": {}, "EUR": {},
	"GBP": {}, "GDP": {}, "ET": {}, "PT": {}, "UTC": {}, "THE": {}, "AND": {}, "NEW": {},
}

var (
	acronymExpr      = regexp.MustCompile(`\b[A-Z]{2,6}\b`)
	sentenceSplitter = regexp.MustCompile(`[.!?]+\s+|\n+`)
	markdownLink     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
)

// Result is the validator verdict.
type Result struct {
	Valid  bool
	Errors []string
}

// Validate runs every structural, filler and grounding check against a
// markdown brief. All checks run independently and each failure adds one error.
func Validate(markdown string, sourceTexts []string) Result {
	var errs []string
	brief := Parse(markdown)

	errs = append(errs, checkStructure(brief)...)

	lower := strings.ToLower(markdown)
	for _, phrase := range BannedPhrases {
		if strings.Contains(lower, phrase) {
			errs = append(errs, fmt.Sprintf("banned phrase %q", phrase))
		}
	}

	if n := strings.Count(markdown, "!"); n > maxExclamations {
		errs = append(errs, fmt.Sprintf("too many exclamation marks: %d", n))
	}

	if ratio := fillerRatio(markdown); ratio > maxFillerRatio {
		errs = append(errs, fmt.Sprintf("filler sentence ratio %.2f exceeds %.2f", ratio, maxFillerRatio))
	}

	if len(sourceTexts) > 0 {
		entities := ExtractEntities(brief)
		if len(entities) > 0 {
			corpus := strings.ToLower(strings.Join(sourceTexts, "\n"))
			var missing []string
			for _, entity := range entities {
				if !strings.Contains(corpus, strings.ToLower(entity)) {
					missing = append(missing, entity)
				}
			}
			ratio := float64(len(missing)) / float64(len(entities))
			if ratio > maxUngroundedRatio {
				errs = append(errs, fmt.Sprintf("ungrounded entities %.2f exceeds %.2f: %s",
					ratio, maxUngroundedRatio, strings.Join(missing, ", ")))
			}
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

func checkStructure(brief *Brief) []string {
	var errs []string
	if strings.TrimSpace(brief.Headline) == "" {
		errs = append(errs, "missing headline")
	}
	for _, name := range SectionOrder {
		sec := brief.Section(name)
		if sec.Empty() {
			errs = append(errs, fmt.Sprintf("missing section %q", name))
			continue
		}
		if name == SectionWhatChanged && brief.ChangedFallback() {
			continue
		}
		bounds := SectionBounds[name]
		n := len(sec.Bullets)
		if n < bounds.Min || n > bounds.Max {
			if bounds.Min == bounds.Max {
				errs = append(errs, fmt.Sprintf("section %q needs exactly %d bullets, got %d", name, bounds.Min, n))
			} else {
				errs = append(errs, fmt.Sprintf("section %q needs %d-%d bullets, got %d", name, bounds.Min, bounds.Max, n))
			}
		}
	}
	return errs
}

func fillerRatio(markdown string) float64 {
	var total, filler int
	for _, sentence := range sentenceSplitter.Split(markdown, -1) {
		sentence = strings.TrimSpace(sentence)
		if utf8.RuneCountInString(sentence) <= minFillerSentenceLen {
			continue
		}
		total++
		lower := strings.ToLower(sentence)
		for _, phrase := range BannedPhrases {
			if strings.Contains(lower, phrase) {
				filler++
				break
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(filler) / float64(total)
}

// ExtractEntities returns probable named entities from the content sections of
// a brief: capitalized multi-word runs that do not open a sentence, and short
// all-caps acronyms outside a stopword set. Headline and Sources are excluded.
func ExtractEntities(brief *Brief) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(entity string) {
		key := strings.ToLower(entity)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, entity)
	}

	for _, name := range SectionOrder {
		if name == SectionSources {
			continue
		}
		sec := brief.Section(name)
		if sec.Empty() {
			continue
		}
		for _, line := range append(append([]string(nil), sec.Text...), sec.Bullets...) {
			line = markdownLink.ReplaceAllString(line, "$1")
			line = strings.NewReplacer("**", "", "__", "", "`", "").Replace(line)
			for _, sentence := range sentenceSplitter.Split(line, -1) {
				for _, run := range capitalizedRuns(sentence) {
					add(run)
				}
			}
			for _, acronym := range acronymExpr.FindAllString(line, -1) {
				if _, stop := acronymStopwords[acronym]; stop {
					continue
				}
				add(acronym)
			}
		}
	}
	return out
}

func capitalizedRuns(sentence string) []string {
	words := strings.Fields(sentence)
	var (
		runs []string
		run  []string
	)
	flush := func() {
		if len(run) >= minEntityRunLength {
			runs = append(runs, strings.Join(run, " "))
		}
		run = nil
	}
	for i, raw := range words {
		if i == 0 {
			continue
		}
		word := strings.TrimFunc(raw, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if isCapitalized(word) {
			run = append(run, word)
			if endsClause(raw) {
				flush()
			}
			continue
		}
		flush()
	}
	flush()
	return runs
}

func isCapitalized(word string) bool {
	if utf8.RuneCountInString(word) < 2 {
		return false
	}
	first, _ := utf8.DecodeRuneInString(word)
	if !unicode.IsUpper(first) {
		return false
	}
	for _, r := range word {
		if unicode.IsLower(r) {
			return true
		}
	}
	return false
}

func endsClause(raw string) bool {
	last, _ := utf8.DecodeLastRuneInString(raw)
	return strings.ContainsRune(",;:)\"'", last)
}
