package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// StateVersion is bumped whenever the persisted state document changes shape.
const StateVersion = 1

// Stage is the position of a job inside the research state machine.
type Stage string

const (
	StageDiscover   Stage = "DISCOVER"
	StageFetch      Stage = "FETCH"
	StageSynthesize Stage = "SYNTHESIZE"
	StagePublish    Stage = "PUBLISH"
)

var stageRank = map[Stage]int{
	StageDiscover:   0,
	StageFetch:      1,
	StageSynthesize: 2,
	StagePublish:    3,
}

// Rank orders stages; unknown stages rank -1.
func (s Stage) Rank() int {
	if r, ok := stageRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether the stage is one of the four known stages.
func (s Stage) Valid() bool {
	return s.Rank() >= 0
}

// Strategy names a synthesis strategy.
type Strategy string

const (
	StrategyDirect    Strategy = "direct"
	StrategyMapReduce Strategy = "map_reduce"
	StrategyTemplate  Strategy = "template"
)

// DiscoveryState caches the selected candidate list.
type DiscoveryState struct {
	URLs         []string  `json:"urls"`
	DiscoveredAt time.Time `json:"discoveredAt"`
}

// FetchState holds evidence-extraction counters and the cursor into the candidate list.
type FetchState struct {
	Attempted int `json:"attempted"`
	OK        int `json:"ok"`
	Paywalled int `json:"paywalled"`
	Blocked   int `json:"blocked"`
	NextIndex int `json:"nextIndex"`
}

// SynthesisState records the chosen strategy and the draft report.
type SynthesisState struct {
	Strategy         Strategy `json:"strategy"`
	Retries          int      `json:"retries"`
	PartialMarkdown  string   `json:"partialMarkdown,omitempty"`
	Valid            bool     `json:"valid"`
	ValidationErrors []string `json:"validationErrors,omitempty"`
}

// PublishState records the publish outcome.
type PublishState struct {
	ReportID      string    `json:"reportId"`
	Delivered     bool      `json:"delivered"`
	DeliveryError string    `json:"deliveryError,omitempty"`
	PublishedAt   time.Time `json:"publishedAt"`
}

// JobState is the only document that survives between invocations. Each stage
// owns one progress block; the transition methods below are the only way to
// move between stages so a state never carries fields its stage cannot have.
type JobState struct {
	Version   int             `json:"version"`
	Stage     Stage           `json:"stage"`
	Partial   bool            `json:"partial,omitempty"`
	Discovery *DiscoveryState `json:"discovery,omitempty"`
	Fetch     *FetchState     `json:"fetch,omitempty"`
	Synthesis *SynthesisState `json:"synthesis,omitempty"`
	Publish   *PublishState   `json:"publish,omitempty"`
}

// NewJobState returns the initial DISCOVER state.
func NewJobState() JobState {
	return JobState{Version: StateVersion, Stage: StageDiscover}
}

// ToFetch moves a DISCOVER state into FETCH with zeroed counters.
func (s *JobState) ToFetch(urls []string, at time.Time) error {
	if err := s.advance(StageFetch); err != nil {
		return err
	}
	s.Discovery = &DiscoveryState{URLs: append([]string(nil), urls...), DiscoveredAt: at.UTC()}
	s.Fetch = &FetchState{}
	return nil
}

// ToSynthesize moves the state into SYNTHESIZE with the given starting strategy.
func (s *JobState) ToSynthesize(strategy Strategy) error {
	if err := s.advance(StageSynthesize); err != nil {
		return err
	}
	s.Synthesis = &SynthesisState{Strategy: strategy}
	return nil
}

// ToPublish moves the state into PUBLISH carrying the accepted draft.
func (s *JobState) ToPublish(draft SynthesisState) error {
	if err := s.advance(StagePublish); err != nil {
		return err
	}
	s.Synthesis = &draft
	return nil
}

// ForcePublish jumps to PUBLISH from any stage; used only by the abort path.
// An existing draft is kept; otherwise a template strategy marker is recorded.
func (s *JobState) ForcePublish() {
	s.Stage = StagePublish
	s.Partial = true
	if s.Synthesis == nil {
		s.Synthesis = &SynthesisState{Strategy: StrategyTemplate}
	}
	if s.Synthesis.Strategy == "" {
		s.Synthesis.Strategy = StrategyTemplate
	}
}

// Reset returns the state to DISCOVER, dropping all progress.
func (s *JobState) Reset() {
	partial := s.Partial
	*s = NewJobState()
	s.Partial = partial
}

func (s *JobState) advance(to Stage) error {
	if !to.Valid() {
		return fmt.Errorf("unknown stage %q", to)
	}
	if s.Stage.Valid() && to.Rank() < s.Stage.Rank() {
		return fmt.Errorf("stage regression %s -> %s", s.Stage, to)
	}
	s.Stage = to
	if s.Version == 0 {
		s.Version = StateVersion
	}
	return nil
}

// Validate checks that the progress blocks required by the current stage exist.
func (s JobState) Validate() error {
	switch s.Stage {
	case StageDiscover:
		return nil
	case StageFetch:
		if s.Discovery == nil || s.Fetch == nil {
			return fmt.Errorf("fetch state requires discovery and fetch progress")
		}
	case StageSynthesize:
		if s.Synthesis == nil {
			return fmt.Errorf("synthesize state requires synthesis progress")
		}
	case StagePublish:
		if s.Synthesis == nil {
			return fmt.Errorf("publish state requires synthesis progress")
		}
	default:
		return fmt.Errorf("unknown stage %q", s.Stage)
	}
	return nil
}

// MarshalState encodes the state document for storage.
func MarshalState(s JobState) (string, error) {
	if s.Version == 0 {
		s.Version = StateVersion
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal job state: %w", err)
	}
	return string(raw), nil
}

// UnmarshalState decodes a stored state document. An empty document is the
// initial DISCOVER state.
func UnmarshalState(raw string) (JobState, error) {
	if raw == "" {
		return NewJobState(), nil
	}
	var s JobState
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return JobState{}, fmt.Errorf("unmarshal job state: %w", err)
	}
	return s, nil
}
