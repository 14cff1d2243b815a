package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"

	"ResearchBrief/internal/budget"
	"ResearchBrief/internal/config"
	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/stage"
)

// Discovery selects candidate sources for a job and attaches them.
type Discovery struct {
	deps   Deps
	cfg    config.ResearchConfig
	logger *slog.Logger
}

var _ stage.Runner = (*Discovery)(nil)

// NewDiscovery builds the DISCOVER stage runner.
func NewDiscovery(deps Deps, cfg config.ResearchConfig) *Discovery {
	return &Discovery{deps: deps, cfg: cfg, logger: deps.logger("discovery")}
}

func (d *Discovery) Stage() domain.Stage { return domain.StageDiscover }

// Run pulls recent candidates for the job topic, keeps the best ranked unique
// ones and moves the job to FETCH. With no candidates at all the job goes
// straight to SYNTHESIZE flagged partial.
func (d *Discovery) Run(ctx context.Context, job *domain.Job, _ budget.Guard) error {
	topic, err := d.deps.Directory.GetTopic(ctx, job.TopicID)
	if err != nil {
		return domain.Wrap(domain.ErrTransient, domain.StageDiscover, "load topic", job.TopicID, err)
	}
	if topic == nil {
		return domain.Wrap(domain.ErrConfiguration, domain.StageDiscover, "load topic", fmt.Sprintf("topic %s does not exist", job.TopicID), nil)
	}

	limit, err := d.sourceLimit(ctx, job.UserID)
	if err != nil {
		return err
	}

	now := d.deps.now()
	since := now.AddDate(0, 0, -d.lookbackDays())
	candidates, err := d.deps.Corpus.RecentCandidates(ctx, *topic, since)
	if err != nil {
		return domain.Wrap(domain.ErrTransient, domain.StageDiscover, "load candidates", topic.ID, err)
	}

	blocked, err := d.deps.Corpus.BlockedHostPatterns(ctx)
	if err != nil {
		return domain.Wrap(domain.ErrTransient, domain.StageDiscover, "load blocklist", "", err)
	}
	blocked = append(blocked, d.cfg.BlockedHosts...)

	selected, err := d.selectCandidates(ctx, candidates, blocked, limit)
	if err != nil {
		return err
	}

	if len(selected) == 0 {
		d.logger.Warn("no candidates found", "job_id", job.ID, "topic", topic.ID)
		if err := job.State.ToSynthesize(domain.StrategyTemplate); err != nil {
			return domain.Wrap(domain.ErrTransient, domain.StageDiscover, "transition", "", err)
		}
		job.MarkPartial()
		return rest(ctx, d.deps.Jobs, job, domain.StageDiscover)
	}

	rows := make([]domain.Source, 0, len(selected))
	urls := make([]string, 0, len(selected))
	for i, c := range selected {
		rows = append(rows, domain.Source{
			JobID:        job.ID,
			URL:          c.URL,
			Rank:         i + 1,
			Title:        c.Title,
			SourceName:   c.SourceName,
			PublishedAt:  c.PublishedAt,
			AccessStatus: domain.AccessUnknown,
		})
		urls = append(urls, c.URL)
	}
	inserted, err := d.deps.Sources.InsertSources(ctx, job.ID, rows)
	if err != nil {
		return domain.Wrap(domain.ErrTransient, domain.StageDiscover, "insert sources", "", err)
	}

	if err := job.State.ToFetch(urls, now); err != nil {
		return domain.Wrap(domain.ErrTransient, domain.StageDiscover, "transition", "", err)
	}
	d.logger.Info("candidates selected",
		"job_id", job.ID, "topic", topic.ID, "found", len(candidates), "selected", len(selected), "inserted", inserted)
	return rest(ctx, d.deps.Jobs, job, domain.StageDiscover)
}

func (d *Discovery) sourceLimit(ctx context.Context, userID string) (int, error) {
	lo, hi := d.cfg.MinSources, d.cfg.MaxSources
	if hi < lo {
		hi = lo
	}
	limit := d.cfg.DefaultSources
	user, err := d.deps.Directory.GetUser(ctx, userID)
	if err != nil {
		return 0, domain.Wrap(domain.ErrTransient, domain.StageDiscover, "load user", userID, err)
	}
	if user != nil && user.MaxSources > 0 {
		limit = user.MaxSources
	}
	if limit <= 0 {
		limit = lo
	}
	return clampInt(limit, lo, hi), nil
}

func (d *Discovery) lookbackDays() int {
	if d.cfg.LookbackDays > 0 {
		return d.cfg.LookbackDays
	}
	return 7
}

type rankedCandidate struct {
	domain.Candidate
	tier  int
	order int
}

// selectCandidates canonicalizes, deduplicates, filters and ranks candidates
// by quality tier, keeping the corpus order within a tier.
func (d *Discovery) selectCandidates(ctx context.Context, candidates []domain.Candidate, blocked []string, limit int) ([]domain.Candidate, error) {
	seen := make(map[string]struct{}, len(candidates))
	tiers := map[string]int{}
	ranked := make([]rankedCandidate, 0, len(candidates))

	for i, c := range candidates {
		canonical := CanonicalURL(c.URL)
		u, err := url.Parse(canonical)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		if hostBlocked(u.Hostname(), blocked) {
			continue
		}

		tier, ok := tiers[u.Host]
		if !ok {
			tier, err = d.deps.Corpus.SourceQualityTier(ctx, canonical)
			if err != nil {
				return nil, domain.Wrap(domain.ErrTransient, domain.StageDiscover, "quality tier", u.Host, err)
			}
			tiers[u.Host] = tier
		}

		c.URL = canonical
		ranked = append(ranked, rankedCandidate{Candidate: c, tier: tier, order: i})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].tier != ranked[j].tier {
			return ranked[i].tier < ranked[j].tier
		}
		return ranked[i].order < ranked[j].order
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]domain.Candidate, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.Candidate)
	}
	return out, nil
}
