// Package scoring computes lead scores from the person graph
package scoring

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/rowan/pkg/metrics"
	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/normalizers"
	"github.com/Ramsey-B/rowan/pkg/store"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

// DefaultParallelism bounds concurrent scoring in ScorePersons
const DefaultParallelism = 8

// facts are the graph measurements a lead score is computed from
type facts struct {
	hasAncestor   bool
	sources       int
	relationships int
	addresses     int
	living        bool
	exactDates    bool
}

// rule awards points when its condition holds
type rule struct {
	name   string
	points int
	holds  func(f facts) bool
}

// rules is the additive point table. Every rule is independent.
var rules = []rule{
	{"ancestor", 25, func(f facts) bool { return f.hasAncestor }},
	{"sources_3", 20, func(f facts) bool { return f.sources >= 3 }},
	{"sources_2", 10, func(f facts) bool { return f.sources == 2 }},
	{"relationships_3", 15, func(f facts) bool { return f.relationships >= 3 }},
	{"relationships_1", 7, func(f facts) bool { return f.relationships >= 1 && f.relationships <= 2 }},
	{"address", 15, func(f facts) bool { return f.addresses >= 1 }},
	{"addresses_2", 10, func(f facts) bool { return f.addresses >= 2 }},
	{"living", 10, func(f facts) bool { return f.living }},
	{"exact_dates", 5, func(f facts) bool { return f.exactDates }},
}

func points(f facts) int {
	total := 0
	for _, r := range rules {
		if r.holds(f) {
			total += r.points
		}
	}
	return min(max(total, 0), 100)
}

// Tier derives the confidence tier from a score and the number of linked sources
func Tier(score, sources int) models.ConfidenceTier {
	switch {
	case score >= 80 && sources >= 3:
		return models.ConfidenceHigh
	case score >= 60 && sources >= 2:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// exactDates reports whether the birth date is exact and every other known key date is exact
func exactDates(p models.Person) bool {
	if !p.BirthDate.IsExact() {
		return false
	}
	for _, d := range []models.PartialDate{p.DeathDate, p.NaturalizationDate} {
		if d.IsKnown() && !d.IsExact() {
			return false
		}
	}
	return true
}

// Scorer computes lead scores. Scores depend only on the current graph, never on a
// previous score.
type Scorer struct {
	store           store.Store
	logger          ectologger.Logger
	ancestorCountry string
	parallelism     int
	now             func() time.Time
}

func NewScorer(s store.Store, logger ectologger.Logger, ancestorCountry string) *Scorer {
	return &Scorer{
		store:           s,
		logger:          logger,
		ancestorCountry: ancestorCountry,
		parallelism:     DefaultParallelism,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// AncestorCountry returns the birth country that qualifies an ancestor
func (s *Scorer) AncestorCountry() string {
	return s.ancestorCountry
}

// Score computes the lead score of one person without saving it
func (s *Scorer) Score(ctx context.Context, personID int64) (models.LeadScore, error) {
	ctx, span := tracing.StartSpan(ctx, "scoring.Scorer.Score")
	defer span.End()

	p, err := s.store.GetPerson(ctx, personID)
	if err != nil {
		return models.LeadScore{}, err
	}

	graph := newFamilyGraph(s.store)
	f := facts{
		living:     p.IsLiving && !p.DeathDate.IsKnown(),
		exactDates: exactDates(p),
	}

	ancestor, err := s.nearestAncestor(ctx, graph, personID, s.ancestorCountry)
	if err != nil {
		return models.LeadScore{}, err
	}
	f.hasAncestor = ancestor != nil

	if f.sources, err = s.store.CountPersonSources(ctx, personID); err != nil {
		return models.LeadScore{}, err
	}
	edges, err := graph.load(ctx, personID)
	if err != nil {
		return models.LeadScore{}, err
	}
	f.relationships = len(edges)
	addresses, err := s.store.ListAddresses(ctx, personID)
	if err != nil {
		return models.LeadScore{}, err
	}
	f.addresses = len(addresses)

	score := points(f)
	return models.LeadScore{
		PersonID:          personID,
		Score:             score,
		Confidence:        Tier(score, f.sources),
		HasGermanAncestor: f.hasAncestor,
		SourcesCount:      f.sources,
		ScoredAt:          s.now(),
	}, nil
}

// NearestAncestor returns the closest ancestor born in country, or nil. Ancestors are
// found through parent edges with no depth limit; self does not qualify.
func (s *Scorer) NearestAncestor(ctx context.Context, personID int64, country string) (*models.AncestorView, error) {
	ctx, span := tracing.StartSpan(ctx, "scoring.Scorer.NearestAncestor")
	defer span.End()

	return s.nearestAncestor(ctx, newFamilyGraph(s.store), personID, country)
}

func (s *Scorer) nearestAncestor(ctx context.Context, graph *familyGraph, personID int64, country string) (*models.AncestorView, error) {
	if country == "" {
		return nil, nil
	}

	var found *models.AncestorView
	err := graph.walk(ctx, personID, models.RelationshipParent, func(id int64, depth int) (bool, error) {
		a, err := s.store.GetPerson(ctx, id)
		if err != nil {
			return false, err
		}
		// provisional ancestors are traversed but do not qualify until confirmed
		if !a.IsConfirmed() || !normalizers.SameCountry(a.BirthCountry, country) {
			return false, nil
		}
		found = &models.AncestorView{
			PersonID:            a.ID,
			Name:                a.FullName(),
			BirthPlace:          a.BirthPlace,
			BirthCountry:        a.BirthCountry,
			BirthDate:           a.BirthDate,
			NaturalizationDate:  a.NaturalizationDate,
			Generations:         depth,
			CitizenshipEligible: true,
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ScoreAndSave scores one person and stores the result
func (s *Scorer) ScoreAndSave(ctx context.Context, personID int64) (models.LeadScore, error) {
	score, err := s.Score(ctx, personID)
	if err != nil {
		return models.LeadScore{}, err
	}
	if err := s.store.SaveLeadScore(ctx, score); err != nil {
		return models.LeadScore{}, fmt.Errorf("failed to save lead score: %w", err)
	}
	metrics.PersonsScored.WithLabelValues(string(score.Confidence)).Inc()
	return score, nil
}

// ScorePersons rescores the given persons and all of their descendants, since an
// ancestor change can move a descendant's score. Merged-away and provisional persons
// are skipped. Returns the number of persons scored.
func (s *Scorer) ScorePersons(ctx context.Context, personIDs []int64) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "scoring.Scorer.ScorePersons")
	defer span.End()

	targets, err := s.withDescendants(ctx, personIDs)
	if err != nil {
		tracing.RecordError(span, err)
		return 0, err
	}

	scored := make([]bool, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, id := range targets {
		g.Go(func() error {
			p, err := s.store.GetPerson(gctx, id)
			if err != nil {
				return err
			}
			if !p.IsConfirmed() {
				return nil
			}
			if _, err := s.ScoreAndSave(gctx, id); err != nil {
				return err
			}
			scored[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to score persons")
		tracing.RecordError(span, err)
		return 0, err
	}

	count := 0
	for _, ok := range scored {
		if ok {
			count++
		}
	}
	return count, nil
}

// withDescendants returns the distinct ids plus every descendant, sorted
func (s *Scorer) withDescendants(ctx context.Context, personIDs []int64) ([]int64, error) {
	graph := newFamilyGraph(s.store)
	seen := make(map[int64]bool, len(personIDs))
	for _, id := range personIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		err := graph.walk(ctx, id, models.RelationshipChild, func(child int64, _ int) (bool, error) {
			seen[child] = true
			return false, nil
		})
		if err != nil {
			return nil, err
		}
	}

	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}
