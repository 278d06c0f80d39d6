// Package leads answers lead and statistics queries over the resolved person graph
package leads

import (
	"context"
	"fmt"
	"math"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/store"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
	// scanPage is how many persons are read per store call when filtering by ancestor
	scanPage = 200
)

// AncestorFinder locates the nearest qualifying ancestor of a person
type AncestorFinder interface {
	NearestAncestor(ctx context.Context, personID int64, country string) (*models.AncestorView, error)
}

// Service builds lead views from stored scores. Missing data yields empty results.
type Service struct {
	store           store.Store
	ancestors       AncestorFinder
	logger          ectologger.Logger
	minScore        int
	ancestorCountry string
}

func NewService(s store.Store, ancestors AncestorFinder, logger ectologger.Logger, minScore int, ancestorCountry string) *Service {
	return &Service{
		store:           s,
		ancestors:       ancestors,
		logger:          logger,
		minScore:        minScore,
		ancestorCountry: ancestorCountry,
	}
}

// DefaultFilter returns the configured lead filter
func (s *Service) DefaultFilter() models.LeadFilter {
	return models.LeadFilter{
		MinScore:        s.minScore,
		AncestorCountry: s.ancestorCountry,
		Limit:           DefaultLimit,
	}
}

// ClampLimit applies the default and maximum page size
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// ListLeads returns confirmed persons scoring at least filter.MinScore, best first.
// With an ancestor country only persons with an ancestor born there are returned.
func (s *Service) ListLeads(ctx context.Context, filter models.LeadFilter) ([]models.LeadView, error) {
	ctx, span := tracing.StartSpan(ctx, "leads.Service.ListLeads")
	defer span.End()

	limit := ClampLimit(filter.Limit)
	pageSize := limit
	if filter.AncestorCountry != "" {
		pageSize = scanPage
	}

	out := make([]models.LeadView, 0)
	for offset := 0; len(out) < limit; offset += pageSize {
		persons, err := s.store.ListPersons(ctx, models.PersonFilter{
			MinScore: filter.MinScore,
			Limit:    pageSize,
			Offset:   offset,
		})
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Error("Failed to list persons")
			tracing.RecordError(span, err)
			return nil, err
		}

		for _, p := range persons {
			view, ok, err := s.view(ctx, p, filter.AncestorCountry)
			if err != nil {
				tracing.RecordError(span, err)
				return nil, err
			}
			if ok {
				out = append(out, view)
			}
			if len(out) == limit {
				break
			}
		}
		if len(persons) < pageSize {
			break
		}
	}
	return out, nil
}

// GetLead returns the lead view of one confirmed person. The ancestor is searched in
// the configured country and may be absent.
func (s *Service) GetLead(ctx context.Context, personID int64) (models.LeadView, error) {
	ctx, span := tracing.StartSpan(ctx, "leads.Service.GetLead")
	defer span.End()

	p, err := s.store.GetPerson(ctx, personID)
	if err != nil {
		return models.LeadView{}, err
	}
	if !p.IsConfirmed() {
		return models.LeadView{}, fmt.Errorf("person %d is not a confirmed person: %w", personID, store.ErrNotFound)
	}

	view, _, err := s.view(ctx, p, "")
	return view, err
}

// view builds the lead view. When requireCountry is set, ok is false for persons
// without an ancestor born there.
func (s *Service) view(ctx context.Context, p models.Person, requireCountry string) (models.LeadView, bool, error) {
	country := requireCountry
	if country == "" {
		country = s.ancestorCountry
	}
	ancestor, err := s.ancestors.NearestAncestor(ctx, p.ID, country)
	if err != nil {
		return models.LeadView{}, false, err
	}
	if requireCountry != "" && ancestor == nil {
		return models.LeadView{}, false, nil
	}

	addresses, err := s.store.ListAddresses(ctx, p.ID)
	if err != nil {
		return models.LeadView{}, false, err
	}
	sources, err := s.store.CountPersonSources(ctx, p.ID)
	if err != nil {
		return models.LeadView{}, false, err
	}

	view := models.LeadView{
		PersonID:     p.ID,
		Name:         p.FullName(),
		Ancestor:     ancestor,
		LeadScore:    p.LeadScore,
		Confidence:   p.Confidence,
		SourcesCount: sources,
	}
	if len(addresses) > 0 {
		view.LastKnownAddress = addresses[len(addresses)-1].Structured().String()
	}
	if view.Confidence == "" {
		view.Confidence = models.ConfidenceLow
	}
	return view, true, nil
}

// Stats computes the aggregate counts on demand
func (s *Service) Stats(ctx context.Context) (models.Stats, error) {
	ctx, span := tracing.StartSpan(ctx, "leads.Service.Stats")
	defer span.End()

	stats, err := s.store.CountStats(ctx, s.minScore)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to count stats")
		tracing.RecordError(span, err)
		return models.Stats{}, err
	}
	stats.DedupRate = DedupRate(stats.UniquePersons, stats.TotalRecords)
	stats.DedupRatePercent = fmt.Sprintf("%.1f%%", stats.DedupRate*100)
	return stats, nil
}

// DedupRate is 1 - unique/total, floored at 0 and 0 for an empty store
func DedupRate(unique, total int) float64 {
	if total <= 0 {
		return 0
	}
	rate := 1 - float64(unique)/float64(total)
	return math.Max(0, math.Round(rate*1e4)/1e4)
}
