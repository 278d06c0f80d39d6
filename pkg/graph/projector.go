package graph

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/rowan/pkg/metrics"
	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/store"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

// Statement is one parameterized Cypher statement
type Statement struct {
	Cypher string
	Params map[string]any
}

// Executor runs statements atomically
type Executor interface {
	Execute(ctx context.Context, statements []Statement) error
}

const (
	upsertPersonCypher = `MERGE (p:Person {id: $id}) SET p += $props`
	deletePersonCypher = `MATCH (p:Person {id: $id}) DETACH DELETE p`
)

// edgeCypher maps a stored relationship type to a MERGE statement. Stored parent edges
// read "related is the parent of person", so the arrow runs from related to person.
var edgeCypher = map[models.RelationshipType]string{
	models.RelationshipParent: `MERGE (a:Person {id: $from}) MERGE (b:Person {id: $to}) MERGE (a)-[:PARENT_OF]->(b)`,
	models.RelationshipSpouse: `MERGE (a:Person {id: $from}) MERGE (b:Person {id: $to}) MERGE (a)-[:SPOUSE_OF]->(b)`,
	models.RelationshipSibling: `MERGE (a:Person {id: $from}) MERGE (b:Person {id: $to}) MERGE (a)-[:SIBLING_OF]->(b)`,
}

// DefaultParallelism bounds concurrent person projections
const DefaultParallelism = 4

// Projector keeps the graph in step with the relational store. The graph is a derived
// read model; the store stays authoritative.
type Projector struct {
	executor    Executor
	store       store.Store
	logger      ectologger.Logger
	parallelism int
}

func NewProjector(executor Executor, s store.Store, logger ectologger.Logger) *Projector {
	return &Projector{
		executor:    executor,
		store:       s,
		logger:      logger,
		parallelism: DefaultParallelism,
	}
}

// Project upserts each person with its family edges, and removes persons that were
// merged away
func (p *Projector) Project(ctx context.Context, personIDs []int64) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.Project")
	defer span.End()

	start := time.Now()
	ids := slices.Clone(personIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for _, id := range ids {
		g.Go(func() error {
			statements, err := p.statements(gctx, id)
			if err != nil {
				return err
			}
			return p.executor.Execute(gctx, statements)
		})
	}

	if err := g.Wait(); err != nil {
		metrics.GraphProjectionDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		p.logger.WithContext(ctx).WithError(err).WithField("persons", len(ids)).Error("Failed to project persons to graph")
		tracing.RecordError(span, err)
		return err
	}
	metrics.GraphProjectionDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
	return nil
}

func (p *Projector) statements(ctx context.Context, personID int64) ([]Statement, error) {
	person, err := p.store.GetPerson(ctx, personID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !person.IsActive() {
		return []Statement{{Cypher: deletePersonCypher, Params: map[string]any{"id": person.ID}}}, nil
	}

	edges, err := p.store.ListRelationships(ctx, personID)
	if err != nil {
		return nil, err
	}
	return PersonStatements(person, edges), nil
}

// PersonStatements builds the upsert of a person node and its edges
func PersonStatements(person models.Person, edges []models.Relationship) []Statement {
	out := make([]Statement, 0, len(edges)+1)
	out = append(out, Statement{
		Cypher: upsertPersonCypher,
		Params: map[string]any{"id": person.ID, "props": nodeProps(person)},
	})
	for _, edge := range edges {
		cypher, ok := edgeCypher[edge.Type]
		if !ok {
			continue
		}
		from, to := edge.PersonID, edge.RelatedPersonID
		if edge.Type == models.RelationshipParent {
			from, to = to, from
		}
		out = append(out, Statement{Cypher: cypher, Params: map[string]any{"from": from, "to": to}})
	}
	return out
}

func nodeProps(p models.Person) map[string]any {
	props := map[string]any{
		"name":                         p.FullName(),
		"first_name":                   p.FirstName,
		"last_name":                    p.LastName,
		"birth_place":                  p.BirthPlace,
		"birth_country":                p.BirthCountry,
		"is_living":                    p.IsLiving,
		"is_provisional":               p.IsProvisional,
		"is_german_ancestor_candidate": p.IsGermanAncestorCandidate,
		"lead_score":                   p.LeadScore,
		"confidence":                   string(p.Confidence),
	}
	if p.BirthDate.IsKnown() {
		props["birth_date"] = p.BirthDate.String()
	}
	if p.DeathDate.IsKnown() {
		props["death_date"] = p.DeathDate.String()
	}
	return props
}
