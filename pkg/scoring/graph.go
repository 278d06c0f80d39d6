package scoring

import (
	"context"

	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/store"
)

// familyGraph is an adjacency view of relationship edges keyed by person id. Edges are
// loaded from the store on first visit and cached for the life of the graph.
type familyGraph struct {
	store store.RelationshipStore
	edges map[int64][]models.Relationship
}

func newFamilyGraph(s store.RelationshipStore) *familyGraph {
	return &familyGraph{
		store: s,
		edges: make(map[int64][]models.Relationship),
	}
}

func (g *familyGraph) load(ctx context.Context, personID int64) ([]models.Relationship, error) {
	if edges, ok := g.edges[personID]; ok {
		return edges, nil
	}
	edges, err := g.store.ListRelationships(ctx, personID)
	if err != nil {
		return nil, err
	}
	g.edges[personID] = edges
	return edges, nil
}

// neighbors returns the persons that have the given relation to personID
func (g *familyGraph) neighbors(ctx context.Context, personID int64, relation models.RelationshipType) ([]int64, error) {
	edges, err := g.load(ctx, personID)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(edges))
	for _, edge := range edges {
		if other, rel, ok := edge.From(personID); ok && rel == relation {
			out = append(out, other)
		}
	}
	return out, nil
}

// walk visits every person reachable from start through the relation, breadth first,
// with the number of hops from start. Each person is visited once, so cycles terminate.
// start itself is not visited. visit returns true to stop the walk.
func (g *familyGraph) walk(ctx context.Context, start int64, relation models.RelationshipType, visit func(id int64, depth int) (bool, error)) error {
	type node struct {
		id    int64
		depth int
	}
	visited := map[int64]bool{start: true}
	queue := []node{{id: start}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		next, err := g.neighbors(ctx, current.id, relation)
		if err != nil {
			return err
		}
		for _, id := range next {
			if visited[id] {
				continue
			}
			visited[id] = true
			stop, err := visit(id, current.depth+1)
			if err != nil || stop {
				return err
			}
			queue = append(queue, node{id: id, depth: current.depth + 1})
		}
	}
	return nil
}
