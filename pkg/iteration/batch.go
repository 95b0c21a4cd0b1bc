package iteration

import "fmt"

// Batch is one topological layer of the plan's dependency graph: a set of
// story IDs all of whose dependencies lie in earlier batches, and which can
// therefore be attempted concurrently.
type Batch struct {
	Index    int
	StoryIDs []string
}

// GenerateBatches topologically layers stories by Dependencies (Kahn's
// algorithm): batch 0 holds every story with no dependencies, batch 1 holds
// stories whose dependencies are all in batch 0, and so on. It returns an
// error if a dependency names an unknown story or the graph has a cycle.
func GenerateBatches(stories []Story) ([]Batch, error) {
	byID := make(map[string]Story, len(stories))
	for _, s := range stories {
		byID[s.ID] = s
	}
	for _, s := range stories {
		for _, dep := range s.Dependencies {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("story %q depends on unknown story %q", s.ID, dep)
			}
		}
	}

	remaining := make(map[string]Story, len(stories))
	for _, s := range stories {
		remaining[s.ID] = s
	}

	var batches []Batch
	placed := make(map[string]bool, len(stories))

	for len(remaining) > 0 {
		var layer []string
		for id, s := range remaining {
			ready := true
			for _, dep := range s.Dependencies {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			return nil, fmt.Errorf("dependency cycle detected among stories: %s", remainingIDs(remaining))
		}

		sortStable(layer)
		batches = append(batches, Batch{Index: len(batches), StoryIDs: layer})
		for _, id := range layer {
			placed[id] = true
			delete(remaining, id)
		}
	}

	return batches, nil
}

func remainingIDs(m map[string]Story) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sortStable(ids)
	return ids
}

// sortStable sorts ids in place; batches are easier to reason about (and
// test) with a deterministic story order within each layer.
func sortStable(ids []string) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}
