package iteration

import "testing"

func TestGenerateBatches(t *testing.T) {
	stories := []Story{
		{ID: "S001"},
		{ID: "S002", Dependencies: []string{"S001"}},
		{ID: "S003", Dependencies: []string{"S001"}},
	}

	batches, err := GenerateBatches(stories)
	if err != nil {
		t.Fatalf("GenerateBatches: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if len(batches[0].StoryIDs) != 1 || batches[0].StoryIDs[0] != "S001" {
		t.Fatalf("expected batch 0 to contain only S001, got %v", batches[0].StoryIDs)
	}
	if len(batches[1].StoryIDs) != 2 {
		t.Fatalf("expected batch 1 to contain S002 and S003, got %v", batches[1].StoryIDs)
	}
}

func TestGenerateBatchesDetectsCycle(t *testing.T) {
	stories := []Story{
		{ID: "A", Dependencies: []string{"B"}},
		{ID: "B", Dependencies: []string{"A"}},
	}
	if _, err := GenerateBatches(stories); err == nil {
		t.Fatal("expected cycle error, got nil")
	}
}

func TestGenerateBatchesUnknownDependency(t *testing.T) {
	stories := []Story{
		{ID: "A", Dependencies: []string{"ghost"}},
	}
	if _, err := GenerateBatches(stories); err == nil {
		t.Fatal("expected unknown-dependency error, got nil")
	}
}
