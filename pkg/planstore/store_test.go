package planstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testStore creates a store in a temp directory and returns a cleanup func.
func testStore(t *testing.T) (*Store, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "planstore-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	store, err := NewStore(filepath.Join(dir, "results.json"), nil)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("Failed to create store: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(dir)
	}

	return store, cleanup
}

func TestRecordAndLast(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	before := time.Now()
	store.Record("lastReviewPlan", map[string]any{
		"feedback": map[string]any{"user_feedback": "too hard"},
	})

	entry, ok := store.Last("lastReviewPlan")
	if !ok {
		t.Fatal("Expected entry for lastReviewPlan")
	}

	if entry.Timestamp.Before(before) {
		t.Errorf("Timestamp %v earlier than write time %v", entry.Timestamp, before)
	}

	feedback, ok := entry.Fields["feedback"].(map[string]any)
	if !ok {
		t.Fatalf("Expected feedback payload, got %#v", entry.Fields)
	}
	if feedback["user_feedback"] != "too hard" {
		t.Errorf("Expected user_feedback 'too hard', got %v", feedback["user_feedback"])
	}
}

func TestLastMissingKey(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	if _, ok := store.Last("never-written"); ok {
		t.Error("Expected no entry for unknown key")
	}
}

func TestRecordOverwrites(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	store.Record("lastExerciseAdjustment", map[string]any{"adjustment": "first"})
	first, _ := store.Last("lastExerciseAdjustment")

	store.Record("lastExerciseAdjustment", map[string]any{"adjustment": "second"})
	second, ok := store.Last("lastExerciseAdjustment")
	if !ok {
		t.Fatal("Expected entry after overwrite")
	}

	if second.Fields["adjustment"] != "second" {
		t.Errorf("Expected overwritten payload, got %v", second.Fields["adjustment"])
	}
	if second.Timestamp.Before(first.Timestamp) {
		t.Error("Overwrite timestamp earlier than original")
	}
	if store.Count() != 1 {
		t.Errorf("Expected 1 entry after overwrite, got %d", store.Count())
	}
}

func TestPersistence(t *testing.T) {
	dir, err := os.MkdirTemp("", "planstore-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "results.json")

	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	store.Record("lastPlanConfirmation", map[string]any{
		"confirmation": map[string]any{"final_plan_summary": "3 runs, 2 lifts", "user_agreed": true},
	})

	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopen and verify the entry survived
	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	entry, ok := reopened.Last("lastPlanConfirmation")
	if !ok {
		t.Fatal("Expected persisted entry after reopen")
	}

	confirmation, ok := entry.Fields["confirmation"].(map[string]any)
	if !ok {
		t.Fatalf("Expected confirmation payload, got %#v", entry.Fields)
	}
	if confirmation["user_agreed"] != true {
		t.Errorf("Expected user_agreed true, got %v", confirmation["user_agreed"])
	}
	if entry.Timestamp.IsZero() {
		t.Error("Expected non-zero timestamp after reload")
	}
}

func TestEntryJSONShape(t *testing.T) {
	entry := Entry{
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Fields:    map[string]any{"feedback": "too easy"},
	}

	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// The entry must be a flat object: timestamp beside the payload fields
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if obj["timestamp"] != "2025-06-01T12:00:00Z" {
		t.Errorf("Expected ISO-8601 timestamp, got %v", obj["timestamp"])
	}
	if obj["feedback"] != "too easy" {
		t.Errorf("Expected feedback beside timestamp, got %#v", obj)
	}
	if _, hasWrapper := obj["fields"]; hasWrapper {
		t.Error("Entry should not nest payload under a wrapper key")
	}
}

func TestCorruptFileStartsFresh(t *testing.T) {
	dir, err := os.MkdirTemp("", "planstore-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "results.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write corrupt file: %v", err)
	}

	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("Expected corrupt file to be tolerated, got: %v", err)
	}
	defer store.Close()

	if store.Count() != 0 {
		t.Errorf("Expected empty store after corrupt load, got %d entries", store.Count())
	}
}

func TestRecordAfterClose(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	store.Close()
	store.Record("lastReviewPlan", map[string]any{"feedback": "ignored"})

	if _, ok := store.Last("lastReviewPlan"); ok {
		t.Error("Expected writes after Close to be dropped")
	}
}

func TestConcurrentAccess(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	done := make(chan struct{})

	go func() {
		for i := 0; i < 50; i++ {
			store.Record("lastReviewPlan", map[string]any{"feedback": i})
		}
		close(done)
	}()

	for i := 0; i < 50; i++ {
		store.Last("lastReviewPlan")
		store.All()
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Concurrent writer did not finish")
	}
}
