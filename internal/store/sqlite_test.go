package store

import (
	"context"
	"errors"
	"testing"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testBundle(listingID int64) *Bundle {
	return &Bundle{
		ListingID: listingID,
		Options: []*Experiment{
			{ID: "opt-1", State: StateProposed, Change: TitleChange{NewTitle: "A"}, Hypothesis: "h1"},
			{ID: "opt-2", State: StateProposed, Change: TagsChange{TagsToAdd: []string{"x"}}, Hypothesis: "h2"},
			{ID: "opt-3", State: StateProposed, Change: ThumbnailChange{NewOrdering: []int64{2, 1, 3}}},
		},
	}
}

func TestSaveGetBundle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveBundle(ctx, testBundle(42)); err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}

	b, err := s.GetBundle(ctx, 42)
	if err != nil {
		t.Fatalf("GetBundle: %v", err)
	}
	if len(b.Options) != BundleSize {
		t.Fatalf("got %d options, want %d", len(b.Options), BundleSize)
	}
	if opt := b.Option("opt-2"); opt == nil || opt.Change.Type() != ChangeTags {
		t.Errorf("opt-2 not preserved: %+v", opt)
	}

	if _, err := s.GetBundle(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing bundle: got %v, want ErrNotFound", err)
	}
}

func TestSaveBundle_WrongSize(t *testing.T) {
	s := openTestStore(t)
	b := testBundle(42)
	b.Options = b.Options[:2]
	if err := s.SaveBundle(context.Background(), b); err == nil {
		t.Fatal("expected error for bundle with two options")
	}
}

func TestPromoteBundle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveBundle(ctx, testBundle(42)); err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}

	snap := &Snapshot{Title: "Old title"}
	selected, err := s.PromoteBundle(ctx, 42, "opt-1", snap)
	if err != nil {
		t.Fatalf("PromoteBundle: %v", err)
	}
	if selected.State != StateUntested {
		t.Errorf("selected state: got %s, want %s", selected.State, StateUntested)
	}
	if selected.Snapshot == nil || selected.Snapshot.Title != "Old title" {
		t.Errorf("snapshot not attached: %+v", selected.Snapshot)
	}

	// Bundle is gone.
	if _, err := s.GetBundle(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("bundle after promote: got %v, want ErrNotFound", err)
	}

	// All three options are now untested; the non-selected ones have no snapshot.
	untested, err := s.ListListingExperiments(ctx, 42, StateUntested)
	if err != nil {
		t.Fatalf("ListListingExperiments: %v", err)
	}
	if len(untested) != 3 {
		t.Fatalf("got %d untested, want 3", len(untested))
	}
	for _, exp := range untested {
		if exp.ID != "opt-1" && exp.Snapshot != nil {
			t.Errorf("backlog option %s should have no snapshot", exp.ID)
		}
	}
}

func TestPromoteBundle_UnknownOption(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveBundle(ctx, testBundle(42)); err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}
	if _, err := s.PromoteBundle(ctx, 42, "opt-9", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}

	// The failed promotion must not have consumed the bundle.
	if _, err := s.GetBundle(ctx, 42); err != nil {
		t.Errorf("bundle should survive failed promotion: %v", err)
	}
}

func TestDeleteBundle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveBundle(ctx, testBundle(42)); err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}
	if err := s.DeleteBundle(ctx, 42); err != nil {
		t.Fatalf("DeleteBundle: %v", err)
	}

	experiments, err := s.ListListingExperiments(ctx, 42)
	if err != nil {
		t.Fatalf("ListListingExperiments: %v", err)
	}
	if len(experiments) != 0 {
		t.Errorf("proposed options should be deleted with the bundle, got %d", len(experiments))
	}

	if err := s.DeleteBundle(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: got %v, want ErrNotFound", err)
	}
}

func TestUpdateExperiment_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveBundle(ctx, testBundle(42)); err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}
	exp, err := s.PromoteBundle(ctx, 42, "opt-1", &Snapshot{Title: "Old"})
	if err != nil {
		t.Fatalf("PromoteBundle: %v", err)
	}

	exp.State = StateTesting
	exp.StartDate = "2024-03-01"
	exp.PlannedEndDate = "2024-03-15"
	exp.RunDurationDays = 14
	exp.Baseline = &Baseline{Date: "2024-03-01", Views: 100}
	exp.Evaluation = &Evaluation{
		Baseline:          *exp.Baseline,
		Latest:            Baseline{Date: "2024-03-15", Views: 130},
		PctChange:         0.083,
		SeasonalityFactor: 1.2,
		RecommendedAction: ActionKeep,
	}
	if err := s.UpdateExperiment(ctx, exp); err != nil {
		t.Fatalf("UpdateExperiment: %v", err)
	}

	got, err := s.GetExperiment(ctx, 42, "opt-1")
	if err != nil {
		t.Fatalf("GetExperiment: %v", err)
	}
	if got.State != StateTesting || got.StartDate != "2024-03-01" || got.PlannedEndDate != "2024-03-15" {
		t.Errorf("dates not persisted: %+v", got)
	}
	if got.Baseline == nil || got.Baseline.Views != 100 {
		t.Errorf("baseline not persisted: %+v", got.Baseline)
	}
	if got.Evaluation == nil || got.Evaluation.RecommendedAction != ActionKeep {
		t.Errorf("evaluation not persisted: %+v", got.Evaluation)
	}
}

func TestUpdateExperiment_NotFound(t *testing.T) {
	s := openTestStore(t)
	exp := &Experiment{ID: "ghost", ListingID: 1, State: StateTesting, Change: TitleChange{NewTitle: "x"}}
	if err := s.UpdateExperiment(context.Background(), exp); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestListingCache(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	l := &Listing{ID: 7, Title: "Mug", Tags: []string{"ceramic"}, Views: 12, State: "active"}
	if err := s.UpsertListing(ctx, l); err != nil {
		t.Fatalf("UpsertListing: %v", err)
	}
	l.Views = 20
	if err := s.UpsertListing(ctx, l); err != nil {
		t.Fatalf("UpsertListing update: %v", err)
	}

	got, err := s.GetListing(ctx, 7)
	if err != nil {
		t.Fatalf("GetListing: %v", err)
	}
	if got.Views != 20 || got.Title != "Mug" || len(got.Tags) != 1 {
		t.Errorf("listing not upserted: %+v", got)
	}

	if _, err := s.GetListing(ctx, 8); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing listing: got %v, want ErrNotFound", err)
	}
}

func TestImageManifests(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	images := []Image{{ID: 1, URL: "u1", Rank: 1}, {ID: 2, URL: "u2", Rank: 2}}
	if err := s.SaveListingImages(ctx, 7, images); err != nil {
		t.Fatalf("SaveListingImages: %v", err)
	}
	got, err := s.GetListingImages(ctx, 7)
	if err != nil {
		t.Fatalf("GetListingImages: %v", err)
	}
	if len(got) != 2 || got[0].URL != "u1" {
		t.Errorf("manifest mismatch: %+v", got)
	}

	if err := s.ArchiveImages(ctx, "exp-1", images); err != nil {
		t.Fatalf("ArchiveImages: %v", err)
	}
	archived, err := s.ArchivedImages(ctx, "exp-1")
	if err != nil {
		t.Fatalf("ArchivedImages: %v", err)
	}
	if len(archived) != 2 {
		t.Errorf("archive mismatch: %+v", archived)
	}
}

func TestPerformanceRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SavePerformanceRow(ctx, "2024-01-01", map[int64]int{100: 10, 200: 90}); err != nil {
		t.Fatalf("SavePerformanceRow: %v", err)
	}
	// Same-date rewrite overwrites.
	if err := s.SavePerformanceRow(ctx, "2024-01-01", map[int64]int{100: 11, 200: 90}); err != nil {
		t.Fatalf("SavePerformanceRow rewrite: %v", err)
	}
	if err := s.SavePerformanceRow(ctx, "2024-01-02", map[int64]int{100: 12, 200: 88}); err != nil {
		t.Fatalf("SavePerformanceRow: %v", err)
	}

	history, err := s.LoadPerformanceHistory(ctx)
	if err != nil {
		t.Fatalf("LoadPerformanceHistory: %v", err)
	}
	if history["2024-01-01"][100] != 11 {
		t.Errorf("rewrite not applied: %v", history["2024-01-01"])
	}
	if len(history.Dates()) != 2 {
		t.Errorf("got %d dates, want 2", len(history.Dates()))
	}
}

func TestSettings_DefaultsAndSave(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	settings, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if settings.RunDurationDays != 14 || settings.Tolerance != 0.05 {
		t.Errorf("defaults: %+v", settings)
	}

	settings.RunDurationDays = 21
	settings.Tolerance = 0.1
	if err := s.SaveSettings(ctx, settings); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	got, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if got.RunDurationDays != 21 || got.Tolerance != 0.1 {
		t.Errorf("settings not persisted: %+v", got)
	}
}

func TestReports_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetReport(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}

	if err := s.SaveReport(ctx, "r1", []byte(`{"report_id":"r1"}`)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	if err := s.SaveReport(ctx, "r2", []byte(`{"report_id":"r2"}`)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	payload, err := s.GetReport(ctx, "r1")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if string(payload) != `{"report_id":"r1"}` {
		t.Errorf("payload: %s", payload)
	}

	reports, err := s.ListReports(ctx)
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(reports) != 2 {
		t.Errorf("got %d reports, want 2", len(reports))
	}
}
