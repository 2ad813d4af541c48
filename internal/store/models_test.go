package store

import (
	"encoding/json"
	"testing"
)

func TestEncodeDecodeChange(t *testing.T) {
	changes := []Change{
		TitleChange{NewTitle: "Handmade Ceramic Mug | Speckled Glaze"},
		DescriptionChange{NewDescription: "A wheel-thrown mug with a speckled glaze."},
		TagsChange{TagsToAdd: []string{"ceramic mug"}, TagsToRemove: []string{"cup"}},
		ThumbnailChange{NewOrdering: []int64{30, 10, 20}},
	}

	for _, c := range changes {
		data, err := EncodeChange(c)
		if err != nil {
			t.Fatalf("encode %s: %v", c.Type(), err)
		}
		decoded, err := DecodeChange(data)
		if err != nil {
			t.Fatalf("decode %s: %v", c.Type(), err)
		}
		if decoded.Type() != c.Type() {
			t.Errorf("round-trip changed type: got %s, want %s", decoded.Type(), c.Type())
		}
	}
}

func TestDecodeChange_UnknownType(t *testing.T) {
	_, err := DecodeChange([]byte(`{"change_type":"price"}`))
	if err == nil {
		t.Fatal("expected error for unknown change type")
	}
}

func TestExperimentJSON_InlinesChange(t *testing.T) {
	exp := &Experiment{
		ID:        "exp-1",
		ListingID: 42,
		State:     StateUntested,
		Change:    TagsChange{TagsToAdd: []string{"gift for her"}},
	}

	data, err := json.Marshal(exp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Experiment
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Change == nil {
		t.Fatal("change was not restored")
	}
	if decoded.Change.Type() != ChangeTags {
		t.Errorf("got change type %s, want %s", decoded.Change.Type(), ChangeTags)
	}
}

func TestEffectiveState(t *testing.T) {
	exp := &Experiment{State: StateTesting, PlannedEndDate: "2024-03-10"}

	if got := exp.EffectiveState("2024-03-09"); got != StateTesting {
		t.Errorf("before planned end: got %s, want %s", got, StateTesting)
	}
	if got := exp.EffectiveState("2024-03-10"); got != StateFinished {
		t.Errorf("on planned end: got %s, want %s", got, StateFinished)
	}
	if got := exp.EffectiveState("2024-03-15"); got != StateFinished {
		t.Errorf("after planned end: got %s, want %s", got, StateFinished)
	}

	kept := &Experiment{State: StateKept, PlannedEndDate: "2024-03-10"}
	if got := kept.EffectiveState("2024-03-15"); got != StateKept {
		t.Errorf("kept experiment: got %s, want %s", got, StateKept)
	}
}

func TestImageIDs_RankOrder(t *testing.T) {
	images := []Image{
		{ID: 30, Rank: 3},
		{ID: 10, Rank: 1},
		{ID: 20, Rank: 2},
	}
	ids := ImageIDs(images)
	want := []int64{10, 20, 30}
	for i, id := range want {
		if ids[i] != id {
			t.Fatalf("got %v, want %v", ids, want)
		}
	}
}

func TestPerformanceHistory(t *testing.T) {
	h := PerformanceHistory{
		"2024-01-01": {100: 10, 200: 90},
		"2024-01-03": {100: 14, 200: 86},
		"2024-01-02": {100: 12, 200: 88},
	}

	dates := h.Dates()
	if len(dates) != 3 || dates[0] != "2024-01-01" || dates[2] != "2024-01-03" {
		t.Errorf("dates not ascending: %v", dates)
	}

	date, row, ok := h.Latest()
	if !ok || date != "2024-01-03" || row[100] != 14 {
		t.Errorf("latest: got %s %v", date, row)
	}

	if total := h.ShopTotal("2024-01-01"); total != 100 {
		t.Errorf("shop total: got %d, want 100", total)
	}
	if total := h.ShopTotal("2024-06-01"); total != 0 {
		t.Errorf("missing date shop total: got %d, want 0", total)
	}

	series := h.ListingSeries(100)
	if len(series) != 3 || series[0] != 10 || series[2] != 14 {
		t.Errorf("series: got %v", series)
	}
}

func TestAddDays(t *testing.T) {
	got, err := AddDays("2024-02-27", 3)
	if err != nil {
		t.Fatalf("AddDays: %v", err)
	}
	if got != "2024-03-01" {
		t.Errorf("got %s, want 2024-03-01", got)
	}

	if _, err := AddDays("yesterday", 1); err == nil {
		t.Error("expected error for invalid date")
	}
}
