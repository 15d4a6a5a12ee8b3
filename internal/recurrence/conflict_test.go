package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calplanner/internal/model"
)

func single(id string, t time.Time) model.EventTemplate {
	return model.EventTemplate{ID: id, Title: id, Date: t, Recurrence: model.RecurrenceNone}
}

func TestConflicts_AdjacentDoesNotConflict(t *testing.T) {
	ten := single("a", at(2024, 1, 1, 10, 0))
	eleven := single("b", at(2024, 1, 1, 11, 0))

	assert.False(t, Conflicts(ten, []model.EventTemplate{eleven}))
	assert.False(t, Conflicts(eleven, []model.EventTemplate{ten}))
}

func TestConflicts_PartialOverlap(t *testing.T) {
	candidate := single("a", at(2024, 1, 1, 10, 0))
	existing := single("b", at(2024, 1, 1, 10, 30))

	assert.True(t, Conflicts(candidate, []model.EventTemplate{existing}))
	assert.True(t, Conflicts(existing, []model.EventTemplate{candidate}))
}

func TestConflicts_SameStart(t *testing.T) {
	candidate := single("a", at(2024, 1, 1, 10, 0))
	existing := single("b", at(2024, 1, 1, 10, 0))
	assert.True(t, Conflicts(candidate, []model.EventTemplate{existing}))
}

func TestConflicts_EmptyExisting(t *testing.T) {
	candidate := single("a", at(2024, 1, 1, 10, 0))
	assert.False(t, Conflicts(candidate, nil))
	assert.False(t, Conflicts(candidate, []model.EventTemplate{}))
}

func TestConflicts_EmptyCandidateExpansion(t *testing.T) {
	candidate := model.EventTemplate{ID: "a", Date: at(2024, 1, 1, 10, 0), Recurrence: "yearly"}
	existing := single("b", at(2024, 1, 1, 10, 0))
	assert.False(t, Conflicts(candidate, []model.EventTemplate{existing}))
}

func TestConflicts_RecurringCandidateHitsLaterSingle(t *testing.T) {
	candidate := model.EventTemplate{
		ID:               "gym",
		Date:             at(2024, 1, 1, 9, 0), // Monday
		Recurrence:       model.RecurrenceWeekly,
		CustomRecurrence: &model.CustomRecurrence{Weekdays: []int{1, 3, 5}},
	}
	onFriday := single("meeting", at(2024, 3, 15, 9, 30))
	onTuesday := single("lunch", at(2024, 3, 12, 9, 30))

	assert.True(t, Conflicts(candidate, []model.EventTemplate{onFriday}))
	assert.False(t, Conflicts(candidate, []model.EventTemplate{onTuesday}))
}

func TestConflicts_RecurringExisting(t *testing.T) {
	existing := model.EventTemplate{
		ID:         "rent",
		Date:       at(2024, 1, 31, 8, 0),
		Recurrence: model.RecurrenceMonthly,
	}

	assert.True(t, Conflicts(single("a", at(2024, 2, 29, 7, 30)), []model.EventTemplate{existing}))
	assert.False(t, Conflicts(single("b", at(2024, 2, 28, 8, 0)), []model.EventTemplate{existing}))
}

func TestConflicts_SeriesAnchoredBeforeWindow(t *testing.T) {
	existing := model.EventTemplate{ID: "daily", Date: at(2023, 1, 1, 9, 0), Recurrence: model.RecurrenceDaily}

	assert.True(t, Conflicts(single("a", at(2024, 6, 1, 8, 30)), []model.EventTemplate{existing}))
	assert.False(t, Conflicts(single("b", at(2024, 6, 1, 10, 0)), []model.EventTemplate{existing}))
}

func TestConflicts_WindowStartsAtCandidate(t *testing.T) {
	// Recurring occurrences that begin before the candidate's own start fall
	// outside the lookahead window, even when they are still running.
	existing := model.EventTemplate{ID: "daily", Date: at(2024, 1, 1, 9, 0), Recurrence: model.RecurrenceDaily}
	assert.False(t, Conflicts(single("a", at(2024, 1, 10, 9, 30)), []model.EventTemplate{existing}))

	// A single event is never range-filtered, so it is still caught.
	assert.True(t, Conflicts(single("b", at(2024, 1, 10, 9, 30)), []model.EventTemplate{single("c", at(2024, 1, 10, 9, 0))}))
}

func TestConflicts_CapBoundsLookahead(t *testing.T) {
	// A daily candidate only reaches 100 days into its one-year window.
	candidate := model.EventTemplate{ID: "daily", Date: at(2024, 1, 1, 9, 0), Recurrence: model.RecurrenceDaily}

	assert.True(t, Conflicts(candidate, []model.EventTemplate{single("april", at(2024, 4, 9, 9, 0))}))
	assert.False(t, Conflicts(candidate, []model.EventTemplate{single("june", at(2024, 6, 1, 9, 0))}))
}

func TestFindConflict_ReturnsPair(t *testing.T) {
	candidate := model.EventTemplate{ID: "daily", Date: at(2024, 1, 1, 9, 0), Recurrence: model.RecurrenceDaily}
	existing := []model.EventTemplate{
		single("free", at(2024, 1, 3, 12, 0)),
		single("clash", at(2024, 1, 5, 9, 15)),
	}

	c, ok := FindConflict(candidate, existing)
	require.True(t, ok)
	assert.Equal(t, "clash", c.Existing.ID)
	assert.Equal(t, "daily", c.Candidate.OriginalEventID)
	assert.True(t, at(2024, 1, 5, 9, 0).Equal(c.Candidate.Date))
}

func TestDetector_CachedMatchesUncached(t *testing.T) {
	cache := NewCache(CacheConfig{TTL: time.Minute, MaxEntries: 10, CleanupInterval: time.Hour})
	defer cache.Close()

	d := Detector{Cache: cache}
	candidate := model.EventTemplate{ID: "weekly", Date: at(2024, 1, 1, 9, 0), Recurrence: model.RecurrenceWeekly}
	existing := []model.EventTemplate{single("x", at(2024, 2, 5, 9, 30))}

	assert.Equal(t, Conflicts(candidate, existing), d.Conflicts(candidate, existing))
	assert.True(t, d.Conflicts(candidate, existing))
	assert.True(t, d.Conflicts(candidate, existing))
	assert.EqualValues(t, 4, cache.Stats().Hits)
	assert.EqualValues(t, 2, cache.Stats().Misses)
}

func TestOverlaps(t *testing.T) {
	base := at(2024, 1, 1, 10, 0)
	h := time.Hour

	tests := []struct {
		name           string
		aStart, bStart time.Time
		want           bool
	}{
		{"identical", base, base, true},
		{"b starts inside a", base, base.Add(30 * time.Minute), true},
		{"a starts inside b", base.Add(59 * time.Minute), base, true},
		{"b starts when a ends", base, base.Add(h), false},
		{"a starts when b ends", base.Add(h), base, false},
		{"disjoint", base, base.Add(3 * h), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := overlaps(tt.aStart, tt.aStart.Add(h), tt.bStart, tt.bStart.Add(h))
			assert.Equal(t, tt.want, got)
		})
	}
}
