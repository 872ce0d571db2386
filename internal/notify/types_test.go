package notify

import "testing"

func TestCategoryIsTotal(t *testing.T) {
	cases := map[Type]Category{
		PRNew:             CategoryPR,
		PRConflicts:       CategoryPR,
		JiraBlocker:       CategoryJira,
		JiraSprintChange:  CategoryJira,
		AlertSecurity:     CategoryAlert,
		AlertBuildFailure: CategoryAlert,
		StandupDaily:      CategoryStandup,
		WeeklyChangelog:   CategoryGeneral,
		Type("bogus"):     CategoryGeneral,
	}

	for input, expected := range cases {
		if got := input.Category(); got != expected {
			t.Fatalf("Category(%s)=%s, expected %s", input, got, expected)
		}
	}
}

func TestMappingKey(t *testing.T) {
	if got := PRMerged.Category().MappingKey(); got != "pr_*" {
		t.Fatalf("expected pr_*, got %q", got)
	}
	if got := WeeklyChangelog.Category().MappingKey(); got != "" {
		t.Fatalf("expected empty key for general category, got %q", got)
	}
}

func TestEveryTypeIsValid(t *testing.T) {
	for _, typ := range AllTypes {
		if !typ.Valid() {
			t.Fatalf("%s should be valid", typ)
		}
	}
	if Type("pr_unknown").Valid() {
		t.Fatalf("unknown type reported valid")
	}
}

func TestPriorityFor(t *testing.T) {
	cases := map[Urgency]Priority{
		UrgencyCritical: PriorityCritical,
		UrgencyHigh:     PriorityHigh,
		UrgencyMedium:   PriorityMedium,
		UrgencyLow:      PriorityLow,
		Urgency(""):     PriorityMedium,
	}
	for input, expected := range cases {
		if got := PriorityFor(input); got != expected {
			t.Fatalf("PriorityFor(%s)=%s, expected %s", input, got, expected)
		}
	}
}
