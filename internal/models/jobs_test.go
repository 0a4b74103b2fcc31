package models

import "testing"

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to string }{
		{JobStatusPending, JobStatusQueued},
		{JobStatusQueued, JobStatusRunning},
		{JobStatusRunning, JobStatusCompleted},
		{JobStatusRunning, JobStatusFailed},
		{JobStatusRunning, JobStatusPaused},
		{JobStatusPaused, JobStatusQueued},
		{JobStatusPaused, JobStatusRunning},
		{JobStatusPending, JobStatusCancelled},
		{JobStatusQueued, JobStatusCancelled},
		{JobStatusRunning, JobStatusCancelled},
		{JobStatusPaused, JobStatusCancelled},
		{JobStatusFailed, JobStatusQueued}, // retry path
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be legal", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to string }{
		{JobStatusPending, JobStatusRunning},
		{JobStatusQueued, JobStatusCompleted},
		{JobStatusCompleted, JobStatusQueued},
		{JobStatusCompleted, JobStatusCancelled},
		{JobStatusCancelled, JobStatusQueued},
		{JobStatusFailed, JobStatusRunning},
		{JobStatusFailed, JobStatusCancelled},
		{JobStatusPaused, JobStatusCompleted},
	}
	for _, tc := range illegal {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be illegal", tc.from, tc.to)
		}
	}
}

func TestIsTerminalAndActive(t *testing.T) {
	for _, status := range []string{JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		if !IsTerminal(status) {
			t.Errorf("%s should be terminal", status)
		}
		if IsActive(status) {
			t.Errorf("%s should not be active", status)
		}
	}
	for _, status := range ActiveStatuses {
		if IsTerminal(status) {
			t.Errorf("%s should not be terminal", status)
		}
		if !IsActive(status) {
			t.Errorf("%s should be active", status)
		}
	}
}

func TestDefaultPriorityOrdering(t *testing.T) {
	// delete preempts reindex preempts index preempts incremental
	if DefaultPriority(JobKindDelete) <= DefaultPriority(JobKindReindex) {
		t.Error("delete should outrank reindex")
	}
	if DefaultPriority(JobKindReindex) <= DefaultPriority(JobKindIndex) {
		t.Error("reindex should outrank index")
	}
	if DefaultPriority(JobKindIndex) <= DefaultPriority(JobKindIncrementalUpdate) {
		t.Error("index should outrank incremental")
	}
	if DefaultPriority("bogus") != 0 {
		t.Error("unknown kind should default to zero")
	}
}

func TestDerivedStatus(t *testing.T) {
	c := &Collection{StoredStatus: StoredStatusActive}
	if got := c.DerivedStatus(nil); got != StoredStatusActive {
		t.Errorf("no active job: got %s, want %s", got, StoredStatusActive)
	}

	cases := map[string]string{
		JobKindIndex:             DerivedIndexing,
		JobKindReindex:           DerivedReindexing,
		JobKindIncrementalUpdate: DerivedUpdating,
		JobKindDelete:            DerivedDeleting,
	}
	for kind, want := range cases {
		if got := c.DerivedStatus(&Job{Kind: kind}); got != want {
			t.Errorf("kind %s: got %s, want %s", kind, got, want)
		}
	}

	// validate does not mask the stored status
	if got := c.DerivedStatus(&Job{Kind: JobKindValidate}); got != StoredStatusActive {
		t.Errorf("validate job should not change status, got %s", got)
	}
}

func TestIncrementalPayloadIsEmpty(t *testing.T) {
	p := &IncrementalPayload{}
	if !p.IsEmpty() {
		t.Error("empty payload should report empty")
	}
	p.Deleted = []string{"a.md"}
	if p.IsEmpty() {
		t.Error("payload with deletions should not report empty")
	}
}

func TestNamespaceFor(t *testing.T) {
	cases := map[string]string{
		"MyVault":    "vault_myvault",
		"my-notes":   "vault_my_notes",
		"work_notes": "vault_work_notes",
	}
	for name, want := range cases {
		if got := NamespaceFor(name); got != want {
			t.Errorf("NamespaceFor(%q) = %q, want %q", name, got, want)
		}
	}
}
