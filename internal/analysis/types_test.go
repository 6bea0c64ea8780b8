package analysis

import (
	"errors"
	"testing"
	"time"
)

func TestRepositoryRefName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://github.com/acme/widgets.git", "widgets"},
		{"https://github.com/acme/widgets", "widgets"},
		{"git@github.com:acme/widgets.git", "widgets"},
		{"https://example.com/deep/path/repo/", "repo"},
		{"", "unknown"},
	}

	for _, tt := range tests {
		ref := RepositoryRef{URL: tt.url, Branch: "main"}
		if got := ref.Name(); got != tt.want {
			t.Errorf("Name(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestRepositoryRefValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		ref := RepositoryRef{URL: "https://github.com/acme/widgets", Branch: "main"}
		if err := ref.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("missing url", func(t *testing.T) {
		ref := RepositoryRef{Branch: "main"}
		if err := ref.Validate(); err == nil {
			t.Error("Validate() should reject empty URL")
		}
	})

	t.Run("missing branch", func(t *testing.T) {
		ref := RepositoryRef{URL: "https://github.com/acme/widgets"}
		if err := ref.Validate(); err == nil {
			t.Error("Validate() should reject empty branch")
		}
	})
}

func TestFingerprintEqual(t *testing.T) {
	a := Fingerprint{CommitHash: "aaa"}
	b := Fingerprint{CommitHash: "aaa", Author: "someone else"}
	c := Fingerprint{CommitHash: "ccc"}
	unknown := Fingerprint{}

	if !a.Equal(b) {
		t.Error("fingerprints with the same hash should be equal")
	}
	if a.Equal(c) {
		t.Error("fingerprints with different hashes should not be equal")
	}
	if unknown.Equal(unknown) {
		t.Error("unknown fingerprints must never compare equal")
	}
	if a.Equal(unknown) || unknown.Equal(a) {
		t.Error("unknown fingerprint should not equal a known one")
	}
}

func TestRecordTransitions(t *testing.T) {
	ref := RepositoryRef{URL: "https://github.com/acme/widgets", Branch: "main"}

	t.Run("new record is pending", func(t *testing.T) {
		rec := NewRecord(ref, Fingerprint{CommitHash: "abc"})
		if rec.AnalysisID == "" {
			t.Error("AnalysisID should be assigned")
		}
		if rec.Status != StatusPending {
			t.Errorf("Status = %v, want %v", rec.Status, StatusPending)
		}
		if rec.CreatedAt.IsZero() {
			t.Error("CreatedAt should be set")
		}
	})

	t.Run("full lifecycle", func(t *testing.T) {
		rec := NewRecord(ref, Fingerprint{CommitHash: "abc"})
		rec.MarkRunning()
		if rec.Status != StatusRunning || rec.StartedAt == nil {
			t.Errorf("after MarkRunning: Status = %v, StartedAt = %v", rec.Status, rec.StartedAt)
		}
		rec.MarkCompleted()
		if rec.Status != StatusCompleted || rec.CompletedAt == nil {
			t.Errorf("after MarkCompleted: Status = %v, CompletedAt = %v", rec.Status, rec.CompletedAt)
		}
	})

	t.Run("terminal state is immutable", func(t *testing.T) {
		rec := NewRecord(ref, Fingerprint{})
		rec.MarkRunning()
		rec.MarkFailed(errors.New("boom"))
		if rec.Status != StatusFailed {
			t.Fatalf("Status = %v, want %v", rec.Status, StatusFailed)
		}
		completedAt := *rec.CompletedAt

		rec.MarkCompleted()
		if rec.Status != StatusFailed {
			t.Error("MarkCompleted should not override a failed record")
		}
		rec.MarkRunning()
		if rec.Status != StatusFailed {
			t.Error("MarkRunning should not revive a failed record")
		}
		if !rec.CompletedAt.Equal(completedAt) {
			t.Error("CompletedAt should not change after the terminal transition")
		}
	})

	t.Run("double running is a no-op", func(t *testing.T) {
		rec := NewRecord(ref, Fingerprint{})
		rec.MarkRunning()
		started := *rec.StartedAt
		time.Sleep(time.Millisecond)
		rec.MarkRunning()
		if !rec.StartedAt.Equal(started) {
			t.Error("second MarkRunning should not reset StartedAt")
		}
	})
}

func TestStageResultFor(t *testing.T) {
	rec := NewRecord(RepositoryRef{URL: "u", Branch: "b"}, Fingerprint{})
	rec.AddStageResult(StageResult{Stage: StageStructural, Status: StageSuccess})
	rec.AddStageResult(StageResult{Stage: StageTechStack, Status: StageDegraded})

	if got := rec.StageResultFor(StageTechStack); got == nil || got.Status != StageDegraded {
		t.Errorf("StageResultFor(%q) = %+v", StageTechStack, got)
	}
	if got := rec.StageResultFor("nonexistent"); got != nil {
		t.Errorf("StageResultFor(nonexistent) = %+v, want nil", got)
	}
}

func TestBatchCompletedRecords(t *testing.T) {
	ref := RepositoryRef{URL: "u", Branch: "b"}
	ok := NewRecord(ref, Fingerprint{})
	ok.MarkRunning()
	ok.MarkCompleted()
	bad := NewRecord(ref, Fingerprint{})
	bad.MarkFailed(errors.New("clone failed"))

	batch := &BatchResult{
		Repositories: []RepoOutcome{
			{Status: StatusCompleted, Record: ok},
			{Status: StatusFailed, Record: bad},
			{Status: StatusCompleted, Record: nil},
		},
	}

	got := batch.CompletedRecords()
	if len(got) != 1 || got[0] != ok {
		t.Errorf("CompletedRecords() = %v, want only the completed record", got)
	}
}
