// File: internal/usecase/storyboard_uc_test.go
package usecase

import (
	"context"
	"errors"
	"testing"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/model"
)

func newStoryboardFixture(t *testing.T) (*StoryboardUseCase, *memShotRepo, *memVersionRepo, *model.Project) {
	t.Helper()
	tm := &mockTxManager{}
	log := newTestLogger()
	versions := newMemVersionRepo()
	shots := newMemShotRepo()
	projects := newMemProjectRepo()
	uc := NewStoryboardUseCase(versions, shots, projects, tm, log)

	p, err := model.NewProject("p1", "u1", "t", "script")
	if err != nil {
		t.Fatalf("new project: %v", err)
	}
	if err := projects.Save(context.Background(), nil, p); err != nil {
		t.Fatalf("save project: %v", err)
	}
	shot, err := model.NewShot("p1", 1, "a castle at dawn")
	if err != nil {
		t.Fatalf("new shot: %v", err)
	}
	if err := shots.Save(context.Background(), nil, shot); err != nil {
		t.Fatalf("save shot: %v", err)
	}
	return uc, shots, versions, p
}

func TestStoryboard_RecordVersion(t *testing.T) {
	ctx := context.Background()

	t.Run("should number versions monotonically from 1", func(t *testing.T) {
		uc, shots, _, _ := newStoryboardFixture(t)

		v1, err := uc.RecordVersion(ctx, "p1", 1, "https://provider.example/a.png")
		if err != nil {
			t.Fatalf("record v1: %v", err)
		}
		v2, err := uc.RecordVersion(ctx, "p1", 1, "https://provider.example/b.png")
		if err != nil {
			t.Fatalf("record v2: %v", err)
		}
		if v1 != 1 || v2 != 2 {
			t.Fatalf("versions = %d, %d, want 1, 2", v1, v2)
		}
		shot, _ := shots.Find(ctx, nil, "p1", 1)
		if shot.CurrentVersion != 2 || shot.ImageURL != "https://provider.example/b.png" {
			t.Fatalf("shot tracks version %d url %q, want 2/b.png", shot.CurrentVersion, shot.ImageURL)
		}
	})

	t.Run("should keep exactly one current version", func(t *testing.T) {
		uc, _, versions, _ := newStoryboardFixture(t)

		for i := 0; i < 3; i++ {
			if _, err := uc.RecordVersion(ctx, "p1", 1, "https://provider.example/x.png"); err != nil {
				t.Fatalf("record: %v", err)
			}
		}
		history, _ := versions.ListHistory(ctx, nil, "p1", 1)
		current := 0
		for _, v := range history {
			if v.IsCurrent {
				current++
			}
		}
		if current != 1 {
			t.Fatalf("current versions = %d, want 1", current)
		}
	})

	t.Run("should reject invalid input", func(t *testing.T) {
		uc, _, _, _ := newStoryboardFixture(t)
		if _, err := uc.RecordVersion(ctx, "p1", 0, "url"); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("shot 0: err = %v", err)
		}
		if _, err := uc.RecordVersion(ctx, "p1", 1, ""); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("empty url: err = %v", err)
		}
	})
}

func TestStoryboard_SwitchVersion(t *testing.T) {
	ctx := context.Background()

	t.Run("should activate an older version without creating one", func(t *testing.T) {
		uc, shots, versions, _ := newStoryboardFixture(t)
		if _, err := uc.RecordVersion(ctx, "p1", 1, "https://provider.example/a.png"); err != nil {
			t.Fatalf("record: %v", err)
		}
		if _, err := uc.RecordVersion(ctx, "p1", 1, "https://provider.example/b.png"); err != nil {
			t.Fatalf("record: %v", err)
		}

		if err := uc.SwitchVersion(ctx, "u1", "p1", 1, 1); err != nil {
			t.Fatalf("switch: %v", err)
		}
		shot, _ := shots.Find(ctx, nil, "p1", 1)
		if shot.CurrentVersion != 1 || shot.ImageURL != "https://provider.example/a.png" {
			t.Fatalf("shot at version %d url %q, want 1/a.png", shot.CurrentVersion, shot.ImageURL)
		}
		if max, _ := versions.MaxVersion(ctx, nil, "p1", 1); max != 2 {
			t.Fatalf("max version = %d, want 2 (switch creates nothing)", max)
		}
	})

	t.Run("should fail for a version that does not exist", func(t *testing.T) {
		uc, _, _, _ := newStoryboardFixture(t)
		if _, err := uc.RecordVersion(ctx, "p1", 1, "https://provider.example/a.png"); err != nil {
			t.Fatalf("record: %v", err)
		}
		if err := uc.SwitchVersion(ctx, "u1", "p1", 1, 9); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("should enforce ownership", func(t *testing.T) {
		uc, _, _, _ := newStoryboardFixture(t)
		if _, err := uc.RecordVersion(ctx, "p1", 1, "https://provider.example/a.png"); err != nil {
			t.Fatalf("record: %v", err)
		}
		if err := uc.SwitchVersion(ctx, "u2", "p1", 1, 1); !errors.Is(err, domain.ErrNotOwner) {
			t.Fatalf("switch: err = %v, want ErrNotOwner", err)
		}
		if _, err := uc.ListHistory(ctx, "u2", "p1", 1); !errors.Is(err, domain.ErrNotOwner) {
			t.Fatalf("history: err = %v, want ErrNotOwner", err)
		}
	})
}

func TestStoryboard_ListHistory(t *testing.T) {
	t.Run("should list newest first", func(t *testing.T) {
		ctx := context.Background()
		uc, _, _, _ := newStoryboardFixture(t)
		for i := 0; i < 3; i++ {
			if _, err := uc.RecordVersion(ctx, "p1", 1, "https://provider.example/x.png"); err != nil {
				t.Fatalf("record: %v", err)
			}
		}
		history, err := uc.ListHistory(ctx, "u1", "p1", 1)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) != 3 || history[0].VersionNumber != 3 || history[2].VersionNumber != 1 {
			t.Fatalf("history order wrong: %+v", history)
		}
	})
}
