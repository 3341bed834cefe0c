package budget

import (
	"context"
	"testing"
)

func TestInMemoryDeduplicator_FirstAlertPasses(t *testing.T) {
	d := NewInMemoryDeduplicator()
	ctx := context.Background()

	if !d.ShouldAlert(ctx, "key-1", AlertLevelWarning) {
		t.Error("expected first alert to pass")
	}
}

func TestInMemoryDeduplicator_RepeatedLevelSuppressed(t *testing.T) {
	d := NewInMemoryDeduplicator()
	ctx := context.Background()

	d.ShouldAlert(ctx, "key-1", AlertLevelWarning)
	if d.ShouldAlert(ctx, "key-1", AlertLevelWarning) {
		t.Error("expected repeated alert to be suppressed")
	}
}

func TestInMemoryDeduplicator_LevelChangePasses(t *testing.T) {
	d := NewInMemoryDeduplicator()
	ctx := context.Background()

	d.ShouldAlert(ctx, "key-1", AlertLevelWarning)
	if !d.ShouldAlert(ctx, "key-1", AlertLevelCritical) {
		t.Error("expected escalated alert to pass")
	}
}

func TestInMemoryDeduplicator_KeysAreIndependent(t *testing.T) {
	d := NewInMemoryDeduplicator()
	ctx := context.Background()

	d.ShouldAlert(ctx, "key-1", AlertLevelWarning)
	if !d.ShouldAlert(ctx, "key-2", AlertLevelWarning) {
		t.Error("expected alerts for other keys to pass")
	}
}

func TestInMemoryDeduplicator_ClearAlert(t *testing.T) {
	d := NewInMemoryDeduplicator()
	ctx := context.Background()

	d.ShouldAlert(ctx, "key-1", AlertLevelWarning)
	d.ClearAlert(ctx, "key-1")

	if !d.ShouldAlert(ctx, "key-1", AlertLevelWarning) {
		t.Error("expected alert to pass after clear")
	}
}
