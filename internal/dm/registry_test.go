package dm

import (
	"context"
	"testing"

	"github.com/dm-lva/core/internal/errs"
	"github.com/dm-lva/core/internal/target"
)

func newTestRegistry(t *testing.T, maxDevices int) *Registry {
	t.Helper()
	targets := target.NewRegistry(discardLogger())
	return NewRegistry(maxDevices, targets, &recordingBlockLayer{}, discardLogger())
}

// Scenario 7: duplicate name create.
func TestDuplicateNameCreate(t *testing.T) {
	dr := newTestRegistry(t, 8)

	if _, err := dr.Create("vg0-lv0", 4); err != nil {
		t.Fatalf("first Create: %v", err)
	}

	_, err := dr.Create("vg0-lv0", 5)
	if err == nil {
		t.Fatal("second Create with duplicate name should fail")
	}
	if kind, ok := errs.Of(err); !ok || kind != errs.Duplicate {
		t.Fatalf("second Create error = %v, want Duplicate", err)
	}

	// Slot 5 must not have been consumed by the failed create.
	if _, err := dr.FindByMinor(5); err == nil {
		t.Fatal("minor 5 should still be free after the failed duplicate create")
	}
	if _, err := dr.Create("vg0-lv1", 5); err != nil {
		t.Fatalf("minor 5 should still be available: %v", err)
	}
}

func TestCreatePreferredMinorInUse(t *testing.T) {
	dr := newTestRegistry(t, 8)
	if _, err := dr.Create("a", 2); err != nil {
		t.Fatalf("Create(a, 2): %v", err)
	}
	_, err := dr.Create("b", 2)
	if kind, ok := errs.Of(err); !ok || kind != errs.InUse {
		t.Fatalf("Create(b, 2) error = %v, want InUse", err)
	}
}

func TestCreateLowestFreeMinor(t *testing.T) {
	dr := newTestRegistry(t, 4)
	minors := make([]int, 4)
	for i := 0; i < 4; i++ {
		m, err := dr.Create(string(rune('a'+i)), -1)
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		minors[i] = m
	}
	for i, m := range minors {
		if m != i {
			t.Fatalf("minors = %v, want [0,1,2,3]", minors)
		}
	}
	if _, err := dr.Create("e", -1); err == nil {
		t.Fatal("Create should fail once all slots are full")
	}
}

func TestRemoveRefusesWhileInUse(t *testing.T) {
	dr := newTestRegistry(t, 4)
	if _, err := dr.Create("x", -1); err != nil {
		t.Fatalf("Create: %v", err)
	}
	md, err := dr.FindByName("x")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	mt := buildTestTable(t, []Sector{99}, 32)
	if err := md.Load(mt); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ctx := context.Background()
	if err := md.Activate(ctx, nil); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := md.IncUse(); err != nil {
		t.Fatalf("IncUse: %v", err)
	}

	if err := dr.Remove("x"); err == nil {
		t.Fatal("Remove should refuse a device with a positive use count")
	} else if kind, ok := errs.Of(err); !ok || kind != errs.Busy {
		t.Fatalf("Remove error = %v, want Busy", err)
	}

	if err := md.DecUse(); err != nil {
		t.Fatalf("DecUse: %v", err)
	}
	if err := md.Suspend(ctx); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if err := dr.Remove("x"); err != nil {
		t.Fatalf("Remove after use count drops to 0: %v", err)
	}
}

func TestRemoveUnknownDevice(t *testing.T) {
	dr := newTestRegistry(t, 4)
	if err := dr.Remove("nonexistent"); err == nil {
		t.Fatal("Remove of an unknown device should fail")
	}
}
