package anchor

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

func TestNewRing(t *testing.T) {
	r, err := NewRing(64, 32)
	if err != nil {
		t.Fatal(err)
	}
	if w, h := r.Size(); w != 64 || h != 32 {
		t.Errorf("Size() = %dx%d, want 64x32", w, h)
	}
	if r.ValidCount() != 0 || r.Ready() {
		t.Error("fresh ring should hold no valid anchors")
	}
	for role := RoleOldest; role <= RoleNewest; role++ {
		f := r.Frame(role)
		if f.Color.Width() != 64 || f.Aux.Height() != 32 {
			t.Errorf("%s: buffers not allocated at ring size", role)
		}
	}

	if _, err := NewRing(0, 10); err == nil {
		t.Error("NewRing(0, 10) should fail")
	}
}

func TestRotateIsPermutation(t *testing.T) {
	r, _ := NewRing(4, 4)
	frames := map[*Frame]bool{}
	for _, f := range r.slots {
		frames[f] = true
	}

	for i := range 10 {
		oldest, middle, newest := r.Oldest(), r.Middle(), r.Newest()
		r.Rotate()

		if r.Oldest() != middle {
			t.Fatalf("rotation %d: middle did not become oldest", i)
		}
		if r.Middle() != newest {
			t.Fatalf("rotation %d: newest did not become middle", i)
		}
		if r.Newest() != oldest {
			t.Fatalf("rotation %d: evicted oldest not reused as newest", i)
		}

		seen := map[*Frame]bool{}
		for role := RoleOldest; role <= RoleNewest; role++ {
			f := r.Frame(role)
			if !frames[f] || seen[f] {
				t.Fatalf("rotation %d: role %s maps to a lost or duplicated frame", i, role)
			}
			seen[f] = true
		}
	}
}

func TestRotateThreeTimesRestoresRoles(t *testing.T) {
	r, _ := NewRing(2, 2)
	want := [Slots]int{r.Slot(RoleOldest), r.Slot(RoleMiddle), r.Slot(RoleNewest)}
	r.Rotate()
	r.Rotate()
	r.Rotate()
	got := [Slots]int{r.Slot(RoleOldest), r.Slot(RoleMiddle), r.Slot(RoleNewest)}
	if got != want {
		t.Errorf("roles after 3 rotations = %v, want %v", got, want)
	}
}

func TestRotateKeepsValidity(t *testing.T) {
	r, _ := NewRing(2, 2)
	r.Newest().Valid = true
	r.Rotate()
	if !r.Middle().Valid {
		t.Error("completed newest should stay valid as middle")
	}
	if r.Newest().Valid {
		t.Error("reused slot should be invalid")
	}

	r.Newest().Valid = true
	r.Rotate()
	if !r.Ready() {
		t.Error("two completed anchors should make the ring ready")
	}
	r.Rotate()
	if r.Oldest().Valid != true || r.Middle().Valid {
		t.Error("unexpected validity after third rotation")
	}
}

func TestCheckAndReallocate(t *testing.T) {
	r, _ := NewRing(8, 8)
	r.Newest().Valid = true
	before := r.Newest()

	if err := r.Check(8, 8); err != nil {
		t.Errorf("Check(8, 8) error = %v", err)
	}
	err := r.Check(16, 8)
	if !errors.Is(err, ErrResolutionMismatch) {
		t.Fatalf("Check(16, 8) error = %v, want ErrResolutionMismatch", err)
	}

	if err := r.Reallocate(16, 8); err != nil {
		t.Fatal(err)
	}
	if err := r.Check(16, 8); err != nil {
		t.Errorf("Check after Reallocate error = %v", err)
	}
	if r.Newest() == before {
		t.Error("Reallocate should replace frames, not patch them")
	}
	if r.ValidCount() != 0 {
		t.Error("Reallocate should invalidate every anchor")
	}
	if r.Middle().Color.Width() != 16 {
		t.Error("buffers not reallocated at new size")
	}
}

func TestInvalidate(t *testing.T) {
	r, _ := NewRing(2, 2)
	for role := RoleOldest; role <= RoleNewest; role++ {
		r.Frame(role).Valid = true
	}
	r.Invalidate()
	if r.ValidCount() != 0 {
		t.Errorf("ValidCount() = %d after Invalidate", r.ValidCount())
	}
}

func TestDescriptors(t *testing.T) {
	r, _ := NewRing(320, 200)
	descs := r.Descriptors()
	if len(descs) != 2*Slots {
		t.Fatalf("len(Descriptors()) = %d, want %d", len(descs), 2*Slots)
	}
	for i, d := range descs {
		if d.Size.Width != 320 || d.Size.Height != 200 || d.Size.DepthOrArrayLayers != 1 {
			t.Errorf("desc %d size = %+v", i, d.Size)
		}
		if d.Dimension != gputypes.TextureDimension2D {
			t.Errorf("desc %d dimension = %v", i, d.Dimension)
		}
		want := gputypes.TextureFormatRGBA8Unorm
		if i%2 == 1 {
			want = gputypes.TextureFormatRGBA16Float
		}
		if d.Format != want {
			t.Errorf("desc %d (%s) format = %v, want %v", i, d.Label, d.Format, want)
		}
		if d.Usage&gputypes.TextureUsageStorageBinding == 0 {
			t.Errorf("desc %d lacks storage binding usage", i)
		}
	}
	if descs[0].Label != "anchor0.color" || descs[5].Label != "anchor2.sdmv" {
		t.Errorf("labels = %q, %q", descs[0].Label, descs[5].Label)
	}
}

func TestRoleString(t *testing.T) {
	if RoleMiddle.String() != "middle" || Role(7).String() != "unknown" {
		t.Error("unexpected role names")
	}
}
