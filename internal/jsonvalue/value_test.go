package jsonvalue

import "testing"

func TestObjectPreservesInsertionOrder(t *testing.T) {
	o := NewObject()
	o.Set("z", 1.0)
	o.Set("a", 2.0)
	o.Set("m", 3.0)

	got := Keys(o)
	want := []string{"z", "a", "m"}
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	inner := NewObject()
	inner.Set("x", 1.0)
	outer := NewObject()
	outer.Set("inner", inner)
	outer.Set("list", []any{1.0, 2.0})

	cloned := Clone(outer).(*Object)
	clonedInner, _ := cloned.Get("inner")
	clonedInnerObj := clonedInner.(*Object)
	clonedInnerObj.Set("x", 99.0)

	origInnerVal, _ := inner.Get("x")
	if origInnerVal != 1.0 {
		t.Errorf("Clone did not deep-copy nested object; mutation leaked back: %v", origInnerVal)
	}

	clonedList, _ := cloned.Get("list")
	clonedSlice := clonedList.([]any)
	clonedSlice[0] = 42.0

	origList, _ := outer.Get("list")
	if origList.([]any)[0] != 1.0 {
		t.Errorf("Clone did not deep-copy nested array; mutation leaked back: %v", origList)
	}
}

func TestAsObjectAndAsArray(t *testing.T) {
	o := NewObject()
	if _, ok := AsObject(o); !ok {
		t.Error("AsObject(*Object) should succeed")
	}
	if _, ok := AsObject("not an object"); ok {
		t.Error("AsObject(string) should fail")
	}
	if _, ok := AsArray([]any{1.0}); !ok {
		t.Error("AsArray([]any) should succeed")
	}
	if _, ok := AsArray(42.0); ok {
		t.Error("AsArray(float64) should fail")
	}
}
