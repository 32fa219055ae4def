package handle

import "testing"

func TestSlotSetCancelsDisplaced(t *testing.T) {
	t.Parallel()

	var s Slot
	first, second := Func(nil), Func(nil)
	s.Set(first)
	s.Set(second)
	if !first.IsCancelled() {
		t.Fatal("displaced child should be cancelled")
	}
	if second.IsCancelled() {
		t.Fatal("current child should stay active")
	}

	s.Cancel()
	if !second.IsCancelled() || !s.IsCancelled() {
		t.Fatal("Cancel should release the current child")
	}
}

func TestSlotSetAfterCancel(t *testing.T) {
	t.Parallel()

	var s Slot
	s.Cancel()
	late := Func(nil)
	s.Set(late)
	if !late.IsCancelled() {
		t.Fatal("Set on a cancelled slot must cancel the child immediately")
	}
}
