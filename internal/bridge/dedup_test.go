package bridge

import "testing"

func TestDedup(t *testing.T) {
	d := NewDedup()
	if d.Seen("chat1", "m1") {
		t.Error("first sighting reported as seen")
	}
	if !d.Seen("chat1", "m1") {
		t.Error("replay not caught")
	}
	if d.Seen("chat2", "m1") {
		t.Error("same message id in another conversation must not collide")
	}
	if d.Seen("chat1", "m2") {
		t.Error("fresh message id reported as seen")
	}
}
