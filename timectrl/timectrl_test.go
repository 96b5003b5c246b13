package timectrl

import (
	"testing"
	"time"
)

var epoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestTimeControllerSetTime(t *testing.T) {
	tc := NewTimeController(epoch, time.Second, RealTime)

	newNow := epoch.Add(42 * time.Second)
	tc.SetTime(newNow)

	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestTimeControllerAdvanceNotifiesListeners(t *testing.T) {
	tc := NewTimeController(epoch, 100*time.Millisecond, Accelerated)

	var seen []time.Time
	tc.AddListener(func(now time.Time) { seen = append(seen, now) })

	tc.Advance(100 * time.Millisecond)
	tc.Advance(0)
	tc.Advance(-time.Second)
	got := tc.Advance(250 * time.Millisecond)

	want := epoch.Add(350 * time.Millisecond)
	if !got.Equal(want) || !tc.Now().Equal(want) {
		t.Fatalf("Advance result = %v, Now = %v, want %v", got, tc.Now(), want)
	}
	if len(seen) != 2 {
		t.Fatalf("listener calls = %d, want 2", len(seen))
	}
	if tc.Steps() != 2 {
		t.Fatalf("Steps() = %d, want 2", tc.Steps())
	}
	if tc.Elapsed() != 350*time.Millisecond {
		t.Fatalf("Elapsed() = %v", tc.Elapsed())
	}
}

func TestTimeControllerAdvanceIsReproducible(t *testing.T) {
	steps := []time.Duration{16 * time.Millisecond, 17 * time.Millisecond, 33 * time.Millisecond}
	a := NewTimeController(epoch, 0, Accelerated)
	b := NewTimeController(epoch, 0, Accelerated)
	for i := 0; i < 100; i++ {
		a.Advance(steps[i%len(steps)])
		b.Advance(steps[i%len(steps)])
	}
	if !a.Now().Equal(b.Now()) {
		t.Fatalf("diverged: %v vs %v", a.Now(), b.Now())
	}
}

func TestTimeControllerStartUpdatesNow(t *testing.T) {
	tc := NewTimeController(epoch, 5*time.Millisecond, Accelerated)

	done := tc.Start(15*time.Millisecond, nil)
	<-done

	expected := epoch.Add(15 * time.Millisecond)
	if got := tc.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
}

func TestTimeControllerStartStops(t *testing.T) {
	tc := NewTimeController(epoch, time.Millisecond, RealTime)
	stop := make(chan struct{})
	done := tc.Start(0, stop)
	close(stop)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not stop")
	}
}
