package effects

import (
	"bytes"
	"sync"
	"testing"
)

func TestProgressCounter_DoneWithoutStartIsNoop(t *testing.T) {
	t.Parallel()

	var p ProgressCounter
	p.Done()
	p.Done()
	if p.Active() {
		t.Fatal("expected inactive after unmatched Done")
	}

	p.Start()
	if !p.Active() {
		t.Fatal("expected active after Start")
	}
	p.Done()
	p.Done()
	if p.Active() {
		t.Error("expected inactive after Done")
	}
	p.Start()
	if !p.Active() {
		t.Error("extra Done must not leave a negative balance")
	}
}

func TestProgressCounter_Concurrent(t *testing.T) {
	t.Parallel()

	var p ProgressCounter
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Start()
			p.Done()
		}()
	}
	wg.Wait()
	if p.Active() {
		t.Error("expected inactive after balanced concurrent use")
	}
}

func TestWriterNotifier(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	n := NewWriterNotifier(&buf)
	n.Error("Session expired")
	n.Error("Network error")

	want := "error: Session expired\nerror: Network error\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	var r Recorder
	r.Error("a")
	r.Redirect("/login")

	if got := r.Errors(); len(got) != 1 || got[0] != "a" {
		t.Errorf("Errors() = %v", got)
	}
	if got := r.Redirects(); len(got) != 1 || got[0] != "/login" {
		t.Errorf("Redirects() = %v", got)
	}
}
