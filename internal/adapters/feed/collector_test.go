package feed

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/AegisIsolate/internal/domain"
	"github.com/ghalamif/AegisIsolate/internal/ports"
)

func TestFeedFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.jsonl")
	content := `{"unit":1,"kind":"corrected","magnitude":3,"time":"2024-05-01T10:00:00Z"}
not json

{"unit":2,"kind":"uce","source":"reri"}
{"unit":4,"kind":"fatal"}
{"unit":0,"kind":"ce"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write feed: %v", err)
	}

	obs := &warnObs{}
	c, err := NewCollector(Config{Path: path}, obs)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	out := make(chan *domain.ClassifiedError, 8)
	if err := c.Start(out); err != nil {
		t.Fatalf("start: %v", err)
	}

	var got []*domain.ClassifiedError
	for len(got) < 3 {
		select {
		case ev := <-out:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if got[0].UnitID != 1 || got[0].Kind != domain.Corrected || got[0].Magnitude != 3 || got[0].Time.IsZero() {
		t.Fatalf("unexpected first event: %+v", got[0])
	}
	if got[1].UnitID != 2 || got[1].Kind != domain.Uncorrected || got[1].Source != "reri" {
		t.Fatalf("unexpected second event: %+v", got[1])
	}
	if got[2].Magnitude != 1 || got[2].Source != "feed" || !got[2].Time.IsZero() {
		t.Fatalf("expected defaults on third event: %+v", got[2])
	}
	if obs.count() != 2 {
		t.Fatalf("expected 2 invalid lines logged, got %d", obs.count())
	}
}

func TestFeedStopWhileBlocked(t *testing.T) {
	pr, pw := io.Pipe()
	c := NewReaderCollector(pr, &warnObs{})
	out := make(chan *domain.ClassifiedError, 1)
	if err := c.Start(out); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(out); err == nil {
		t.Fatalf("second start must fail")
	}

	go pw.Write([]byte("{\"unit\":5,\"kind\":\"uncorrected\"}\n"))
	select {
	case ev := <-out:
		if ev.UnitID != 5 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stop did not return while reader was blocked")
	}
}

func TestFeedStopOnIdleStdin(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	stdin := os.Stdin
	os.Stdin = r
	t.Cleanup(func() {
		os.Stdin = stdin
		w.Close()
		r.Close()
	})

	c, err := NewCollector(Config{Path: "-"}, &warnObs{})
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	out := make(chan *domain.ClassifiedError)
	if err := c.Start(out); err != nil {
		t.Fatalf("start: %v", err)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop() }()
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop hung on an idle stdin feed")
	}
	if err := c.Start(out); err == nil {
		t.Fatalf("restart must wait for the stdin reader to leave")
	}

	// The next decoder line releases the reader without being delivered.
	if _, err := w.Write([]byte("{\"unit\":1,\"kind\":\"uce\"}\n")); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stdin reader did not leave after a line")
	}
	select {
	case ev := <-out:
		t.Fatalf("event delivered after stop: %+v", ev)
	default:
	}
}

func TestFeedSkipsOversizedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.jsonl")
	huge := `{"unit":3,"kind":"ce","source":"` + strings.Repeat("x", maxLineBytes+100) + `"}`
	content := huge + "\n" + `{"unit":6,"kind":"uce"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write feed: %v", err)
	}

	obs := &warnObs{}
	c, err := NewCollector(Config{Path: path}, obs)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	out := make(chan *domain.ClassifiedError, 2)
	if err := c.Start(out); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	select {
	case ev := <-out:
		if ev.UnitID != 6 || ev.Kind != domain.Uncorrected {
			t.Fatalf("expected the line after the oversized one, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("feed stopped at the oversized line")
	}
	if obs.count() != 1 {
		t.Fatalf("expected one warning for the oversized line, got %d", obs.count())
	}
}

func TestNewCollectorRequiresPath(t *testing.T) {
	if _, err := NewCollector(Config{}, &warnObs{}); err == nil {
		t.Fatalf("expected error for empty path")
	}
	c, _ := NewCollector(Config{Path: filepath.Join(t.TempDir(), "missing")}, &warnObs{})
	if err := c.Start(make(chan *domain.ClassifiedError)); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

type warnObs struct {
	mu    sync.Mutex
	warns int
}

func (w *warnObs) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.warns
}

func (w *warnObs) LogInfo(string, ...ports.Field) {}
func (w *warnObs) LogWarn(string, ...ports.Field) {
	w.mu.Lock()
	w.warns++
	w.mu.Unlock()
}
func (w *warnObs) LogError(string, error, ...ports.Field)                    {}
func (w *warnObs) LogCritical(string, error, ...ports.Field)                 {}
func (w *warnObs) IncCounter(string, float64)                                {}
func (w *warnObs) ObserveLatency(string, float64)                            {}
func (w *warnObs) SetGauge(string, float64)                                  {}
func (w *warnObs) RecordDLQ(ports.WALEntryID, *domain.IsolationEvent, error) {}
