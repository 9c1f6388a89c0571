package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestNew(t *testing.T) {
	p := New("copy", 100, nil)
	if p.Op != "copy" {
		t.Errorf("expected Op 'copy', got %s", p.Op)
	}
	if p.Total != 100 {
		t.Errorf("expected Total 100, got %d", p.Total)
	}
	if p.cb == nil {
		t.Error("expected callback to be set to Noop, got nil")
	}
}

func TestAdd(t *testing.T) {
	var last int64
	p := New("copy", 100, func(op string, current, total int64) {
		last = current
	})

	p.Add(10)
	p.Add(25)
	if last != 35 {
		t.Errorf("expected callback with 35, got %d", last)
	}
	if p.Current() != 35 {
		t.Errorf("expected current 35, got %d", p.Current())
	}
}

func TestAdd_Zero(t *testing.T) {
	var calls int
	p := New("copy", 100, func(op string, current, total int64) { calls++ })
	p.Add(0)
	if calls != 0 {
		t.Errorf("expected no callback for zero bytes, got %d", calls)
	}
}

func TestSet(t *testing.T) {
	p := New("copy", 100, nil)
	p.Add(5)
	p.Set(60)
	if p.Current() != 60 {
		t.Errorf("expected current 60, got %d", p.Current())
	}
}

func TestNilProgress(t *testing.T) {
	var p *Progress
	p.Add(10)
	p.Set(10)
	if p.Current() != 0 {
		t.Errorf("expected 0 from nil progress, got %d", p.Current())
	}
}

func TestAdd_Concurrent(t *testing.T) {
	var mu sync.Mutex
	var calls int
	p := New("copy", 1000, func(op string, current, total int64) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.Add(1)
			}
		}()
	}
	wg.Wait()

	if p.Current() != 1000 {
		t.Errorf("expected current 1000, got %d", p.Current())
	}
	if calls != 1000 {
		t.Errorf("expected 1000 callbacks, got %d", calls)
	}
}

func TestTerminal_Render(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminalWriter(&buf, "copy", 2048, true)
	p := New("copy", 2048, term.Callback())

	p.Add(1024)
	out := buf.String()
	if !strings.Contains(out, "1.0 KiB/2.0 KiB") {
		t.Errorf("expected byte counts in %q", out)
	}
	if !strings.Contains(out, "(50%)") {
		t.Errorf("expected percentage in %q", out)
	}

	term.Done()
	if !strings.HasSuffix(buf.String(), "(100%)\n") {
		t.Errorf("expected completed bar, got %q", buf.String())
	}
}

func TestTerminal_Disabled(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminalWriter(&buf, "copy", 100, false)
	p := New("copy", 100, term.Callback())
	p.Add(50)
	term.Done()
	if buf.Len() != 0 {
		t.Errorf("expected no output when disabled, got %q", buf.String())
	}
	if term.IsEnabled() {
		t.Error("expected IsEnabled false")
	}
	term.SetEnabled(true)
	if !term.IsEnabled() {
		t.Error("expected IsEnabled true")
	}
}

func TestTerminal_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminalWriter(&buf, "copy", 0, true)
	term.Callback()("copy", 0, 0)
	if !strings.Contains(buf.String(), "copy [") {
		t.Errorf("expected a bar for an empty transfer, got %q", buf.String())
	}
}
