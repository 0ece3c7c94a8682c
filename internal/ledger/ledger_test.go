package ledger

import (
	"sync"
	"testing"
)

func TestLedger_RegisterIncrement(t *testing.T) {
	l := New("a", "b")

	if l.Register("a") {
		t.Error("Expected duplicate register to report false")
	}
	if !l.Register("c") {
		t.Error("Expected register of new name to succeed")
	}
	if !l.Increment("a") || !l.Increment("a") {
		t.Fatal("Expected increment of known name to succeed")
	}
	if l.Increment("missing") {
		t.Error("Expected increment of unknown name to fail")
	}

	if c, _ := l.Count("a"); c != 2 {
		t.Errorf("Expected count 2 for a, got %d", c)
	}
	if l.Len() != 3 {
		t.Errorf("Expected 3 entries, got %d", l.Len())
	}
	if l.Total() != 2 {
		t.Errorf("Expected total 2, got %d", l.Total())
	}
}

func TestLedger_ConcurrentIncrement(t *testing.T) {
	l := New("a")
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				l.Increment("a")
			}
		}()
	}
	wg.Wait()

	if c, _ := l.Count("a"); c != 10000 {
		t.Errorf("Expected 10000, got %d", c)
	}
}

func TestLedger_Retire(t *testing.T) {
	tests := []struct {
		name       string
		count      int64
		recipients []string
		wantShares map[string]int64
		wantDrop   int64
	}{
		{
			name:       "even split",
			count:      30,
			recipients: []string{"a", "c"},
			wantShares: map[string]int64{"a": 15, "c": 15},
		},
		{
			name:       "remainder goes to first recipients",
			count:      31,
			recipients: []string{"c", "a"},
			wantShares: map[string]int64{"c": 16, "a": 15},
		},
		{
			name:       "single recipient",
			count:      7,
			recipients: []string{"a"},
			wantShares: map[string]int64{"a": 7},
		},
		{
			name:       "no recipients drops",
			count:      9,
			recipients: nil,
			wantShares: map[string]int64{},
			wantDrop:   9,
		},
		{
			name:       "unknown and repeated recipients skipped",
			count:      10,
			recipients: []string{"a", "ghost", "a", "c"},
			wantShares: map[string]int64{"a": 5, "c": 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New("a", "b", "c")
			l.Add("b", tt.count)
			before := l.Total()

			r, ok := l.Retire("b", tt.recipients)
			if !ok {
				t.Fatal("Expected retire of known name to succeed")
			}
			if r.Count != tt.count {
				t.Errorf("Count = %d, want %d", r.Count, tt.count)
			}
			if r.Dropped != tt.wantDrop {
				t.Errorf("Dropped = %d, want %d", r.Dropped, tt.wantDrop)
			}
			if len(r.Shares) != len(tt.wantShares) {
				t.Fatalf("Shares = %v, want %v", r.Shares, tt.wantShares)
			}
			for name, want := range tt.wantShares {
				if r.Shares[name] != want {
					t.Errorf("Shares[%s] = %d, want %d", name, r.Shares[name], want)
				}
				if c, _ := l.Count(name); c != want {
					t.Errorf("Count(%s) = %d, want %d", name, c, want)
				}
			}
			if _, exists := l.Count("b"); exists {
				t.Error("Expected b to be removed")
			}
			if l.Total() != before-tt.wantDrop {
				t.Errorf("Total = %d, want %d", l.Total(), before-tt.wantDrop)
			}
		})
	}
}

func TestLedger_RetireUnknown(t *testing.T) {
	l := New("a")
	if _, ok := l.Retire("missing", []string{"a"}); ok {
		t.Error("Expected retire of unknown name to report false")
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    Policy
		wantErr bool
	}{
		{input: "", want: Replication},
		{input: "replication", want: Replication},
		{input: "current", want: Current},
		{input: "random", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParsePolicy(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolicy(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParsePolicy(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !tt.wantErr && got.String() != map[Policy]string{Replication: "replication", Current: "current"}[got] {
			t.Errorf("String() = %q", got.String())
		}
	}
}
