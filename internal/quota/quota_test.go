// Package quota tests cover admission arithmetic and reconciliation.
package quota

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"cloudcrate/internal/errs"
)

type memStore struct {
	used map[int64]int64
}

func (m *memStore) AddStorageUsed(_ context.Context, id int64, delta int64) error {
	m.used[id] += delta
	if m.used[id] < 0 {
		m.used[id] = 0
	}
	return nil
}

func (m *memStore) SetStorageUsed(_ context.Context, id int64, used int64) error {
	m.used[id] = used
	return nil
}

func TestAdmit(t *testing.T) {
	l := &Ledger{Store: &memStore{used: map[int64]int64{}}}

	c := Counters{Used: 900, Limit: 1000}
	if err := l.Admit(c, 50); err != nil {
		t.Fatalf("Admit(50): %v", err)
	}
	if err := l.Admit(c, 100); err != nil {
		t.Fatalf("Admit(100): %v, want exact fit admitted", err)
	}

	err := l.Admit(c, 101)
	qe, ok := errs.IsQuota(err)
	if !ok {
		t.Fatalf("err=%v, want QuotaError", err)
	}
	if qe.Used != 900 || qe.Limit != 1000 || qe.Attempted != 101 {
		t.Fatalf("quota error=%+v", qe)
	}
}

func TestFull(t *testing.T) {
	l := &Ledger{}
	if l.Full(Counters{Used: 999, Limit: 1000}) {
		t.Fatalf("under limit should not be full")
	}
	if !l.Full(Counters{Used: 1000, Limit: 1000}) {
		t.Fatalf("at limit should be full")
	}
}

func TestCommit(t *testing.T) {
	st := &memStore{used: map[int64]int64{}}
	l := &Ledger{Store: st}
	ctx := context.Background()

	if err := l.Commit(ctx, 1, 500); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := l.Commit(ctx, 1, -200); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if st.used[1] != 300 {
		t.Fatalf("used=%d, want 300", st.used[1])
	}
}

// TestTreeSize sums file bytes recursively, including directory entries.
func TestTreeSize(t *testing.T) {
	root := t.TempDir()
	fsys := afero.NewOsFs()

	if err := os.WriteFile(filepath.Join(root, "a.bin"), make([]byte, 100), 0o600); err != nil {
		t.Fatalf("writefile: %v", err)
	}
	sub := filepath.Join(root, "sub")
	if err := os.MkdirAll(sub, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sub, "b.bin"), make([]byte, 250), 0o600); err != nil {
		t.Fatalf("writefile: %v", err)
	}

	rootInfo, _ := os.Stat(root)
	subInfo, _ := os.Stat(sub)
	want := int64(100+250) + rootInfo.Size() + subInfo.Size()

	got, err := TreeSize(fsys, root)
	if err != nil {
		t.Fatalf("TreeSize: %v", err)
	}
	if got != want {
		t.Fatalf("size=%d, want %d", got, want)
	}

	// A plain file reports its own size.
	n, err := TreeSize(fsys, filepath.Join(sub, "b.bin"))
	if err != nil || n != 250 {
		t.Fatalf("file size=%d err=%v, want 250", n, err)
	}
}

func TestReconcile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "f"), make([]byte, 64), 0o600); err != nil {
		t.Fatalf("writefile: %v", err)
	}
	st := &memStore{used: map[int64]int64{1: 12345}}
	l := &Ledger{Store: st}

	size, err := l.Reconcile(context.Background(), afero.NewOsFs(), 1, root)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if st.used[1] != size {
		t.Fatalf("used=%d, want reconciled %d", st.used[1], size)
	}
	want, _ := TreeSize(afero.NewOsFs(), root)
	if size != want {
		t.Fatalf("size=%d, want %d", size, want)
	}
}
