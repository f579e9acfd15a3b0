package proposal

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/m4xw311/codoc/errors"
)

type memStorage struct {
	mu     sync.Mutex
	files  map[string]string
	writes int
}

func newMemStorage() *memStorage { return &memStorage{files: map[string]string{}} }

func (m *memStorage) ReadFile(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("%s: no such file", path)
	}
	return []byte(data), nil
}

func (m *memStorage) WriteFile(ctx context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = string(data)
	m.writes++
	return nil
}

type fakeSurface struct {
	opened      []Document
	highlighted []string
	closed      []string
	openErr     error
}

func (f *fakeSurface) Open(ctx context.Context, doc Document) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = append(f.opened, doc)
	return nil
}

func (f *fakeSurface) Highlight(ctx context.Context, handle string, ranges []LineRange, hl []LineHighlight) error {
	f.highlighted = append(f.highlighted, handle)
	return nil
}

func (f *fakeSurface) Close(ctx context.Context, handle string) error {
	f.closed = append(f.closed, handle)
	return nil
}

func newTestStore(t *testing.T) (*Store, *memStorage, *fakeSurface) {
	t.Helper()
	storage := newMemStorage()
	surface := &fakeSurface{}
	s := NewStore(storage, []string{".pdf", ".docx", ".xlsx"}, nil)
	if err := s.RegisterSurface(surface); err != nil {
		t.Fatalf("RegisterSurface: %v", err)
	}
	return s, storage, surface
}

func openProposal(t *testing.T, s *Store, path, original, proposed string) string {
	t.Helper()
	opened, err := s.Open(context.Background(), path, original, proposed, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return opened.ID
}

func TestRegisterSurfaceOnce(t *testing.T) {
	s := NewStore(newMemStorage(), nil, nil)
	if _, err := s.Open(context.Background(), "a.txt", "a", "b", ""); !errors.Is(err, errors.ErrSurfaceNotRegistered) {
		t.Fatalf("expected ErrSurfaceNotRegistered, got %v", err)
	}
	if err := s.RegisterSurface(&fakeSurface{}); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := s.RegisterSurface(&fakeSurface{}); err == nil {
		t.Fatal("second registration should fail")
	}
}

func TestOpenWithoutChangesRegistersNothing(t *testing.T) {
	s, _, surface := newTestStore(t)
	opened, err := s.Open(context.Background(), "a.txt", "same\ntext", "same\ntext", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened.ID != "" || len(opened.Ranges) != 0 {
		t.Errorf("expected empty result, got %+v", opened)
	}
	if len(s.IDs()) != 0 || len(surface.opened) != 0 {
		t.Errorf("no proposal should be retained or displayed")
	}
}

func TestOpenRejectsDisallowedExtension(t *testing.T) {
	s, _, surface := newTestStore(t)
	for _, path := range []string{"report.pdf", "Spec.DOCX", "sheet.xlsx"} {
		_, err := s.Open(context.Background(), path, "a", "b", "")
		if !errors.Is(err, errors.ErrUnsupportedFileType) {
			t.Errorf("%s: expected ErrUnsupportedFileType, got %v", path, err)
		}
	}
	if len(s.IDs()) != 0 || len(surface.opened) != 0 {
		t.Error("rejected proposals must not mutate state")
	}
}

func TestOpenRegistersAndDisplays(t *testing.T) {
	s, _, surface := newTestStore(t)
	opened, err := s.Open(context.Background(), "docs/a.md", "a\nb\nc", "a\nX\nc", "fix b")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened.ID != "proposal_0" {
		t.Errorf("ID = %q", opened.ID)
	}
	if !reflect.DeepEqual(opened.Ranges, []LineRange{{1, 1}}) {
		t.Errorf("Ranges = %v", opened.Ranges)
	}
	if len(surface.opened) != 1 {
		t.Fatalf("expected one opened document")
	}
	doc := surface.opened[0]
	if doc.Handle != "file-proposal://proposal_0/docs/a.md" || doc.Content != "a\nX\nc" {
		t.Errorf("unexpected document %+v", doc)
	}
	p, ok := s.ByHandle(doc.Handle)
	if !ok || p.ID != opened.ID || p.Description != "fix b" {
		t.Errorf("ByHandle = %+v, %v", p, ok)
	}

	second := openProposal(t, s, "b.md", "x", "y")
	if second != "proposal_1" {
		t.Errorf("second ID = %q", second)
	}
	if ids := s.IDs(); !reflect.DeepEqual(ids, []string{"proposal_0", "proposal_1"}) {
		t.Errorf("IDs = %v", ids)
	}
}

func TestOpenRollsBackWhenSurfaceFails(t *testing.T) {
	storage := newMemStorage()
	s := NewStore(storage, nil, nil)
	s.RegisterSurface(&fakeSurface{openErr: fmt.Errorf("editor gone")})

	_, err := s.Open(context.Background(), "a.txt", "a", "b", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(s.IDs()) != 0 {
		t.Error("proposal should be rolled back")
	}
	if _, ok := s.ByHandle(Handle("proposal_0", "a.txt")); ok {
		t.Error("handle should be rolled back")
	}
}

func TestAcceptAllWritesAndRetires(t *testing.T) {
	s, storage, surface := newTestStore(t)
	storage.files["a.txt"] = "a\nb"
	id := openProposal(t, s, "a.txt", "a\nb", "a\nB\nc")

	msg, err := s.Accept(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if msg != "Successfully applied all changes to a.txt" {
		t.Errorf("msg = %q", msg)
	}
	if storage.files["a.txt"] != "a\nB\nc" {
		t.Errorf("file = %q", storage.files["a.txt"])
	}
	if _, ok := s.Get(id); ok {
		t.Error("proposal should be retired")
	}
	if len(surface.closed) != 1 {
		t.Error("view should be closed")
	}
}

func TestRejectAllLeavesStorage(t *testing.T) {
	s, storage, _ := newTestStore(t)
	storage.files["a.txt"] = "a"
	id := openProposal(t, s, "a.txt", "a", "b")

	msg, err := s.Reject(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if !strings.HasPrefix(msg, "Rejected all changes") {
		t.Errorf("msg = %q", msg)
	}
	if storage.writes != 0 {
		t.Error("reject must not write")
	}
	if _, ok := s.Get(id); ok {
		t.Error("proposal should be retired")
	}
}

func TestAcceptOneTouchesOnlyItsRange(t *testing.T) {
	s, storage, surface := newTestStore(t)
	original := "a\nb\nc\nd\ne"
	storage.files["f.txt"] = original
	id := openProposal(t, s, "f.txt", original, "a\nB\nc\nD\ne")

	msg, err := s.Accept(context.Background(), id, &LineRange{1, 1})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if msg != "Accepted change in f.txt" {
		t.Errorf("msg = %q", msg)
	}
	if storage.files["f.txt"] != "a\nB\nc\nd\ne" {
		t.Errorf("file = %q", storage.files["f.txt"])
	}
	p, ok := s.Get(id)
	if !ok {
		t.Fatal("proposal should still be open")
	}
	if !reflect.DeepEqual(p.ChangedRanges, []LineRange{{3, 3}}) {
		t.Errorf("ChangedRanges = %v", p.ChangedRanges)
	}
	if p.OriginalContent != storage.files["f.txt"] {
		t.Error("original content should track the written file")
	}
	if len(surface.highlighted) != 1 {
		t.Error("remaining ranges should be re-highlighted")
	}

	msg, err = s.Accept(context.Background(), id, &LineRange{3, 3})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if msg != "Accepted change and closed proposal for f.txt" {
		t.Errorf("msg = %q", msg)
	}
	if _, ok := s.Get(id); ok {
		t.Error("last range accepted should retire the proposal")
	}
	if storage.files["f.txt"] != "a\nB\nc\nD\ne" {
		t.Errorf("file = %q", storage.files["f.txt"])
	}
}

func TestAcceptOneUsesCurrentFileContent(t *testing.T) {
	s, storage, _ := newTestStore(t)
	id := openProposal(t, s, "f.txt", "a\nb\nc", "a\nX\nY")
	// Someone edited line 0 after the proposal was made.
	storage.files["f.txt"] = "EDITED\nb\nc"

	if _, err := s.Accept(context.Background(), id, &LineRange{1, 2}); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if storage.files["f.txt"] != "EDITED\nX\nY" {
		t.Errorf("file = %q", storage.files["f.txt"])
	}
	// The recomputed diff now reports the foreign edit.
	p, ok := s.Get(id)
	if !ok || !reflect.DeepEqual(p.ChangedRanges, []LineRange{{0, 0}}) {
		t.Errorf("proposal = %+v, %v", p, ok)
	}
}

func TestAcceptOneExtendsShortFile(t *testing.T) {
	s, storage, _ := newTestStore(t)
	storage.files["f.txt"] = "a"
	id := openProposal(t, s, "f.txt", "a", "a\nb\nc")
	if _, err := s.Accept(context.Background(), id, &LineRange{1, 2}); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if storage.files["f.txt"] != "a\nb\nc" {
		t.Errorf("file = %q", storage.files["f.txt"])
	}
	if _, ok := s.Get(id); ok {
		t.Error("proposal should be retired")
	}
}

func TestRejectOne(t *testing.T) {
	s, storage, _ := newTestStore(t)
	id := openProposal(t, s, "f.txt", "a\nb\nc\nd", "X\nb\nY\nd")

	msg, err := s.Reject(context.Background(), id, &LineRange{0, 0})
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if msg != "Rejected change in f.txt" {
		t.Errorf("msg = %q", msg)
	}
	p, _ := s.Get(id)
	if !reflect.DeepEqual(p.ChangedRanges, []LineRange{{2, 2}}) {
		t.Errorf("ChangedRanges = %v", p.ChangedRanges)
	}

	msg, err = s.Reject(context.Background(), id, &LineRange{2, 2})
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if msg != "Rejected change and closed proposal for f.txt" {
		t.Errorf("msg = %q", msg)
	}
	if _, ok := s.Get(id); ok {
		t.Error("proposal should be retired")
	}
	if storage.writes != 0 {
		t.Error("reject must not write")
	}
}

func TestResolveFailuresDoNotMutate(t *testing.T) {
	s, storage, _ := newTestStore(t)
	storage.files["f.txt"] = "a\nb"
	id := openProposal(t, s, "f.txt", "a\nb", "a\nX")

	if _, err := s.Accept(context.Background(), "proposal_99", nil); !errors.Is(err, errors.ErrProposalNotFound) {
		t.Errorf("expected ErrProposalNotFound, got %v", err)
	}
	for _, r := range []LineRange{{0, 0}, {1, 2}, {0, 1}} {
		r := r
		if _, err := s.Accept(context.Background(), id, &r); !errors.Is(err, errors.ErrChangeRangeNotFound) {
			t.Errorf("accept %v: expected ErrChangeRangeNotFound, got %v", r, err)
		}
		if _, err := s.Reject(context.Background(), id, &r); !errors.Is(err, errors.ErrChangeRangeNotFound) {
			t.Errorf("reject %v: expected ErrChangeRangeNotFound, got %v", r, err)
		}
	}
	if storage.writes != 0 {
		t.Error("failed resolutions must not write")
	}
	p, ok := s.Get(id)
	if !ok || !reflect.DeepEqual(p.ChangedRanges, []LineRange{{1, 1}}) {
		t.Errorf("proposal changed: %+v", p)
	}
}

func TestListenersSeeLifecycle(t *testing.T) {
	s, storage, _ := newTestStore(t)
	var kinds []ChangeKind
	s.OnChange(func(c Change) {
		kinds = append(kinds, c.Kind)
		// Listeners may read back from the store.
		s.IDs()
	})
	storage.files["f.txt"] = "a\nb\nc"
	id := openProposal(t, s, "f.txt", "a\nb\nc", "X\nb\nY")
	s.Reject(context.Background(), id, &LineRange{0, 0})
	s.Accept(context.Background(), id, nil)

	want := []ChangeKind{Created, Updated, Closed}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s, _, _ := newTestStore(t)
	id := openProposal(t, s, "f.txt", "a", "b")
	p, _ := s.Get(id)
	p.ChangedRanges[0].End = 42
	again, _ := s.Get(id)
	if again.ChangedRanges[0].End != 0 {
		t.Error("Get must not expose internal state")
	}
}
