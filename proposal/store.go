// Package proposal owns in-flight file edit proposals. It computes line and
// character differences, asks a document surface to show them, and resolves
// them in full or one change range at a time.
package proposal

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/logging"
)

// HandleScheme prefixes every document handle.
const HandleScheme = "file-proposal://"

// Proposal is a reviewable edit of one file.
type Proposal struct {
	ID              string      `json:"id"`
	FilePath        string      `json:"filePath"`
	OriginalContent string      `json:"originalContent"`
	ProposedContent string      `json:"proposedContent"`
	Description     string      `json:"description,omitempty"`
	ChangedRanges   []LineRange `json:"changedRanges"`
	DocumentHandle  string      `json:"documentHandle"`

	seq uint64
}

func (p *Proposal) clone() *Proposal {
	c := *p
	c.ChangedRanges = append([]LineRange(nil), p.ChangedRanges...)
	return &c
}

// Document is the read-only view a surface materializes for a proposal.
type Document struct {
	Handle      string          `json:"handle"`
	ProposalID  string          `json:"proposalId"`
	FilePath    string          `json:"filePath"`
	Content     string          `json:"content"`
	Description string          `json:"description,omitempty"`
	Ranges      []LineRange     `json:"ranges"`
	Highlights  []LineHighlight `json:"highlights"`
}

// Surface displays proposal documents. It only reports user interaction back
// through identifiers and never touches proposal state.
type Surface interface {
	Open(ctx context.Context, doc Document) error
	Highlight(ctx context.Context, handle string, ranges []LineRange, highlights []LineHighlight) error
	Close(ctx context.Context, handle string) error
}

// Storage is the file capability resolution writes through.
type Storage interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
}

// ChangeKind says what happened to a proposal.
type ChangeKind string

const (
	Created ChangeKind = "created"
	Updated ChangeKind = "updated"
	Closed  ChangeKind = "closed"
)

// Change is delivered to listeners after every create, update and close.
type Change struct {
	Kind       ChangeKind  `json:"kind"`
	ProposalID string      `json:"proposalId"`
	FilePath   string      `json:"filePath"`
	Handle     string      `json:"handle"`
	Ranges     []LineRange `json:"ranges"`
}

// ActionKind selects how Resolve treats a proposal.
type ActionKind int

const (
	AcceptAll ActionKind = iota
	RejectAll
	AcceptOne
	RejectOne
)

// Action is a resolution request. Range is required for AcceptOne and
// RejectOne and ignored otherwise.
type Action struct {
	Kind  ActionKind
	Range *LineRange
}

// Opened is the result of Open. ID is empty when the contents did not differ
// and nothing was registered.
type Opened struct {
	ID     string
	Ranges []LineRange
}

// Store is safe for concurrent use. Operations are serialized; lookups only
// take the read lock.
type Store struct {
	storage    Storage
	disallowed []string
	logger     *log.Logger

	opMu sync.Mutex
	next uint64

	mu        sync.RWMutex
	surface   Surface
	proposals map[string]*Proposal
	handles   map[string]string
	listeners []func(Change)
}

// NewStore creates a store writing through storage. Files whose extension is
// in disallowed (case-insensitive) cannot be proposed.
func NewStore(storage Storage, disallowed []string, logger *log.Logger) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	lowered := make([]string, 0, len(disallowed))
	for _, ext := range disallowed {
		lowered = append(lowered, strings.ToLower(ext))
	}
	return &Store{
		storage:    storage,
		disallowed: lowered,
		logger:     logger,
		proposals:  make(map[string]*Proposal),
		handles:    make(map[string]string),
	}
}

// RegisterSurface installs the document surface. It must be called exactly
// once before the first Open.
func (s *Store) RegisterSurface(surface Surface) error {
	if surface == nil {
		return errors.New("document surface must not be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.surface != nil {
		return errors.New("document surface already registered")
	}
	s.surface = surface
	return nil
}

// OnChange registers fn to be called after every proposal change. Listeners
// run after the operation has finished and may call back into the store.
func (s *Store) OnChange(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Handle returns the document handle for a proposal of filePath.
func Handle(id, filePath string) string {
	return HandleScheme + id + "/" + strings.TrimPrefix(strings.ReplaceAll(filePath, `\`, "/"), "/")
}

// Supported reports whether files at path may be proposed.
func (s *Store) Supported(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range s.disallowed {
		if strings.HasSuffix(lower, ext) {
			return false
		}
	}
	return true
}

// Open diffs original against proposed and, if anything differs, registers a
// proposal and asks the surface to show it.
func (s *Store) Open(ctx context.Context, filePath, original, proposed, description string) (Opened, error) {
	if !s.Supported(filePath) {
		return Opened{}, errors.Wrapf(errors.ErrUnsupportedFileType,
			"proposing changes to files of type %s is not supported", strings.Join(s.disallowed, ", "))
	}

	s.opMu.Lock()
	opened, change, err := s.open(ctx, filePath, original, proposed, description)
	s.opMu.Unlock()

	if change != nil {
		s.notify(*change)
	}
	return opened, err
}

func (s *Store) open(ctx context.Context, filePath, original, proposed, description string) (Opened, *Change, error) {
	s.mu.RLock()
	surface := s.surface
	s.mu.RUnlock()
	if surface == nil {
		return Opened{}, nil, errors.ErrSurfaceNotRegistered
	}

	ranges := LineDiff(original, proposed)
	if len(ranges) == 0 {
		s.logger.Debug("proposal has no changes", "file", filePath)
		return Opened{Ranges: ranges}, nil, nil
	}

	seq := s.next
	s.next++
	id := fmt.Sprintf("proposal_%d", seq)
	p := &Proposal{
		ID:              id,
		FilePath:        filePath,
		OriginalContent: original,
		ProposedContent: proposed,
		Description:     description,
		ChangedRanges:   ranges,
		DocumentHandle:  Handle(id, filePath),
		seq:             seq,
	}

	// Registered before the surface opens so lookups by handle succeed
	// while the view is being materialized.
	s.insert(p)

	doc := Document{
		Handle:      p.DocumentHandle,
		ProposalID:  id,
		FilePath:    filePath,
		Content:     proposed,
		Description: description,
		Ranges:      append([]LineRange(nil), ranges...),
		Highlights:  Highlights(original, proposed, ranges),
	}
	if err := surface.Open(ctx, doc); err != nil {
		s.remove(id)
		return Opened{}, nil, errors.Wrapf(err, "failed to open proposal view for %s", filePath)
	}

	s.logger.Info("proposal opened", "id", id, "file", filePath, "ranges", len(ranges))
	change := s.changeFor(Created, p)
	return Opened{ID: id, Ranges: append([]LineRange(nil), ranges...)}, &change, nil
}

// Resolve applies action to the proposal id and returns a status message.
// Unknown proposals and ranges fail without any mutation.
func (s *Store) Resolve(ctx context.Context, id string, action Action) (string, error) {
	s.opMu.Lock()
	msg, change, err := s.resolve(ctx, id, action)
	s.opMu.Unlock()

	if change != nil {
		s.notify(*change)
	}
	return msg, err
}

// Accept accepts one range, or the whole proposal when r is nil.
func (s *Store) Accept(ctx context.Context, id string, r *LineRange) (string, error) {
	if r != nil {
		return s.Resolve(ctx, id, Action{Kind: AcceptOne, Range: r})
	}
	return s.Resolve(ctx, id, Action{Kind: AcceptAll})
}

// Reject rejects one range, or the whole proposal when r is nil.
func (s *Store) Reject(ctx context.Context, id string, r *LineRange) (string, error) {
	if r != nil {
		return s.Resolve(ctx, id, Action{Kind: RejectOne, Range: r})
	}
	return s.Resolve(ctx, id, Action{Kind: RejectAll})
}

func (s *Store) resolve(ctx context.Context, id string, action Action) (string, *Change, error) {
	s.mu.RLock()
	stored, ok := s.proposals[id]
	var p *Proposal
	if ok {
		p = stored.clone()
	}
	s.mu.RUnlock()
	if !ok {
		return "", nil, errors.Wrapf(errors.ErrProposalNotFound, "proposal %s", id)
	}

	switch action.Kind {
	case AcceptAll:
		if err := s.storage.WriteFile(ctx, p.FilePath, []byte(p.ProposedContent)); err != nil {
			return "", nil, err
		}
		change := s.retire(ctx, p)
		return fmt.Sprintf("Successfully applied all changes to %s", p.FilePath), &change, nil

	case RejectAll:
		change := s.retire(ctx, p)
		return fmt.Sprintf("Rejected all changes and closed proposal for %s", p.FilePath), &change, nil

	case AcceptOne, RejectOne:
		if action.Range == nil {
			return "", nil, errors.New("a change range is required")
		}
		idx := indexOf(p.ChangedRanges, *action.Range)
		if idx < 0 {
			return "", nil, errors.Wrapf(errors.ErrChangeRangeNotFound,
				"range %d-%d in proposal %s", action.Range.Start, action.Range.End, id)
		}
		if action.Kind == AcceptOne {
			return s.acceptOne(ctx, p, *action.Range)
		}
		return s.rejectOne(ctx, p, idx)

	default:
		return "", nil, errors.New("unknown resolve action %d", action.Kind)
	}
}

// acceptOne copies the lines of r from the proposed content into the file as
// it currently is on disk, then recomputes what still differs.
func (s *Store) acceptOne(ctx context.Context, p *Proposal, r LineRange) (string, *Change, error) {
	data, err := s.storage.ReadFile(ctx, p.FilePath)
	if err != nil {
		return "", nil, err
	}
	current := splitLines(string(data))
	proposed := splitLines(p.ProposedContent)
	for line := r.Start; line <= r.End; line++ {
		for len(current) <= line {
			current = append(current, "")
		}
		current[line] = lineAt(proposed, line)
	}
	updated := strings.Join(current, "\n")
	if err := s.storage.WriteFile(ctx, p.FilePath, []byte(updated)); err != nil {
		return "", nil, err
	}

	p.OriginalContent = updated
	p.ChangedRanges = LineDiff(updated, p.ProposedContent)
	if len(p.ChangedRanges) == 0 {
		change := s.retire(ctx, p)
		return fmt.Sprintf("Accepted change and closed proposal for %s", p.FilePath), &change, nil
	}
	change := s.update(ctx, p)
	return fmt.Sprintf("Accepted change in %s", p.FilePath), &change, nil
}

func (s *Store) rejectOne(ctx context.Context, p *Proposal, idx int) (string, *Change, error) {
	p.ChangedRanges = append(p.ChangedRanges[:idx:idx], p.ChangedRanges[idx+1:]...)
	if len(p.ChangedRanges) == 0 {
		change := s.retire(ctx, p)
		return fmt.Sprintf("Rejected change and closed proposal for %s", p.FilePath), &change, nil
	}
	change := s.update(ctx, p)
	return fmt.Sprintf("Rejected change in %s", p.FilePath), &change, nil
}

// update stores p and re-highlights its view. A surface failure does not undo
// the resolution, which has already been written.
func (s *Store) update(ctx context.Context, p *Proposal) Change {
	s.mu.Lock()
	s.proposals[p.ID] = p
	surface := s.surface
	s.mu.Unlock()

	highlights := Highlights(p.OriginalContent, p.ProposedContent, p.ChangedRanges)
	if err := surface.Highlight(ctx, p.DocumentHandle, append([]LineRange(nil), p.ChangedRanges...), highlights); err != nil {
		s.logger.Warn("failed to refresh proposal highlights", "id", p.ID, "err", err)
	}
	return s.changeFor(Updated, p)
}

// retire closes the view and drops p from both maps.
func (s *Store) retire(ctx context.Context, p *Proposal) Change {
	s.mu.RLock()
	surface := s.surface
	s.mu.RUnlock()
	if err := surface.Close(ctx, p.DocumentHandle); err != nil {
		s.logger.Warn("failed to close proposal view", "id", p.ID, "err", err)
	}
	s.remove(p.ID)
	s.logger.Info("proposal closed", "id", p.ID, "file", p.FilePath)
	p.ChangedRanges = []LineRange{}
	return s.changeFor(Closed, p)
}

func (s *Store) insert(p *Proposal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[p.ID] = p
	s.handles[p.DocumentHandle] = p.ID
}

func (s *Store) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.proposals[id]; ok {
		delete(s.handles, p.DocumentHandle)
	}
	delete(s.proposals, id)
}

func (s *Store) changeFor(kind ChangeKind, p *Proposal) Change {
	return Change{
		Kind:       kind,
		ProposalID: p.ID,
		FilePath:   p.FilePath,
		Handle:     p.DocumentHandle,
		Ranges:     append([]LineRange{}, p.ChangedRanges...),
	}
}

func (s *Store) notify(c Change) {
	s.mu.RLock()
	listeners := slices.Clone(s.listeners)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(c)
	}
}

// Get returns a copy of the open proposal id.
func (s *Store) Get(id string) (*Proposal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// ByHandle maps a document handle back to its open proposal.
func (s *Store) ByHandle(handle string) (*Proposal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.handles[handle]
	if !ok {
		return nil, false
	}
	return s.proposals[id].clone(), true
}

// IDs lists open proposals in creation order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	open := make([]*Proposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		open = append(open, p)
	}
	s.mu.RUnlock()

	sort.Slice(open, func(i, j int) bool { return open[i].seq < open[j].seq })
	ids := make([]string, len(open))
	for i, p := range open {
		ids[i] = p.ID
	}
	return ids
}

func indexOf(ranges []LineRange, r LineRange) int {
	for i, c := range ranges {
		if c == r {
			return i
		}
	}
	return -1
}
