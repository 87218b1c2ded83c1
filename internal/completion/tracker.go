// Package completion keeps a local, eventually consistent view of which
// lessons a learner has completed, with optimistic writes.
package completion

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/p-n-ai/pai-courses/internal/auth"
	"github.com/p-n-ai/pai-courses/internal/content"
	"github.com/p-n-ai/pai-courses/internal/dedup"
)

const (
	defaultMaxAge     = 5 * time.Minute
	subscriberBacklog = 16
)

// MutationState is the lifecycle of an optimistic write.
type MutationState int

const (
	Pending MutationState = iota
	Committed
	RolledBack
	// Synced marks values that arrived from a completion map load.
	Synced
)

func (s MutationState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	case Synced:
		return "synced"
	default:
		return "unknown"
	}
}

// Change is published to subscribers whenever a lesson's local value moves.
type Change struct {
	CourseID  string        `json:"course_id"`
	LessonID  string        `json:"lesson_id"`
	Completed bool          `json:"completed"`
	State     MutationState `json:"-"`
	StateName string        `json:"state"`
}

// MarkRequest describes a completion to record.
type MarkRequest struct {
	LessonID     string
	CourseID     string
	EnrollmentID string
	Score        *int
	Result       []byte
}

// entry is one lesson's local value. seq orders local writes (0 for loaded
// values); pending is set while the write is not yet persisted.
type entry struct {
	done    bool
	seq     uint64
	pending bool
}

type courseState struct {
	lessons  map[string]entry
	loadedAt time.Time
}

type mutation struct {
	user, courseID, lessonID string
	seq                      uint64
	prev                     entry
	hadPrev                  bool
	state                    MutationState
}

type subKey struct {
	user, courseID string
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithUserSource replaces the default context-based user lookup.
func WithUserSource(u auth.UserSource) Option {
	return func(t *Tracker) { t.users = u }
}

// WithMaxAge sets how long Ensure trusts a loaded map (default 5m).
func WithMaxAge(d time.Duration) Option {
	return func(t *Tracker) { t.maxAge = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Tracker owns the per-user, per-course completion maps. Create one per
// process (or per test) with NewTracker; there is no package-level state.
type Tracker struct {
	repo   content.Repository
	users  auth.UserSource
	group  *dedup.Group[map[string]bool]
	maxAge time.Duration
	now    func() time.Time

	mu      sync.Mutex
	seq     uint64
	courses map[string]map[string]*courseState // user -> course -> state
	subs    map[subKey]map[chan Change]struct{}

	// Evict bumps gens for one course and Clear bumps epoch; a load whose
	// generation moved while it ran is not merged.
	epoch   uint64
	gens    map[string]uint64
	loading map[subKey]int
}

// NewTracker creates a tracker writing through repo.
func NewTracker(repo content.Repository, opts ...Option) *Tracker {
	t := &Tracker{
		repo:    repo,
		users:   auth.ContextSource{},
		group:   dedup.NewGroup[map[string]bool](),
		maxAge:  defaultMaxAge,
		now:     time.Now,
		courses: make(map[string]map[string]*courseState),
		subs:    make(map[subKey]map[chan Change]struct{}),
		gens:    make(map[string]uint64),
		loading: make(map[subKey]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Load fetches the completion map for courseID and merges it into the local
// view. Local writes made after the fetch started win over fetched values.
// Anonymous callers get an empty map.
func (t *Tracker) Load(ctx context.Context, courseID string) (map[string]bool, error) {
	user, ok := t.users.CurrentUser(ctx)
	if !ok {
		return map[string]bool{}, nil
	}

	sk := subKey{user: user, courseID: courseID}
	merged, err := t.group.Do(ctx, loadKey(sk), func(ctx context.Context) (map[string]bool, error) {
		startSeq, gen := t.beginLoad(sk)
		defer t.endLoad(sk)

		fetched, err := t.repo.FetchCompletionMap(ctx, courseID, user)
		if err != nil {
			return nil, fmt.Errorf("load completions for course %s: %w", courseID, err)
		}
		return t.merge(user, courseID, fetched, startSeq, gen), nil
	})
	if err != nil {
		return nil, err
	}
	// Callers sharing one load each get their own copy.
	return maps.Clone(merged), nil
}

// Ensure returns the local map, loading it when it is missing or older than
// the tracker's max age.
func (t *Tracker) Ensure(ctx context.Context, courseID string) (map[string]bool, error) {
	user, ok := t.users.CurrentUser(ctx)
	if !ok {
		return map[string]bool{}, nil
	}

	t.mu.Lock()
	cs := t.courseLocked(user, courseID, false)
	fresh := cs != nil && !cs.loadedAt.IsZero() && t.now().Sub(cs.loadedAt) < t.maxAge
	var snap map[string]bool
	if fresh {
		snap = snapshotLocked(cs)
	}
	t.mu.Unlock()

	if fresh {
		return snap, nil
	}
	return t.Load(ctx, courseID)
}

// Snapshot returns a copy of the local map without any I/O.
func (t *Tracker) Snapshot(ctx context.Context, courseID string) map[string]bool {
	user, ok := t.users.CurrentUser(ctx)
	if !ok {
		return map[string]bool{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return snapshotLocked(t.courseLocked(user, courseID, false))
}

// MarkComplete optimistically marks a lesson complete and persists it. On
// failure the local value is rolled back and the error returned. Calling it
// again for the same lesson updates the stored score and result.
func (t *Tracker) MarkComplete(ctx context.Context, req MarkRequest) error {
	user, ok := t.users.CurrentUser(ctx)
	if !ok {
		return nil
	}

	m := t.apply(user, req.CourseID, req.LessonID, true)
	err := t.repo.UpsertCompletion(ctx, content.CompletionRecord{
		UserID:       user,
		LessonID:     req.LessonID,
		CourseID:     req.CourseID,
		EnrollmentID: req.EnrollmentID,
		CompletedAt:  t.now(),
		Score:        req.Score,
		Result:       req.Result,
	})
	if err != nil {
		t.rollback(m)
		return fmt.Errorf("mark lesson %s complete: %w", req.LessonID, err)
	}
	t.commit(m)
	return nil
}

// UnmarkComplete optimistically clears a lesson's completion and deletes the
// stored record, rolling back on failure.
func (t *Tracker) UnmarkComplete(ctx context.Context, lessonID, courseID string) error {
	user, ok := t.users.CurrentUser(ctx)
	if !ok {
		return nil
	}

	m := t.apply(user, courseID, lessonID, false)
	if err := t.repo.DeleteCompletion(ctx, lessonID, user); err != nil {
		t.rollback(m)
		return fmt.Errorf("unmark lesson %s: %w", lessonID, err)
	}
	t.commit(m)
	return nil
}

// Subscribe returns a feed of changes to the caller's map for courseID and
// a cancel function that closes it. Slow subscribers miss changes rather
// than block writers.
func (t *Tracker) Subscribe(ctx context.Context, courseID string) (<-chan Change, func()) {
	user, _ := t.users.CurrentUser(ctx)
	key := subKey{user: user, courseID: courseID}
	ch := make(chan Change, subscriberBacklog)

	t.mu.Lock()
	if t.subs[key] == nil {
		t.subs[key] = make(map[chan Change]struct{})
	}
	t.subs[key][ch] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs[key], ch)
			if len(t.subs[key]) == 0 {
				delete(t.subs, key)
			}
			t.mu.Unlock()
			close(ch)
		})
	}
}

// Evict drops every user's local map for courseID. Loads already running for
// the course are detached so the next Load fetches again, and their results
// are not merged.
func (t *Tracker) Evict(courseID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gens[courseID]++
	for sk := range t.loading {
		if sk.courseID == courseID {
			t.group.Forget(loadKey(sk))
		}
	}
	for user, courses := range t.courses {
		delete(courses, courseID)
		if len(courses) == 0 {
			delete(t.courses, user)
		}
	}
}

// Clear drops all local state, detaching running loads like Evict.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epoch++
	for sk := range t.loading {
		t.group.Forget(loadKey(sk))
	}
	t.courses = make(map[string]map[string]*courseState)
}

func loadKey(sk subKey) dedup.Key {
	return dedup.Key{Resource: "completion", ID: sk.user + ":" + sk.courseID}
}

// beginLoad records a running load and returns the write sequence and
// generation it started from.
func (t *Tracker) beginLoad(sk subKey) (uint64, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loading[sk]++
	return t.seq, t.generationLocked(sk.courseID)
}

func (t *Tracker) endLoad(sk subKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loading[sk]--; t.loading[sk] <= 0 {
		delete(t.loading, sk)
	}
}

// generationLocked moves whenever Evict(courseID) or Clear runs.
func (t *Tracker) generationLocked(courseID string) uint64 {
	return t.epoch + t.gens[courseID]
}

func (t *Tracker) merge(user, courseID string, fetched map[string]bool, startSeq, gen uint64) map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.generationLocked(courseID) != gen {
		// Evicted while loading; hand the result back without storing it.
		out := make(map[string]bool, len(fetched))
		for id, done := range fetched {
			if done {
				out[id] = true
			}
		}
		return out
	}

	cs := t.courseLocked(user, courseID, true)
	for lessonID, e := range cs.lessons {
		if e.seq > startSeq || e.pending {
			continue
		}
		if !fetched[lessonID] {
			delete(cs.lessons, lessonID)
			if e.done {
				t.publishLocked(user, courseID, lessonID, false, Synced)
			}
		}
	}
	for lessonID, done := range fetched {
		if !done {
			continue
		}
		e, ok := cs.lessons[lessonID]
		if ok && (e.seq > startSeq || e.pending) {
			continue
		}
		cs.lessons[lessonID] = entry{done: true}
		if !ok || !e.done {
			t.publishLocked(user, courseID, lessonID, true, Synced)
		}
	}
	cs.loadedAt = t.now()
	return snapshotLocked(cs)
}

func (t *Tracker) apply(user, courseID, lessonID string, done bool) *mutation {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs := t.courseLocked(user, courseID, true)
	prev, hadPrev := cs.lessons[lessonID]
	t.seq++
	m := &mutation{
		user:     user,
		courseID: courseID,
		lessonID: lessonID,
		seq:      t.seq,
		prev:     prev,
		hadPrev:  hadPrev,
		state:    Pending,
	}
	cs.lessons[lessonID] = entry{done: done, seq: m.seq, pending: true}
	t.publishLocked(user, courseID, lessonID, done, Pending)
	return m
}

func (t *Tracker) commit(m *mutation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m.state = Committed
	cs := t.courseLocked(m.user, m.courseID, false)
	if cs == nil {
		return
	}
	if e, ok := cs.lessons[m.lessonID]; ok && e.seq == m.seq {
		e.pending = false
		cs.lessons[m.lessonID] = e
		t.publishLocked(m.user, m.courseID, m.lessonID, e.done, Committed)
	}
}

// rollback restores the value seen before m, unless a newer write to the
// same lesson has happened since.
func (t *Tracker) rollback(m *mutation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m.state = RolledBack

	cs := t.courseLocked(m.user, m.courseID, false)
	if cs == nil {
		return
	}
	e, ok := cs.lessons[m.lessonID]
	if !ok || e.seq != m.seq {
		return
	}
	if m.hadPrev {
		cs.lessons[m.lessonID] = m.prev
	} else {
		delete(cs.lessons, m.lessonID)
	}
	restored := m.hadPrev && m.prev.done
	slog.Warn("completion write failed, rolled back",
		"course_id", m.courseID,
		"lesson_id", m.lessonID,
		"completed", restored,
	)
	t.publishLocked(m.user, m.courseID, m.lessonID, restored, RolledBack)
}

func (t *Tracker) courseLocked(user, courseID string, create bool) *courseState {
	courses, ok := t.courses[user]
	if !ok {
		if !create {
			return nil
		}
		courses = make(map[string]*courseState)
		t.courses[user] = courses
	}
	cs, ok := courses[courseID]
	if !ok && create {
		cs = &courseState{lessons: make(map[string]entry)}
		courses[courseID] = cs
	}
	return cs
}

func (t *Tracker) publishLocked(user, courseID, lessonID string, done bool, state MutationState) {
	subs := t.subs[subKey{user: user, courseID: courseID}]
	if len(subs) == 0 {
		return
	}
	change := Change{
		CourseID:  courseID,
		LessonID:  lessonID,
		Completed: done,
		State:     state,
		StateName: state.String(),
	}
	for ch := range subs {
		select {
		case ch <- change:
		default:
			slog.Debug("completion subscriber lagging, change dropped", "course_id", courseID, "lesson_id", lessonID)
		}
	}
}

func snapshotLocked(cs *courseState) map[string]bool {
	out := make(map[string]bool)
	if cs == nil {
		return out
	}
	for id, e := range cs.lessons {
		if e.done {
			out[id] = true
		}
	}
	return out
}
