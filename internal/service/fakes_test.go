package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/ChangeGuard/internal/adapter/memory"
	"github.com/Strob0t/ChangeGuard/internal/config"
	"github.com/Strob0t/ChangeGuard/internal/domain/snapshot"
	"github.com/Strob0t/ChangeGuard/internal/domain/webhook"
	"github.com/Strob0t/ChangeGuard/internal/port/llm"
	"github.com/Strob0t/ChangeGuard/internal/port/messagequeue"
	"github.com/Strob0t/ChangeGuard/internal/port/scm"
)

const testPolicy = `
policy_version: "v1"
jira_key_regex: '([A-Z]+-\d+)'
high_risk_paths:
  - "db/migrations/**"
`

const (
	lowBody         = "## Risk\n- [x] LOW\n- [ ] HIGH\n"
	highNoBackout   = "## Risk\n- [ ] LOW\n- [x] HIGH\n\n## Backout Plan\n\n## Testing\nunit\n"
	highWithBackout = "## Risk\n- [ ] LOW\n- [x] HIGH\n\n## Backout Plan\nRevert the migration.\n"
	testRepo        = "acme/api"
	testPRNumber    = 7
	migrationPath   = "db/migrations/0001.sql"
	applicationPath = "src/app.go"
	ticketTitle     = "PROJ-12 add users table"
	ticketlessTitle = "Add users table"
)

var testPR = snapshot.PRIdentity{RepoFullName: testRepo, Number: testPRNumber}

// --- fake evidence fetcher ---

type fakeFetcher struct {
	mu       sync.Mutex
	evidence scm.Evidence
	// current overrides the live state returned by CurrentState.
	current    *scm.Evidence
	fetchErr   error
	currentErr error

	fetchCalls   int
	currentCalls int
	withDiff     []bool
	// remaining holds the time left on the context deadline at each fetch.
	remaining []time.Duration

	onFetch   func()
	onCurrent func()
}

func newFakeFetcher(title, body, sha string, paths ...string) *fakeFetcher {
	files := make([]snapshot.ChangedFile, len(paths))
	for i, p := range paths {
		files[i] = snapshot.ChangedFile{Path: p, AddedLines: 1}
	}
	return &fakeFetcher{evidence: scm.Evidence{Title: title, Body: body, HeadSHA: sha, Files: files}}
}

func (f *fakeFetcher) FetchEvidence(ctx context.Context, _ scm.PullRef, withDiff bool) (*scm.Evidence, error) {
	f.mu.Lock()
	hook := f.onFetch
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	f.withDiff = append(f.withDiff, withDiff)
	if d, ok := ctx.Deadline(); ok {
		f.remaining = append(f.remaining, time.Until(d))
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	ev := f.evidence
	ev.Files = slices.Clone(f.evidence.Files)
	if !withDiff {
		ev.Diff = ""
	}
	return &ev, nil
}

func (f *fakeFetcher) CurrentState(_ context.Context, _ scm.PullRef) (*scm.Evidence, error) {
	f.mu.Lock()
	hook := f.onCurrent
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentCalls++
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	if f.current != nil {
		c := *f.current
		return &c, nil
	}
	return &scm.Evidence{HeadSHA: f.evidence.HeadSHA, Body: f.evidence.Body}, nil
}

func (f *fakeFetcher) setEvidence(sha, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evidence.HeadSHA = sha
	f.evidence.Body = body
}

func (f *fakeFetcher) setFetchErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

// --- fake publisher ---

type fakePublisher struct {
	mu   sync.Mutex
	pubs []scm.Publication
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, _ scm.PullRef, pub *scm.Publication) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.pubs = append(p.pubs, *pub)
	return nil
}

func (p *fakePublisher) published() []scm.Publication {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.pubs)
}

// --- fake policy source ---

type fakeSource struct {
	mu         sync.Mutex
	versions   map[string]string
	docs       map[string]string
	versionErr error
	loads      int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		versions: map[string]string{testRepo: "v1"},
		docs:     map[string]string{testRepo + "@v1": testPolicy},
	}
}

func (s *fakeSource) CurrentVersion(_ context.Context, repo string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.versionErr != nil {
		return "", s.versionErr
	}
	v, ok := s.versions[repo]
	if !ok {
		return "", errors.New("no policy for " + repo)
	}
	return v, nil
}

func (s *fakeSource) Load(_ context.Context, repo, version string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	doc, ok := s.docs[repo+"@"+version]
	if !ok {
		return nil, errors.New("no document for " + repo + "@" + version)
	}
	return []byte(doc), nil
}

func (s *fakeSource) set(repo, version, doc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[repo] = version
	s.docs[repo+"@"+version] = doc
}

func (s *fakeSource) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

// --- map cache ---

type mapCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{m: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = slices.Clone(value)
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

func (c *mapCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.m[key]
	return ok
}

// --- fake classifier ---

type fakeClassifier struct {
	mu         sync.Mutex
	assessment llm.Assessment
	err        error
	seen       []llm.Evidence
}

func (c *fakeClassifier) Classify(_ context.Context, ev *llm.Evidence) (*llm.Assessment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, *ev)
	if c.err != nil {
		return nil, c.err
	}
	a := c.assessment
	return &a, nil
}

// --- fake hub ---

type hubEvent struct {
	typ     string
	payload any
}

type fakeHub struct {
	mu     sync.Mutex
	events []hubEvent
}

func (h *fakeHub) BroadcastEvent(_ context.Context, eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, hubEvent{typ: eventType, payload: payload})
}

func (h *fakeHub) ofType(typ string) []hubEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []hubEvent
	for _, e := range h.events {
		if e.typ == typ {
			out = append(out, e)
		}
	}
	return out
}

// --- fake queue ---

type queuedMsg struct {
	subject string
	data    []byte
}

type fakeQueue struct {
	mu           sync.Mutex
	msgs         []queuedMsg
	handlers     map[string]messagequeue.Handler
	disconnected bool
	publishErr   error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{handlers: make(map[string]messagequeue.Handler)}
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.msgs = append(q.msgs, queuedMsg{subject: subject, data: slices.Clone(data)})
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = handler
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.handlers, subject)
	}, nil
}

func (q *fakeQueue) Drain() error { return nil }
func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) IsConnected() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.disconnected
}

func (q *fakeQueue) onSubject(subject string) []queuedMsg {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queuedMsg
	for _, m := range q.msgs {
		if m.subject == subject {
			out = append(out, m)
		}
	}
	return out
}

func (q *fakeQueue) handler(subject string) messagequeue.Handler {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.handlers[subject]
}

// --- harness ---

type harness struct {
	svc        *EvaluationService
	policies   *PolicyService
	projection *ProjectionService
	store      *memory.Store
	fetcher    *fakeFetcher
	publisher  *fakePublisher
	source     *fakeSource
	cache      *mapCache
	hub        *fakeHub
	queue      *fakeQueue
}

func testEvalConfig() config.Evaluation {
	return config.Evaluation{Timeout: 5 * time.Second, MaxAttempts: 3, MaxConcurrent: 4}
}

func newHarness(t *testing.T, fetcher *fakeFetcher, cfg config.Evaluation) *harness {
	t.Helper()
	h := &harness{
		store:     memory.NewStore(),
		fetcher:   fetcher,
		publisher: &fakePublisher{},
		source:    newFakeSource(),
		cache:     newMapCache(),
		hub:       &fakeHub{},
		queue:     newFakeQueue(),
	}
	h.policies = NewPolicyService(h.source, h.cache)
	h.projection = NewProjectionService(h.store, h.store, h.hub, h.queue)
	h.svc = NewEvaluationService(h.store, h.store, h.policies, h.fetcher, h.publisher, h.projection, cfg)
	return h
}

func prEvent(sha, body string) *webhook.PullRequestEvent {
	return &webhook.PullRequestEvent{
		DeliveryID:     "delivery-1",
		Action:         webhook.ActionSynchronize,
		PR:             testPR,
		InstallationID: 42,
		Title:          ticketTitle,
		Body:           body,
		HeadSHA:        sha,
		State:          "open",
		ReceivedAt:     time.Now(),
	}
}

func keyFor(sha, body, version string) snapshot.Key {
	return snapshot.Key{PR: testPR, HeadSHA: sha, BodyHash: snapshot.HashBody(body), PolicyVersion: version}
}
