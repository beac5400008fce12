package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/bigkaa/stl-directory/internal/domain/model"
	"github.com/bigkaa/stl-directory/internal/events"
	"github.com/bigkaa/stl-directory/internal/lock"
	"github.com/bigkaa/stl-directory/internal/repository"
	"github.com/bigkaa/stl-directory/internal/storage/objectstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Минимальные данные, которые распознаёт http.DetectContentType.
var (
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	jpegBytes = append([]byte("\xff\xd8\xff\xe0"), make([]byte, 64)...)
	webpBytes = append([]byte("RIFF\x00\x00\x00\x00WEBPVP8 "), make([]byte, 64)...)
	gifBytes  = append([]byte("GIF89a"), make([]byte, 64)...)
)

// --- хранилище объектов ---

type fakeObjectStore struct {
	mu sync.Mutex
	// объекты, которые сейчас хранятся
	objects map[string][]byte
	// uploadCalls считает все вызовы Upload, успешные и нет
	uploadCalls int
	// failUploadAt: N-й вызов Upload (с единицы) завершается ошибкой uploadErr
	failUploadAt int
	uploadErr    error
	// removeCalls запоминает пути каждого вызова Remove
	removeCalls [][]string
	removeErr   error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (s *fakeObjectStore) Upload(_ context.Context, objectPath string, data []byte, opts objectstore.UploadOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadCalls++
	if s.failUploadAt == s.uploadCalls {
		if s.uploadErr != nil {
			return s.uploadErr
		}
		return fmt.Errorf("transport error on upload %d", s.uploadCalls)
	}
	if _, ok := s.objects[objectPath]; ok && !opts.Overwrite {
		return objectstore.ErrObjectExists
	}
	s.objects[objectPath] = data
	return nil
}

func (s *fakeObjectStore) PublicURL(objectPath string) string {
	return "https://cdn.test/media/" + objectPath
}

func (s *fakeObjectStore) Remove(_ context.Context, paths ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeCalls = append(s.removeCalls, append([]string(nil), paths...))
	if s.removeErr != nil {
		return s.removeErr
	}
	for _, p := range paths {
		delete(s.objects, p)
	}
	return nil
}

func (s *fakeObjectStore) stored() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.objects))
	for p := range s.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (s *fakeObjectStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploadCalls + len(s.removeCalls)
}

// --- репозитории ---

type fakeReviewRepo struct {
	mu          sync.Mutex
	reviews     map[string]*model.Review
	findErr     error
	createErr   error
	findCalls   int
	createCalls int
	otherCalls  int
	// knownBusinesses, если задан, заставляет Create возвращать ErrUnknownBusiness
	// для остальных идентификаторов бизнеса
	knownBusinesses map[string]bool
}

func newFakeReviewRepo() *fakeReviewRepo {
	return &fakeReviewRepo{reviews: make(map[string]*model.Review)}
}

func (r *fakeReviewRepo) Create(_ context.Context, rv *model.Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if r.createErr != nil {
		return r.createErr
	}
	if r.knownBusinesses != nil && !r.knownBusinesses[rv.BusinessID] {
		return fmt.Errorf("%w: %s", repository.ErrUnknownBusiness, rv.BusinessID)
	}
	for _, existing := range r.reviews {
		if existing.UserID == rv.UserID && existing.BusinessID == rv.BusinessID {
			return fmt.Errorf("%w: user already reviewed this business", repository.ErrConflict)
		}
	}
	cp := *rv
	cp.IsApproved = false
	cp.HelpfulCount = 0
	r.reviews[rv.ID] = &cp
	return nil
}

func (r *fakeReviewRepo) GetByID(_ context.Context, id string) (*model.Review, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.otherCalls++
	rv, ok := r.reviews[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rv
	return &cp, nil
}

func (r *fakeReviewRepo) FindByUserAndBusiness(_ context.Context, userID, businessID string) (*model.Review, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findCalls++
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, rv := range r.reviews {
		if rv.UserID == userID && rv.BusinessID == businessID {
			cp := *rv
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeReviewRepo) ListApprovedByBusiness(_ context.Context, businessID string, limit, offset int) ([]*model.Review, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.otherCalls++
	var all []*model.Review
	for _, rv := range r.reviews {
		if rv.BusinessID == businessID && rv.IsApproved {
			cp := *rv
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *fakeReviewRepo) CountApprovedByBusiness(_ context.Context, businessID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.otherCalls++
	n := 0
	for _, rv := range r.reviews {
		if rv.BusinessID == businessID && rv.IsApproved {
			n++
		}
	}
	return n, nil
}

func (r *fakeReviewRepo) Approve(_ context.Context, id string) (*model.Review, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.otherCalls++
	rv, ok := r.reviews[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	rv.IsApproved = true
	cp := *rv
	return &cp, nil
}

func (r *fakeReviewRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reviews)
}

func (r *fakeReviewRepo) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findCalls + r.createCalls + r.otherCalls
}

type fakeBusinessRepo struct {
	mu          sync.Mutex
	businesses  map[string]*model.Business
	reviews     *fakeReviewRepo
	findErr     error
	createErr   error
	getCalls    int
	findCalls   int
	createCalls int
	lockCalls   int
	// ownerLocks заменяют advisory-блокировки PostgreSQL
	ownerLocks map[string]*sync.Mutex
}

func newFakeBusinessRepo(reviews *fakeReviewRepo) *fakeBusinessRepo {
	return &fakeBusinessRepo{
		businesses: make(map[string]*model.Business),
		reviews:    reviews,
		ownerLocks: make(map[string]*sync.Mutex),
	}
}

func (r *fakeBusinessRepo) Create(_ context.Context, b *model.Business) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.businesses {
		if existing.Slug == b.Slug {
			return fmt.Errorf("%w: slug %q already taken", repository.ErrConflict, b.Slug)
		}
	}
	cp := *b
	r.businesses[b.ID] = &cp
	return nil
}

func (r *fakeBusinessRepo) GetByID(_ context.Context, id string) (*model.Business, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	b, ok := r.businesses[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *fakeBusinessRepo) FindFirstByOwner(_ context.Context, ownerID string) (*model.Business, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findCalls++
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, b := range r.businesses {
		if b.OwnerID == ownerID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeBusinessRepo) ownerLock(ownerID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lockCalls++
	m, ok := r.ownerLocks[ownerID]
	if !ok {
		m = &sync.Mutex{}
		r.ownerLocks[ownerID] = m
	}
	return m
}

// LockOwner вне транзакции сразу освобождается, как xact-блокировка
// в режиме autocommit.
func (r *fakeBusinessRepo) LockOwner(_ context.Context, ownerID string) error {
	m := r.ownerLock(ownerID)
	m.Lock()
	m.Unlock() //nolint:staticcheck // освобождается в конце оператора
	return nil
}

// txBusinessRepo держит блокировки владельцев до конца транзакции.
type txBusinessRepo struct {
	*fakeBusinessRepo
	held []*sync.Mutex
}

func (r *txBusinessRepo) LockOwner(_ context.Context, ownerID string) error {
	m := r.ownerLock(ownerID)
	m.Lock()
	r.held = append(r.held, m)
	return nil
}

func (r *txBusinessRepo) end() {
	for _, m := range r.held {
		m.Unlock()
	}
	r.held = nil
}

func (r *fakeBusinessRepo) RefreshRating(ctx context.Context, businessID string) error {
	count, _ := r.reviews.CountApprovedByBusiness(ctx, businessID)
	approved, _ := r.reviews.ListApprovedByBusiness(ctx, businessID, 1000, 0)

	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.businesses[businessID]
	if !ok {
		return repository.ErrNotFound
	}
	sum := 0
	for _, rv := range approved {
		sum += rv.Rating
	}
	b.ReviewCount = count
	b.AverageRating = 0
	if count > 0 {
		b.AverageRating = float64(sum) / float64(count)
	}
	return nil
}

func (r *fakeBusinessRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.businesses)
}

func (r *fakeBusinessRepo) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getCalls + r.findCalls + r.createCalls
}

type fakeContactRepo struct {
	mu       sync.Mutex
	messages []*model.ContactMessage
	err      error
}

func (r *fakeContactRepo) Create(_ context.Context, m *model.ContactMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	cp := *m
	r.messages = append(r.messages, &cp)
	return nil
}

// fakeTx выполняет fn над тем же фейковым хранилищем. Упавший fn не оставляет
// частичного состояния: каждая запись в фейк это одно присваивание в map.
// Блокировки владельцев, взятые через хранилище, держатся до возврата fn.
type fakeTx struct {
	mu    sync.Mutex
	store *repository.Store
	calls int
	err   error
}

func (t *fakeTx) InTx(_ context.Context, fn func(s *repository.Store) error) error {
	t.mu.Lock()
	t.calls++
	err := t.err
	t.mu.Unlock()
	if err != nil {
		return err
	}

	st := *t.store
	if base, ok := t.store.Businesses.(*fakeBusinessRepo); ok {
		tb := &txBusinessRepo{fakeBusinessRepo: base}
		defer tb.end()
		st.Businesses = tb
	}
	return fn(&st)
}

// --- зависимости на Redis ---

type fakeMarkers struct {
	mu        sync.Mutex
	set       map[string]bool
	existsErr error
	setErr    error
	calls     int
}

func newFakeMarkers() *fakeMarkers {
	return &fakeMarkers{set: make(map[string]bool)}
}

func (m *fakeMarkers) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.existsErr != nil {
		return false, m.existsErr
	}
	return m.set[key], nil
}

func (m *fakeMarkers) Set(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.setErr != nil {
		return m.setErr
	}
	m.set[key] = true
	return nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	acquired []string
	released []string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) Acquire(_ context.Context, key string) (lock.Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held[key] {
		return nil, lock.ErrHeld
	}
	l.held[key] = true
	l.acquired = append(l.acquired, key)
	return func(context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		l.released = append(l.released, key)
	}, nil
}

func (l *fakeLocker) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.acquired)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}
