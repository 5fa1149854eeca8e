// Package memstore is an in-process store.Store for development and tests.
package memstore

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keithlinneman/dentalacademy/internal/auth"
	"github.com/keithlinneman/dentalacademy/internal/store"
)

type Store struct {
	mu      sync.RWMutex
	users   map[string]*store.User
	emails  map[string]string
	courses map[string]*store.Course
	orders  map[string]*store.Order
	intents map[string]string
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:   make(map[string]*store.User),
		emails:  make(map[string]string),
		courses: make(map[string]*store.Course),
		orders:  make(map[string]*store.Order),
		intents: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func copyUser(u *store.User) *store.User {
	c := *u
	c.EnrolledCourses = slices.Clone(u.EnrolledCourses)
	if c.EnrolledCourses == nil {
		c.EnrolledCourses = []string{}
	}
	return &c
}

func copyCourse(c *store.Course) *store.Course {
	out := *c
	out.Lessons = slices.Clone(c.Lessons)
	if out.Lessons == nil {
		out.Lessons = []store.Lesson{}
	}
	return &out
}

func copyOrder(o *store.Order) *store.Order {
	out := *o
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

func (s *Store) CreateUser(_ context.Context, u *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, taken := s.emails[email]; taken {
		return store.ErrConflict
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = email
	u.CreatedAt = s.now()
	if u.EnrolledCourses == nil {
		u.EnrolledCourses = []string{}
	}
	s.users[u.ID] = copyUser(u)
	s.emails[email] = u.ID
	return nil
}

func (s *Store) UserByID(_ context.Context, id string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyUser(u), nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyUser(s.users[id]), nil
}

func (s *Store) ListUsers(_ context.Context, page store.Page) ([]store.User, error) {
	s.mu.RLock()
	all := make([]store.User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, *copyUser(u))
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return paginate(all, page), nil
}

func (s *Store) SetUserRole(_ context.Context, id string, role auth.Role) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	u.Role = role
	return copyUser(u), nil
}

func (s *Store) CreateCourse(_ context.Context, c *store.Course) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, exists := s.courses[c.ID]; exists {
		return store.ErrConflict
	}
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.Lessons == nil {
		c.Lessons = []store.Lesson{}
	}
	s.courses[c.ID] = copyCourse(c)
	return nil
}

func (s *Store) Course(_ context.Context, id string) (*store.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.courses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyCourse(c), nil
}

func (s *Store) CoursesByIDs(_ context.Context, ids []string) ([]store.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Course, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.courses[id]; ok {
			out = append(out, *copyCourse(c))
		}
	}
	return out, nil
}

func (s *Store) UpdateCourse(_ context.Context, id string, p store.CoursePatch) (*store.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Category != nil {
		c.Category = *p.Category
	}
	if p.Level != nil {
		c.Level = *p.Level
	}
	if p.PriceCents != nil {
		c.PriceCents = *p.PriceCents
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.Thumbnail != nil {
		c.Thumbnail = *p.Thumbnail
	}
	c.UpdatedAt = s.now()
	return copyCourse(c), nil
}

func (s *Store) DeleteCourse(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.courses[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.courses, id)
	return nil
}

func (s *Store) ListCourses(_ context.Context, f store.Filter, page store.Page) ([]store.Course, error) {
	s.mu.RLock()
	matched := make([]store.Course, 0)
	for _, c := range s.courses {
		if f.Match(c) {
			matched = append(matched, *copyCourse(c))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, page), nil
}

func (s *Store) AddLesson(_ context.Context, courseID string, l *store.Lesson) (*store.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[courseID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.Position = len(c.Lessons) + 1
	c.Lessons = append(c.Lessons, *l)
	c.UpdatedAt = s.now()
	return copyCourse(c), nil
}

func (s *Store) CreateOrder(_ context.Context, o *store.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[o.UserID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := s.courses[o.CourseID]; !ok {
		return store.ErrNotFound
	}
	if o.PaymentIntentID != "" {
		if _, taken := s.intents[o.PaymentIntentID]; taken {
			return store.ErrConflict
		}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = store.OrderPending
	}
	now := s.now()
	o.CreatedAt, o.UpdatedAt = now, now
	s.orders[o.ID] = copyOrder(o)
	if o.PaymentIntentID != "" {
		s.intents[o.PaymentIntentID] = o.ID
	}
	return nil
}

func (s *Store) Order(_ context.Context, id string) (*store.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyOrder(o), nil
}

func (s *Store) OrderByPaymentIntent(_ context.Context, pi string) (*store.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.intents[pi]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyOrder(s.orders[id]), nil
}

func (s *Store) OrdersByUser(_ context.Context, userID string) ([]store.Order, error) {
	s.mu.RLock()
	out := make([]store.Order, 0)
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *copyOrder(o))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SetOrderPaymentIntent(_ context.Context, id, pi string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	if other, taken := s.intents[pi]; taken && other != id {
		return store.ErrConflict
	}
	if o.PaymentIntentID != "" {
		delete(s.intents, o.PaymentIntentID)
	}
	o.PaymentIntentID = pi
	o.UpdatedAt = s.now()
	s.intents[pi] = id
	return nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, id string, status store.OrderStatus) (store.OrderUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return store.OrderUpdate{}, store.ErrNotFound
	}
	now := s.now()
	res := store.OrderUpdate{}

	if status == store.OrderCompleted && o.CompletedAt != nil {
		res.AlreadyCompleted = true
		if o.Status != status {
			o.Status = status
			o.UpdatedAt = now
		}
		res.Order = copyOrder(o)
		return res, nil
	}

	o.Status = status
	o.UpdatedAt = now
	if status == store.OrderCompleted {
		t := now
		o.CompletedAt = &t
		u, uok := s.users[o.UserID]
		c, cok := s.courses[o.CourseID]
		if uok && cok && !u.IsEnrolled(c.ID) {
			u.EnrolledCourses = append(u.EnrolledCourses, c.ID)
			c.EnrollmentCount++
			res.Enrolled = true
		}
	}
	res.Order = copyOrder(o)
	return res, nil
}

func (s *Store) Counts(_ context.Context) (store.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := store.Counts{Users: len(s.users), Courses: len(s.courses), Orders: len(s.orders)}
	for _, c := range s.courses {
		if c.Status == store.CoursePublished {
			n.PublishedCourses++
		}
	}
	for _, o := range s.orders {
		if o.Status == store.OrderCompleted {
			n.CompletedOrders++
			n.RevenueCents += o.AmountCents
		}
	}
	return n, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

func paginate[T any](all []T, page store.Page) []T {
	page = page.Normalize()
	if page.Offset >= len(all) {
		return []T{}
	}
	end := min(page.Offset+page.Limit, len(all))
	return all[page.Offset:end]
}
