// Package store defines the LMS data model and the persistence contract shared
// by the in-memory and Postgres implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/keithlinneman/dentalacademy/internal/auth"
)

var (
	ErrNotFound          = errors.New("store: not found")
	ErrConflict          = errors.New("store: conflict")
	ErrUnsupportedFilter = errors.New("store: unsupported filter")
)

type User struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	PasswordHash    string    `json:"-"`
	Role            auth.Role `json:"role"`
	EnrolledCourses []string  `json:"enrolledCourses"`
	CreatedAt       time.Time `json:"createdAt"`
}

// IsEnrolled reports whether courseID is in the user's enrolled set.
func (u *User) IsEnrolled(courseID string) bool {
	for _, id := range u.EnrolledCourses {
		if id == courseID {
			return true
		}
	}
	return false
}

type CourseStatus string

const (
	CourseDraft     CourseStatus = "draft"
	CoursePublished CourseStatus = "published"
	CourseArchived  CourseStatus = "archived"
)

type Course struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Category        string       `json:"category"`
	Level           string       `json:"level"`
	PriceCents      int64        `json:"priceCents"`
	Currency        string       `json:"currency"`
	Status          CourseStatus `json:"status"`
	InstructorID    string       `json:"instructorId"`
	Thumbnail       string       `json:"thumbnail,omitempty"`
	Lessons         []Lesson     `json:"lessons"`
	EnrollmentCount int          `json:"enrollmentCount"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

type Lesson struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	VideoURL        string `json:"-"`
	VideoID         string `json:"-"`
	DurationSeconds int    `json:"durationSeconds"`
	Position        int    `json:"position"`
	Preview         bool   `json:"preview"`
}

// CoursePatch carries the fields an update sets. Nil fields are left alone.
type CoursePatch struct {
	Title       *string
	Description *string
	Category    *string
	Level       *string
	PriceCents  *int64
	Status      *CourseStatus
	Thumbnail   *string
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
	OrderRefunded  OrderStatus = "refunded"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderCompleted, OrderFailed, OrderRefunded:
		return true
	}
	return false
}

type Order struct {
	ID              string      `json:"id"`
	UserID          string      `json:"userId"`
	CourseID        string      `json:"courseId"`
	AmountCents     int64       `json:"amountCents"`
	Currency        string      `json:"currency"`
	Status          OrderStatus `json:"status"`
	PaymentIntentID string      `json:"paymentIntentId,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
	CompletedAt     *time.Time  `json:"completedAt,omitempty"`
}

// OrderUpdate is the result of a status change. AlreadyCompleted is set when
// the order had been completed before, in which case enrollment was not touched.
type OrderUpdate struct {
	Order            *Order
	AlreadyCompleted bool
	Enrolled         bool
}

type Counts struct {
	Users            int   `json:"users"`
	Courses          int   `json:"courses"`
	PublishedCourses int   `json:"publishedCourses"`
	Orders           int   `json:"orders"`
	CompletedOrders  int   `json:"completedOrders"`
	RevenueCents     int64 `json:"revenueCents"`
}

// Page bounds list results.
type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type Store interface {
	CreateUser(ctx context.Context, u *User) error
	UserByID(ctx context.Context, id string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context, page Page) ([]User, error)
	SetUserRole(ctx context.Context, id string, role auth.Role) (*User, error)

	CreateCourse(ctx context.Context, c *Course) error
	Course(ctx context.Context, id string) (*Course, error)
	CoursesByIDs(ctx context.Context, ids []string) ([]Course, error)
	UpdateCourse(ctx context.Context, id string, patch CoursePatch) (*Course, error)
	DeleteCourse(ctx context.Context, id string) error
	ListCourses(ctx context.Context, f Filter, page Page) ([]Course, error)
	AddLesson(ctx context.Context, courseID string, l *Lesson) (*Course, error)

	CreateOrder(ctx context.Context, o *Order) error
	Order(ctx context.Context, id string) (*Order, error)
	OrderByPaymentIntent(ctx context.Context, paymentIntentID string) (*Order, error)
	OrdersByUser(ctx context.Context, userID string) ([]Order, error)
	SetOrderPaymentIntent(ctx context.Context, id, paymentIntentID string) error

	// UpdateOrderStatus sets status. The first transition into completed adds
	// the course to the user's enrolled set and increments the course's
	// enrollment count; later completions report AlreadyCompleted and change nothing.
	UpdateOrderStatus(ctx context.Context, id string, status OrderStatus) (OrderUpdate, error)

	Counts(ctx context.Context) (Counts, error)
	Ping(ctx context.Context) error
	Close()
}
