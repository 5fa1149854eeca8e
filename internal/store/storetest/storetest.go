// Package storetest is the behavior suite every store.Store implementation runs.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/keithlinneman/dentalacademy/internal/auth"
	"github.com/keithlinneman/dentalacademy/internal/store"
)

// Run exercises s. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("Courses", func(t *testing.T) { testCourses(t, newStore(t)) })
	t.Run("OrderCompletionIsIdempotent", func(t *testing.T) { testOrderCompletion(t, newStore(t)) })
	t.Run("Counts", func(t *testing.T) { testCounts(t, newStore(t)) })
}

func mustUser(t *testing.T, s store.Store, email string, role auth.Role) *store.User {
	t.Helper()
	u := &store.User{Name: "Test " + role.String(), Email: email, PasswordHash: "x", Role: role}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return u
}

func mustCourse(t *testing.T, s store.Store, instructorID, title string, status store.CourseStatus, price int64) *store.Course {
	t.Helper()
	c := &store.Course{
		Title: title, Description: "A course about " + title, Category: "implants", Level: "beginner",
		PriceCents: price, Currency: "usd", Status: status, InstructorID: instructorID,
	}
	if err := s.CreateCourse(context.Background(), c); err != nil {
		t.Fatalf("CreateCourse(%s): %v", title, err)
	}
	return c
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := mustUser(t, s, "Jane@Example.com", auth.RoleStudent)
	if u.ID == "" {
		t.Fatal("id not assigned")
	}

	dup := &store.User{Name: "Jane again", Email: "jane@example.com", PasswordHash: "y", Role: auth.RoleStudent}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate email: %v", err)
	}

	got, err := s.UserByEmail(ctx, "JANE@example.com")
	if err != nil || got.ID != u.ID || got.Email != "jane@example.com" {
		t.Fatalf("UserByEmail: %+v %v", got, err)
	}
	if _, err := s.UserByID(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing user: %v", err)
	}

	updated, err := s.SetUserRole(ctx, u.ID, auth.RoleInstructor)
	if err != nil || updated.Role != auth.RoleInstructor {
		t.Fatalf("SetUserRole: %+v %v", updated, err)
	}

	mustUser(t, s, "second@example.com", auth.RoleAdmin)
	list, err := s.ListUsers(ctx, store.Page{Limit: 1})
	if err != nil || len(list) != 1 {
		t.Fatalf("ListUsers limit 1: %d %v", len(list), err)
	}
	list, _ = s.ListUsers(ctx, store.Page{})
	if len(list) != 2 {
		t.Fatalf("ListUsers: %d", len(list))
	}
}

func testCourses(t *testing.T, s store.Store) {
	ctx := context.Background()
	inst := mustUser(t, s, "inst@example.com", auth.RoleInstructor)
	other := mustUser(t, s, "other@example.com", auth.RoleInstructor)

	pub := mustCourse(t, s, inst.ID, "Implant Basics", store.CoursePublished, 4900)
	draft := mustCourse(t, s, inst.ID, "Endo Draft", store.CourseDraft, 9900)
	mustCourse(t, s, other.ID, "Ortho Advanced", store.CoursePublished, 19900)

	got, err := s.Course(ctx, pub.ID)
	if err != nil || got.Title != "Implant Basics" || got.Status != store.CoursePublished {
		t.Fatalf("Course: %+v %v", got, err)
	}

	published, err := s.ListCourses(ctx, store.Filter{}.Where("status", string(store.CoursePublished)), store.Page{})
	if err != nil || len(published) != 2 {
		t.Fatalf("published: %d %v", len(published), err)
	}

	f, err := store.ParseFilter(map[string]any{"priceCents": map[string]any{"$gte": float64(5000)}})
	if err != nil {
		t.Fatal(err)
	}
	mine, err := s.ListCourses(ctx, f.Where("instructorId", inst.ID), store.Page{})
	if err != nil || len(mine) != 1 || mine[0].ID != draft.ID {
		t.Fatalf("filtered: %+v %v", mine, err)
	}

	title := "Endo Fundamentals"
	status := store.CoursePublished
	updated, err := s.UpdateCourse(ctx, draft.ID, store.CoursePatch{Title: &title, Status: &status})
	if err != nil || updated.Title != title || updated.Status != status || updated.Level != "beginner" {
		t.Fatalf("UpdateCourse: %+v %v", updated, err)
	}

	withLesson, err := s.AddLesson(ctx, pub.ID, &store.Lesson{Title: "Intro", VideoURL: "https://vimeo.com/1", VideoID: "1", DurationSeconds: 60})
	if err != nil || len(withLesson.Lessons) != 1 || withLesson.Lessons[0].Position != 1 {
		t.Fatalf("AddLesson: %+v %v", withLesson, err)
	}
	withLesson, _ = s.AddLesson(ctx, pub.ID, &store.Lesson{Title: "Part 2", VideoURL: "https://vimeo.com/2", VideoID: "2", Preview: true})
	if len(withLesson.Lessons) != 2 || withLesson.Lessons[1].Position != 2 || !withLesson.Lessons[1].Preview {
		t.Fatalf("second lesson: %+v", withLesson.Lessons)
	}

	byIDs, err := s.CoursesByIDs(ctx, []string{pub.ID, draft.ID})
	if err != nil || len(byIDs) != 2 {
		t.Fatalf("CoursesByIDs: %d %v", len(byIDs), err)
	}

	if err := s.DeleteCourse(ctx, draft.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Course(ctx, draft.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("deleted course: %v", err)
	}
	if err := s.DeleteCourse(ctx, draft.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("double delete: %v", err)
	}
}

func testOrderCompletion(t *testing.T, s store.Store) {
	ctx := context.Background()
	inst := mustUser(t, s, "inst@example.com", auth.RoleInstructor)
	student := mustUser(t, s, "student@example.com", auth.RoleStudent)
	course := mustCourse(t, s, inst.ID, "Implant Basics", store.CoursePublished, 4900)

	o := &store.Order{UserID: student.ID, CourseID: course.ID, AmountCents: 4900, Currency: "usd"}
	if err := s.CreateOrder(ctx, o); err != nil {
		t.Fatal(err)
	}
	if o.Status != store.OrderPending {
		t.Fatalf("status = %s", o.Status)
	}
	if err := s.SetOrderPaymentIntent(ctx, o.ID, "pi_123"); err != nil {
		t.Fatal(err)
	}
	byPI, err := s.OrderByPaymentIntent(ctx, "pi_123")
	if err != nil || byPI.ID != o.ID {
		t.Fatalf("OrderByPaymentIntent: %+v %v", byPI, err)
	}

	first, err := s.UpdateOrderStatus(ctx, o.ID, store.OrderCompleted)
	if err != nil || first.AlreadyCompleted || !first.Enrolled || first.Order.CompletedAt == nil {
		t.Fatalf("first completion: %+v %v", first, err)
	}

	// replay of the same completion
	second, err := s.UpdateOrderStatus(ctx, o.ID, store.OrderCompleted)
	if err != nil || !second.AlreadyCompleted || second.Enrolled {
		t.Fatalf("second completion: %+v %v", second, err)
	}

	c, _ := s.Course(ctx, course.ID)
	if c.EnrollmentCount != 1 {
		t.Fatalf("enrollment count = %d, want 1", c.EnrollmentCount)
	}
	u, _ := s.UserByID(ctx, student.ID)
	if len(u.EnrolledCourses) != 1 || !u.IsEnrolled(course.ID) {
		t.Fatalf("enrolled = %v", u.EnrolledCourses)
	}

	orders, err := s.OrdersByUser(ctx, student.ID)
	if err != nil || len(orders) != 1 || orders[0].Status != store.OrderCompleted {
		t.Fatalf("OrdersByUser: %+v %v", orders, err)
	}

	if _, err := s.UpdateOrderStatus(ctx, "00000000-0000-0000-0000-000000000000", store.OrderCompleted); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing order: %v", err)
	}
}

func testCounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	inst := mustUser(t, s, "inst@example.com", auth.RoleInstructor)
	student := mustUser(t, s, "student@example.com", auth.RoleStudent)
	c := mustCourse(t, s, inst.ID, "Implant Basics", store.CoursePublished, 4900)
	mustCourse(t, s, inst.ID, "Draft", store.CourseDraft, 100)

	o := &store.Order{UserID: student.ID, CourseID: c.ID, AmountCents: 4900, Currency: "usd"}
	if err := s.CreateOrder(ctx, o); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateOrderStatus(ctx, o.ID, store.OrderCompleted); err != nil {
		t.Fatal(err)
	}

	n, err := s.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := store.Counts{Users: 2, Courses: 2, PublishedCourses: 1, Orders: 1, CompletedOrders: 1, RevenueCents: 4900}
	if n != want {
		t.Fatalf("counts = %+v, want %+v", n, want)
	}
}
