package lmshttp

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/dentalacademy/internal/apierr"
	"github.com/keithlinneman/dentalacademy/internal/auth"
	"github.com/keithlinneman/dentalacademy/internal/secure"
	"github.com/keithlinneman/dentalacademy/internal/store"
	"github.com/keithlinneman/dentalacademy/internal/uploads"
)

type studentDashboard struct {
	Role    string         `json:"role"`
	Courses []store.Course `json:"courses"`
	Orders  []store.Order  `json:"orders"`
}

type instructorDashboard struct {
	Role             string         `json:"role"`
	Courses          []store.Course `json:"courses"`
	TotalEnrollments int            `json:"totalEnrollments"`
	Published        int            `json:"published"`
}

type adminDashboard struct {
	Role   string       `json:"role"`
	Counts store.Counts `json:"counts"`
}

func (rt *Routes) dashboard(r *http.Request, c *secure.Context) (*secure.Response, error) {
	ctx := r.Context()
	s := c.Session

	switch s.Role {
	case auth.RoleStudent:
		u, err := rt.store.UserByID(ctx, s.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.Unauthorized()
		}
		if err != nil {
			return nil, err
		}
		courses, err := rt.store.CoursesByIDs(ctx, u.EnrolledCourses)
		if err != nil {
			return nil, err
		}
		orders, err := rt.store.OrdersByUser(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		return secure.OK(studentDashboard{Role: s.Role.String(), Courses: courses, Orders: orders}), nil

	case auth.RoleInstructor:
		courses, err := rt.store.ListCourses(ctx, store.Filter{}.Where("instructorId", s.UserID),
			store.Page{Limit: store.MaxPageLimit})
		if err != nil {
			return nil, err
		}
		d := instructorDashboard{Role: s.Role.String(), Courses: courses}
		for _, co := range courses {
			d.TotalEnrollments += co.EnrollmentCount
			if co.Status == store.CoursePublished {
				d.Published++
			}
		}
		return secure.OK(d), nil

	case auth.RoleAdmin:
		n, err := rt.store.Counts(ctx)
		if err != nil {
			return nil, err
		}
		return secure.OK(adminDashboard{Role: s.Role.String(), Counts: n}), nil
	}
	return nil, apierr.Forbidden()
}

type roleBody struct {
	Role string `json:"role" validate:"required,oneof=student instructor admin"`
}

func (rt *Routes) listUsers(r *http.Request, _ *secure.Context) (*secure.Response, error) {
	p, err := page(r)
	if err != nil {
		return nil, err
	}
	users, err := rt.store.ListUsers(r.Context(), p)
	if err != nil {
		return nil, err
	}
	return secure.OK(users), nil
}

func (rt *Routes) setRole(r *http.Request, c *secure.Context) (*secure.Response, error) {
	in := secure.Data[roleBody](c)
	id := chi.URLParam(r, "id")
	if id == c.Session.UserID {
		return nil, apierr.BadRequest("Cannot change your own role")
	}
	role, err := auth.ParseRole(in.Role)
	if err != nil {
		return nil, apierr.BadRequest("Unknown role")
	}
	u, err := rt.store.SetUserRole(r.Context(), id, role)
	if err != nil {
		return nil, storeErr(err, "User not found")
	}
	c.Logger.Info(r.Context(), "user role changed", "target_user_id", id, "new_role", role.String())
	return secure.OK(u), nil
}

type presignBody struct {
	FileName    string `json:"fileName" validate:"required,max=200"`
	ContentType string `json:"contentType" validate:"required,max=100"`
}

func (rt *Routes) presign(r *http.Request, c *secure.Context) (*secure.Response, error) {
	in := secure.Data[presignBody](c)
	p, err := rt.uploads.Presign(r.Context(), c.Session.UserID, in.FileName, in.ContentType)
	switch {
	case errors.Is(err, uploads.ErrFileName):
		return nil, apierr.Validation([]apierr.Detail{{Field: "fileName", Rule: "filename", Message: "fileName is not a valid file name"}})
	case errors.Is(err, uploads.ErrContentType):
		return nil, apierr.Validation([]apierr.Detail{{Field: "contentType", Rule: "oneof", Message: "contentType is not an allowed upload type"}})
	case err != nil:
		return nil, err
	}
	return secure.OK(p), nil
}
