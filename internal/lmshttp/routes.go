// Package lmshttp registers the course platform API on a chi router. Every
// route except the payment webhook is built through the secure composer.
package lmshttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/dentalacademy/internal/apierr"
	"github.com/keithlinneman/dentalacademy/internal/auth"
	"github.com/keithlinneman/dentalacademy/internal/httpmw"
	"github.com/keithlinneman/dentalacademy/internal/log"
	"github.com/keithlinneman/dentalacademy/internal/payments"
	"github.com/keithlinneman/dentalacademy/internal/secure"
	"github.com/keithlinneman/dentalacademy/internal/store"
	"github.com/keithlinneman/dentalacademy/internal/uploads"
	"github.com/keithlinneman/dentalacademy/internal/video"
	"github.com/keithlinneman/dentalacademy/internal/xerrors"
)

// VideoSource looks up hosted video metadata.
type VideoSource interface {
	Metadata(ctx context.Context, id string) (video.Metadata, error)
}

type Presigner interface {
	Presign(ctx context.Context, userID, fileName, contentType string) (*uploads.Presigned, error)
}

// Metrics receives domain events. metrics.ServerMetrics implements it.
type Metrics interface {
	IncPaymentIntentsCreated()
	IncOrdersCompleted()
	IncWebhookEvents(kind string)
}

type nopMetrics struct{}

func (nopMetrics) IncPaymentIntentsCreated() {}
func (nopMetrics) IncOrdersCompleted()       {}
func (nopMetrics) IncWebhookEvents(string)   {}

type Options struct {
	Logger    log.Logger
	Composer  *secure.Composer
	Store     store.Store
	Tokens    *auth.TokenIssuer
	Passwords auth.Passwords

	// Payments is required for paid checkouts and the webhook.
	Payments payments.Provider
	// Video, when set, checks that lesson videos exist and allow embedding.
	Video VideoSource
	// Uploads, when set, enables presigned asset uploads.
	Uploads Presigner
	Metrics Metrics

	// CORS handles preflights for routes that bypass the composer.
	CORS func(http.Handler) http.Handler
}

type Routes struct {
	opts      Options
	log       log.Logger
	c         *secure.Composer
	store     store.Store
	tokens    *auth.TokenIssuer
	passwords auth.Passwords
	payments  payments.Provider
	video     VideoSource
	uploads   Presigner
	metrics   Metrics

	// compared against on unknown emails so login timing does not reveal accounts
	dummyHash string
}

func New(opts Options) (*Routes, error) {
	if opts.Composer == nil {
		return nil, xerrors.New("Composer is required")
	}
	if opts.Store == nil {
		return nil, xerrors.New("Store is required")
	}
	if opts.Tokens == nil {
		return nil, xerrors.New("Tokens is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	dummy, err := opts.Passwords.Hash("not-a-real-password")
	if err != nil {
		return nil, err
	}
	return &Routes{
		opts:      opts,
		log:       opts.Logger,
		c:         opts.Composer,
		store:     opts.Store,
		tokens:    opts.Tokens,
		passwords: opts.Passwords,
		payments:  opts.Payments,
		video:     opts.Video,
		uploads:   opts.Uploads,
		metrics:   opts.Metrics,
		dummyHash: dummy,
	}, nil
}

var (
	staff = []auth.Role{auth.RoleInstructor, auth.RoleAdmin}
	admin = []auth.Role{auth.RoleAdmin}
	buyer = []auth.Role{auth.RoleStudent, auth.RoleInstructor, auth.RoleAdmin}
)

// RegisterRoutes mounts the API. chi.Handle matches every method so the
// composer owns OPTIONS and 405 handling.
func (rt *Routes) RegisterRoutes(r chi.Router) {
	r.Handle("/api/auth/register", rt.c.Handle(secure.Config{
		Name: "auth.register", Schema: func() any { return new(registerBody) }, Rules: authRules, Log: true,
	}, map[string]secure.HandlerFunc{http.MethodPost: rt.register}))

	r.Handle("/api/auth/login", rt.c.Handle(secure.Config{
		Name: "auth.login", Schema: func() any { return new(loginBody) }, Rules: authRules, Log: true,
	}, map[string]secure.HandlerFunc{http.MethodPost: rt.login}))

	r.Handle("/api/auth/logout", rt.c.Handle(secure.Config{Name: "auth.logout"},
		map[string]secure.HandlerFunc{http.MethodPost: rt.logout}))

	r.Handle("/api/auth/me", rt.c.Handle(secure.Config{Name: "auth.me", Authenticated: true},
		map[string]secure.HandlerFunc{http.MethodGet: rt.me}))

	r.Handle("/api/courses", rt.c.Handle(secure.Config{
		Name: "courses", Schema: func() any { return new(createCourseBody) }, Rules: courseRules,
		MethodRoles: map[string][]auth.Role{http.MethodPost: staff},
	}, map[string]secure.HandlerFunc{
		http.MethodGet:  rt.listCourses,
		http.MethodPost: rt.createCourse,
	}))

	r.Handle("/api/courses/{id}", rt.c.Handle(secure.Config{
		Name: "courses.item", Schema: func() any { return new(patchCourseBody) }, Rules: courseRules,
		MethodRoles: map[string][]auth.Role{http.MethodPatch: staff, http.MethodDelete: staff},
	}, map[string]secure.HandlerFunc{
		http.MethodGet:    rt.getCourse,
		http.MethodPatch:  rt.patchCourse,
		http.MethodDelete: rt.deleteCourse,
	}))

	r.Handle("/api/courses/{id}/lessons", rt.c.Handle(secure.Config{
		Name: "lessons.create", Roles: staff, Schema: func() any { return new(lessonBody) }, Rules: lessonRules, Log: true,
	}, map[string]secure.HandlerFunc{http.MethodPost: rt.addLesson}))

	r.Handle("/api/courses/{id}/lessons/{lessonID}", rt.c.Handle(secure.Config{
		Name: "lessons.watch", Authenticated: true,
	}, map[string]secure.HandlerFunc{http.MethodGet: rt.watchLesson}))

	r.Handle("/api/orders", rt.c.Handle(secure.Config{
		Name: "orders.create", Roles: buyer, Schema: func() any { return new(orderBody) }, Log: true,
	}, map[string]secure.HandlerFunc{http.MethodPost: rt.createOrder}))

	r.Handle("/api/orders/{id}", rt.c.Handle(secure.Config{
		Name: "orders.update", Roles: admin, Schema: func() any { return new(orderStatusBody) }, Log: true,
	}, map[string]secure.HandlerFunc{http.MethodPatch: rt.updateOrder}))

	r.Handle("/api/dashboard", rt.c.Handle(secure.Config{Name: "dashboard", Authenticated: true},
		map[string]secure.HandlerFunc{http.MethodGet: rt.dashboard}))

	r.Handle("/api/admin/users", rt.c.Handle(secure.Config{Name: "admin.users", Roles: admin},
		map[string]secure.HandlerFunc{http.MethodGet: rt.listUsers}))

	r.Handle("/api/admin/users/{id}/role", rt.c.Handle(secure.Config{
		Name: "admin.users.role", Roles: admin, Schema: func() any { return new(roleBody) }, Log: true,
	}, map[string]secure.HandlerFunc{http.MethodPatch: rt.setRole}))

	if rt.uploads != nil {
		r.Handle("/api/uploads/presign", rt.c.Handle(secure.Config{
			Name: "uploads.presign", Roles: staff, Schema: func() any { return new(presignBody) },
		}, map[string]secure.HandlerFunc{http.MethodPost: rt.presign}))
	}

	if rt.payments != nil {
		r.Group(func(r chi.Router) {
			if rt.opts.CORS != nil {
				r.Use(rt.opts.CORS)
			}
			r.Use(httpmw.Scope("payments.webhook"))
			r.Post("/api/webhooks/stripe", rt.stripeWebhook)
		})
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apierr.Write(w, apierr.NotFound("Not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		apierr.WriteJSON(w, http.StatusMethodNotAllowed, apierr.Envelope{Error: "Method not allowed"})
	})
}

func page(r *http.Request) (store.Page, error) {
	var p store.Page
	q := r.URL.Query()
	for name, dst := range map[string]*int{"limit": &p.Limit, "offset": &p.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return store.Page{}, apierr.BadRequest("Invalid pagination")
		}
		*dst = n
	}
	return p.Normalize(), nil
}

// storeErr maps store sentinels to client errors; notFound is the 404 message.
func storeErr(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apierr.NotFound(notFound)
	case errors.Is(err, store.ErrConflict):
		return apierr.Conflict("Conflict")
	}
	return err
}
