// Package pgstore is the Postgres store.Store, built on a pgx connection pool.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keithlinneman/dentalacademy/internal/auth"
	"github.com/keithlinneman/dentalacademy/internal/log"
	"github.com/keithlinneman/dentalacademy/internal/store"
	"github.com/keithlinneman/dentalacademy/internal/xerrors"
)

type Store struct {
	pool *pgxpool.Pool
	log  log.Logger
}

var _ store.Store = (*Store)(nil)

type Options struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	Logger          log.Logger
}

// New connects to dsn and verifies the connection. It does not migrate.
func New(ctx context.Context, dsn string, opts Options) (*Store, error) {
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, xerrors.Wrap(err, "pgstore: parse dsn")
	}
	if opts.MaxConns > 0 {
		pc.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		pc.MinConns = opts.MinConns
	}
	if opts.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = opts.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, xerrors.Wrap(err, "pgstore: open pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, xerrors.Wrap(err, "pgstore: ping")
	}
	l := opts.Logger
	if l == nil {
		l = log.Nop()
	}
	return &Store{pool: pool, log: l.With("component", "pgstore")}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() { s.pool.Close() }

// mapErr translates driver errors into store sentinels. fk is returned for
// foreign key violations since callers differ on what a missing parent means.
func mapErr(err error, fk error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "23505":
			return store.ErrConflict
		case "23503":
			return fk
		}
	}
	return xerrors.WithStack(err)
}

const userCols = `u.id, u.name, u.email, u.password_hash, u.role, u.created_at,
	COALESCE((SELECT array_agg(e.course_id ORDER BY e.created_at, e.course_id)
		FROM enrollments e WHERE e.user_id = u.id), '{}')`

func scanUser(row pgx.Row) (*store.User, error) {
	var (
		u    store.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.CreatedAt, &u.EnrolledCourses); err != nil {
		return nil, err
	}
	r, err := auth.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("pgstore: user %s: %w", u.ID, err)
	}
	u.Role = r
	if u.EnrolledCourses == nil {
		u.EnrolledCourses = []string{}
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, name, email, password_hash, role)
		 VALUES ($1, $2, lower($3), $4, $5)
		 RETURNING email, created_at`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Role.String(),
	).Scan(&u.Email, &u.CreatedAt)
	if err != nil {
		return mapErr(err, store.ErrNotFound)
	}
	if u.EnrolledCourses == nil {
		u.EnrolledCourses = []string{}
	}
	return nil
}

func (s *Store) UserByID(ctx context.Context, id string) (*store.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users u WHERE u.id = $1`, id))
	return u, mapErr(err, store.ErrNotFound)
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*store.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users u WHERE u.email = lower($1)`, email))
	return u, mapErr(err, store.ErrNotFound)
}

func (s *Store) ListUsers(ctx context.Context, page store.Page) ([]store.User, error) {
	page = page.Normalize()
	rows, err := s.pool.Query(ctx,
		`SELECT `+userCols+` FROM users u ORDER BY u.created_at DESC, u.id LIMIT $1 OFFSET $2`,
		page.Limit, page.Offset)
	if err != nil {
		return nil, mapErr(err, store.ErrNotFound)
	}
	defer rows.Close()

	out := make([]store.User, 0, page.Limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapErr(err, store.ErrNotFound)
		}
		out = append(out, *u)
	}
	return out, mapErr(rows.Err(), store.ErrNotFound)
}

func (s *Store) SetUserRole(ctx context.Context, id string, role auth.Role) (*store.User, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET role = $2 WHERE id = $1`, id, role.String())
	if err != nil {
		return nil, mapErr(err, store.ErrNotFound)
	}
	if tag.RowsAffected() == 0 {
		return nil, store.ErrNotFound
	}
	return s.UserByID(ctx, id)
}

const courseCols = `id, title, description, category, level, price_cents, currency, status,
	instructor_id, thumbnail, enrollment_count, created_at, updated_at`

func scanCourse(row pgx.Row) (*store.Course, error) {
	var (
		c      store.Course
		status string
	)
	err := row.Scan(&c.ID, &c.Title, &c.Description, &c.Category, &c.Level, &c.PriceCents, &c.Currency,
		&status, &c.InstructorID, &c.Thumbnail, &c.EnrollmentCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = store.CourseStatus(status)
	c.Lessons = []store.Lesson{}
	return &c, nil
}

// querier is satisfied by the pool and by transactions.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// attachLessons loads lessons for every course in one round trip.
func attachLessons(ctx context.Context, q querier, courses []*store.Course) error {
	if len(courses) == 0 {
		return nil
	}
	ids := make([]string, len(courses))
	byID := make(map[string]*store.Course, len(courses))
	for i, c := range courses {
		ids[i] = c.ID
		byID[c.ID] = c
	}
	rows, err := q.Query(ctx,
		`SELECT course_id, id, title, description, video_url, video_id, duration_seconds, position, preview
		 FROM lessons WHERE course_id = ANY($1) ORDER BY course_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			courseID string
			l        store.Lesson
		)
		if err := rows.Scan(&courseID, &l.ID, &l.Title, &l.Description, &l.VideoURL, &l.VideoID,
			&l.DurationSeconds, &l.Position, &l.Preview); err != nil {
			return err
		}
		if c := byID[courseID]; c != nil {
			c.Lessons = append(c.Lessons, l)
		}
	}
	return rows.Err()
}

func (s *Store) CreateCourse(ctx context.Context, c *store.Course) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO courses (id, title, description, category, level, price_cents, currency, status, instructor_id, thumbnail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at, updated_at`,
		c.ID, c.Title, c.Description, c.Category, c.Level, c.PriceCents, c.Currency, string(c.Status), c.InstructorID, c.Thumbnail,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return mapErr(err, store.ErrNotFound)
	}
	if c.Lessons == nil {
		c.Lessons = []store.Lesson{}
	}
	return nil
}

func (s *Store) course(ctx context.Context, q querier, id string) (*store.Course, error) {
	c, err := scanCourse(q.QueryRow(ctx, `SELECT `+courseCols+` FROM courses WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, store.ErrNotFound)
	}
	if err := attachLessons(ctx, q, []*store.Course{c}); err != nil {
		return nil, mapErr(err, store.ErrNotFound)
	}
	return c, nil
}

func (s *Store) Course(ctx context.Context, id string) (*store.Course, error) {
	return s.course(ctx, s.pool, id)
}

func (s *Store) collectCourses(ctx context.Context, sql string, args ...any) ([]store.Course, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err, store.ErrNotFound)
	}
	var ptrs []*store.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			rows.Close()
			return nil, mapErr(err, store.ErrNotFound)
		}
		ptrs = append(ptrs, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapErr(err, store.ErrNotFound)
	}
	if err := attachLessons(ctx, s.pool, ptrs); err != nil {
		return nil, mapErr(err, store.ErrNotFound)
	}
	out := make([]store.Course, len(ptrs))
	for i, c := range ptrs {
		out[i] = *c
	}
	return out, nil
}

func (s *Store) CoursesByIDs(ctx context.Context, ids []string) ([]store.Course, error) {
	if len(ids) == 0 {
		return []store.Course{}, nil
	}
	return s.collectCourses(ctx,
		`SELECT `+courseCols+` FROM courses WHERE id = ANY($1)
		 ORDER BY array_position($1::text[], id)`, ids)
}

func (s *Store) UpdateCourse(ctx context.Context, id string, p store.CoursePatch) (*store.Course, error) {
	var status *string
	if p.Status != nil {
		v := string(*p.Status)
		status = &v
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE courses SET
			title       = COALESCE($2, title),
			description = COALESCE($3, description),
			category    = COALESCE($4, category),
			level       = COALESCE($5, level),
			price_cents = COALESCE($6, price_cents),
			status      = COALESCE($7, status),
			thumbnail   = COALESCE($8, thumbnail),
			updated_at  = now()
		 WHERE id = $1`,
		id, p.Title, p.Description, p.Category, p.Level, p.PriceCents, status, p.Thumbnail)
	if err != nil {
		return nil, mapErr(err, store.ErrNotFound)
	}
	if tag.RowsAffected() == 0 {
		return nil, store.ErrNotFound
	}
	return s.Course(ctx, id)
}

func (s *Store) DeleteCourse(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		// orders keep a reference to the course they bought
		return mapErr(err, store.ErrConflict)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListCourses(ctx context.Context, f store.Filter, page store.Page) ([]store.Course, error) {
	page = page.Normalize()
	where, args, err := whereClause(f)
	if err != nil {
		return nil, err
	}
	args = append(args, page.Limit, page.Offset)
	sql := fmt.Sprintf(`SELECT %s FROM courses %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		courseCols, where, len(args)-1, len(args))
	return s.collectCourses(ctx, sql, args...)
}

func (s *Store) AddLesson(ctx context.Context, courseID string, l *store.Lesson) (*store.Course, error) {
	var out *store.Course
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var next int
		err := tx.QueryRow(ctx,
			`SELECT COALESCE((SELECT max(position) FROM lessons WHERE course_id = c.id), 0) + 1
			 FROM courses c WHERE c.id = $1 FOR UPDATE`, courseID).Scan(&next)
		if err != nil {
			return err
		}
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		l.Position = next
		if _, err := tx.Exec(ctx,
			`INSERT INTO lessons (id, course_id, title, description, video_url, video_id, duration_seconds, position, preview)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			l.ID, courseID, l.Title, l.Description, l.VideoURL, l.VideoID, l.DurationSeconds, l.Position, l.Preview); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE courses SET updated_at = now() WHERE id = $1`, courseID); err != nil {
			return err
		}
		out, err = s.course(ctx, tx, courseID)
		return err
	})
	if err != nil {
		return nil, mapErr(err, store.ErrNotFound)
	}
	return out, nil
}

const orderCols = `id, user_id, course_id, amount_cents, currency, status,
	COALESCE(payment_intent_id, ''), created_at, updated_at, completed_at`

func scanOrder(row pgx.Row) (*store.Order, error) {
	var (
		o      store.Order
		status string
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.CourseID, &o.AmountCents, &o.Currency, &status,
		&o.PaymentIntentID, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt); err != nil {
		return nil, err
	}
	o.Status = store.OrderStatus(status)
	return &o, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Store) CreateOrder(ctx context.Context, o *store.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = store.OrderPending
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO orders (id, user_id, course_id, amount_cents, currency, status, payment_intent_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		o.ID, o.UserID, o.CourseID, o.AmountCents, o.Currency, string(o.Status), nullable(o.PaymentIntentID),
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	return mapErr(err, store.ErrNotFound)
}

func (s *Store) Order(ctx context.Context, id string) (*store.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
	return o, mapErr(err, store.ErrNotFound)
}

func (s *Store) OrderByPaymentIntent(ctx context.Context, pi string) (*store.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE payment_intent_id = $1`, pi))
	return o, mapErr(err, store.ErrNotFound)
}

func (s *Store) OrdersByUser(ctx context.Context, userID string) ([]store.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderCols+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, mapErr(err, store.ErrNotFound)
	}
	defer rows.Close()
	out := make([]store.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, mapErr(err, store.ErrNotFound)
		}
		out = append(out, *o)
	}
	return out, mapErr(rows.Err(), store.ErrNotFound)
}

func (s *Store) SetOrderPaymentIntent(ctx context.Context, id, pi string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET payment_intent_id = $2, updated_at = now() WHERE id = $1`, id, pi)
	if err != nil {
		return mapErr(err, store.ErrNotFound)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, status store.OrderStatus) (store.OrderUpdate, error) {
	var res store.OrderUpdate
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}

		if status == store.OrderCompleted && o.CompletedAt != nil {
			res.AlreadyCompleted = true
			if o.Status != status {
				o, err = scanOrder(tx.QueryRow(ctx,
					`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1 RETURNING `+orderCols,
					id, string(status)))
				if err != nil {
					return err
				}
			}
			res.Order = o
			return nil
		}

		o, err = scanOrder(tx.QueryRow(ctx,
			`UPDATE orders SET status = $2, updated_at = now(),
				completed_at = CASE WHEN $2 = 'completed' THEN now() ELSE completed_at END
			 WHERE id = $1 RETURNING `+orderCols,
			id, string(status)))
		if err != nil {
			return err
		}
		res.Order = o
		if status != store.OrderCompleted {
			return nil
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO enrollments (user_id, course_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			o.UserID, o.CourseID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			if _, err := tx.Exec(ctx,
				`UPDATE courses SET enrollment_count = enrollment_count + 1 WHERE id = $1`, o.CourseID); err != nil {
				return err
			}
			res.Enrolled = true
		}
		return nil
	})
	if err != nil {
		return store.OrderUpdate{}, mapErr(err, store.ErrNotFound)
	}
	return res, nil
}

func (s *Store) Counts(ctx context.Context) (store.Counts, error) {
	var n store.Counts
	err := s.pool.QueryRow(ctx, `SELECT
		(SELECT count(*) FROM users),
		(SELECT count(*) FROM courses),
		(SELECT count(*) FROM courses WHERE status = 'published'),
		(SELECT count(*) FROM orders),
		(SELECT count(*) FROM orders WHERE status = 'completed'),
		(SELECT COALESCE(sum(amount_cents), 0) FROM orders WHERE status = 'completed')`,
	).Scan(&n.Users, &n.Courses, &n.PublishedCourses, &n.Orders, &n.CompletedOrders, &n.RevenueCents)
	return n, mapErr(err, store.ErrNotFound)
}
