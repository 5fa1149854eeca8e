package lmshttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/dentalacademy/internal/apierr"
	"github.com/keithlinneman/dentalacademy/internal/auth"
	"github.com/keithlinneman/dentalacademy/internal/sanitize"
	"github.com/keithlinneman/dentalacademy/internal/secure"
	"github.com/keithlinneman/dentalacademy/internal/store"
	"github.com/keithlinneman/dentalacademy/internal/video"
)

type createCourseBody struct {
	Title       string `json:"title" validate:"required,min=5,max=200"`
	Description string `json:"description" validate:"required,min=20,max=5000"`
	Category    string `json:"category" validate:"required,max=50"`
	Level       string `json:"level" validate:"required,oneof=beginner intermediate advanced"`
	PriceCents  int64  `json:"priceCents" validate:"gte=0,lte=10000000"`
	Currency    string `json:"currency" validate:"omitempty,oneof=usd eur gbp"`
	Thumbnail   string `json:"thumbnail" validate:"omitempty,url,max=500"`
}

type patchCourseBody struct {
	Title       *string `json:"title" validate:"omitempty,min=5,max=200"`
	Description *string `json:"description" validate:"omitempty,min=20,max=5000"`
	Category    *string `json:"category" validate:"omitempty,max=50"`
	Level       *string `json:"level" validate:"omitempty,oneof=beginner intermediate advanced"`
	PriceCents  *int64  `json:"priceCents" validate:"omitempty,gte=0,lte=10000000"`
	Status      *string `json:"status" validate:"omitempty,oneof=draft published archived"`
	Thumbnail   *string `json:"thumbnail" validate:"omitempty,url,max=500"`
}

type lessonBody struct {
	Title       string `json:"title" validate:"required,min=3,max=200"`
	Description string `json:"description" validate:"omitempty,max=2000"`
	VideoURL    string `json:"videoUrl" validate:"required,vimeourl"`
	Preview     bool   `json:"preview"`
}

var (
	courseRules = sanitize.FieldRules{
		Default: sanitize.RuleStrict,
		Fields: map[string]sanitize.Rule{
			"description": sanitize.RuleRich,
			"thumbnail":   sanitize.RuleURL,
		},
	}
	lessonRules = sanitize.FieldRules{
		Default: sanitize.RuleStrict,
		Fields: map[string]sanitize.Rule{
			"description": sanitize.RuleRich,
			"videoUrl":    sanitize.RuleURL,
		},
	}
)

const maxFilterBytes = 4 << 10

// catalogFilter reads the optional filter query parameter. Operator keys
// outside the allow-list are dropped before the store sees the document.
func catalogFilter(r *http.Request) (store.Filter, error) {
	raw := r.URL.Query().Get("filter")
	if raw == "" {
		return store.Filter{}, nil
	}
	if len(raw) > maxFilterBytes {
		return store.Filter{}, apierr.BadRequest("Invalid filter")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return store.Filter{}, apierr.BadRequest("Invalid filter")
	}
	m, ok := sanitize.QueryFilter(doc).(map[string]any)
	if !ok {
		return store.Filter{}, apierr.BadRequest("Invalid filter")
	}
	f, err := store.ParseFilter(m)
	if err != nil {
		return store.Filter{}, apierr.BadRequest("Invalid filter")
	}
	return f, nil
}

func (rt *Routes) listCourses(r *http.Request, _ *secure.Context) (*secure.Response, error) {
	f, err := catalogFilter(r)
	if err != nil {
		return nil, err
	}
	p, err := page(r)
	if err != nil {
		return nil, err
	}
	courses, err := rt.store.ListCourses(r.Context(), f.Where("status", string(store.CoursePublished)), p)
	if err != nil {
		return nil, err
	}
	return secure.OK(courses), nil
}

func (rt *Routes) createCourse(r *http.Request, c *secure.Context) (*secure.Response, error) {
	in := secure.Data[createCourseBody](c)
	currency := in.Currency
	if currency == "" {
		currency = "usd"
	}
	course := &store.Course{
		Title:        in.Title,
		Description:  in.Description,
		Category:     strings.ToLower(in.Category),
		Level:        in.Level,
		PriceCents:   in.PriceCents,
		Currency:     currency,
		Status:       store.CourseDraft,
		InstructorID: c.Session.UserID,
		Thumbnail:    in.Thumbnail,
	}
	if err := rt.store.CreateCourse(r.Context(), course); err != nil {
		return nil, storeErr(err, "Instructor not found")
	}
	c.Logger.Info(r.Context(), "course created", "course_id", course.ID)
	return secure.Created(map[string]any{"id": course.ID, "status": course.Status}), nil
}

// visible reports whether s may see c. Unpublished courses only exist for their owner and admins.
func visible(s *auth.Session, c *store.Course) bool {
	return c.Status == store.CoursePublished || auth.CanModify(s, c.InstructorID)
}

func (rt *Routes) getCourse(r *http.Request, c *secure.Context) (*secure.Response, error) {
	course, err := rt.store.Course(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, storeErr(err, "Course not found")
	}
	if !visible(c.Session, course) {
		return nil, apierr.NotFound("Course not found")
	}
	return secure.OK(course), nil
}

// ownedCourse loads the course in the path and applies the ownership refinement.
func (rt *Routes) ownedCourse(r *http.Request, c *secure.Context) (*store.Course, error) {
	course, err := rt.store.Course(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, storeErr(err, "Course not found")
	}
	if !auth.CanModify(c.Session, course.InstructorID) {
		return nil, apierr.Forbidden()
	}
	return course, nil
}

func (rt *Routes) patchCourse(r *http.Request, c *secure.Context) (*secure.Response, error) {
	in := secure.Data[patchCourseBody](c)
	course, err := rt.ownedCourse(r, c)
	if err != nil {
		return nil, err
	}

	patch := store.CoursePatch{
		Title:       in.Title,
		Description: in.Description,
		Level:       in.Level,
		PriceCents:  in.PriceCents,
		Thumbnail:   in.Thumbnail,
	}
	if in.Category != nil {
		cat := strings.ToLower(*in.Category)
		patch.Category = &cat
	}
	if in.Status != nil {
		st := store.CourseStatus(*in.Status)
		if st == store.CoursePublished && len(course.Lessons) == 0 {
			return nil, apierr.Validation([]apierr.Detail{{
				Field: "status", Rule: "lessons", Message: "a course needs at least one lesson before publishing",
			}})
		}
		patch.Status = &st
	}

	updated, err := rt.store.UpdateCourse(r.Context(), course.ID, patch)
	if err != nil {
		return nil, storeErr(err, "Course not found")
	}
	return secure.OK(updated), nil
}

func (rt *Routes) deleteCourse(r *http.Request, c *secure.Context) (*secure.Response, error) {
	course, err := rt.ownedCourse(r, c)
	if err != nil {
		return nil, err
	}
	if err := rt.store.DeleteCourse(r.Context(), course.ID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apierr.Conflict("Course has orders; archive it instead")
		}
		return nil, storeErr(err, "Course not found")
	}
	c.Logger.Info(r.Context(), "course deleted", "course_id", course.ID)
	return secure.NoContent(), nil
}

func videoError(rule, msg string) error {
	return apierr.Validation([]apierr.Detail{{Field: "videoUrl", Rule: rule, Message: msg}})
}

func (rt *Routes) addLesson(r *http.Request, c *secure.Context) (*secure.Response, error) {
	in := secure.Data[lessonBody](c)
	course, err := rt.ownedCourse(r, c)
	if err != nil {
		return nil, err
	}

	id, err := video.ParseVimeoURL(in.VideoURL)
	if err != nil {
		return nil, videoError("vimeourl", "videoUrl must be a Vimeo video link")
	}

	lesson := &store.Lesson{
		Title:       in.Title,
		Description: in.Description,
		VideoURL:    in.VideoURL,
		VideoID:     id,
		Preview:     in.Preview,
	}
	if rt.video != nil {
		meta, err := rt.video.Metadata(r.Context(), id)
		switch {
		case errors.Is(err, video.ErrNotFound):
			return nil, videoError("exists", "videoUrl does not point to an existing video")
		case err != nil:
			return nil, err
		case !meta.Embeddable:
			return nil, videoError("embeddable", "videoUrl must allow embedding")
		}
		lesson.DurationSeconds = meta.Duration
	}

	updated, err := rt.store.AddLesson(r.Context(), course.ID, lesson)
	if err != nil {
		return nil, storeErr(err, "Course not found")
	}
	return secure.Created(updated), nil
}

type lessonView struct {
	store.Lesson
	EmbedURL string `json:"embedUrl"`
}

func (rt *Routes) watchLesson(r *http.Request, c *secure.Context) (*secure.Response, error) {
	ctx := r.Context()
	course, err := rt.store.Course(ctx, chi.URLParam(r, "id"))
	if err != nil {
		return nil, storeErr(err, "Lesson not found")
	}
	if !visible(c.Session, course) {
		return nil, apierr.NotFound("Lesson not found")
	}

	var lesson *store.Lesson
	lessonID := chi.URLParam(r, "lessonID")
	for i := range course.Lessons {
		if course.Lessons[i].ID == lessonID {
			lesson = &course.Lessons[i]
			break
		}
	}
	if lesson == nil {
		return nil, apierr.NotFound("Lesson not found")
	}

	allowed := lesson.Preview || auth.CanModify(c.Session, course.InstructorID)
	if !allowed {
		u, err := rt.store.UserByID(ctx, c.Session.UserID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		allowed = u != nil && u.IsEnrolled(course.ID)
	}
	if !allowed {
		return nil, apierr.Forbidden()
	}
	return secure.OK(lessonView{Lesson: *lesson, EmbedURL: video.EmbedURL(lesson.VideoID)}), nil
}
