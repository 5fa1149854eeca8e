package store

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func parse(t *testing.T, doc string) (Filter, error) {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(doc))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		t.Fatalf("decode %s: %v", doc, err)
	}
	return ParseFilter(m)
}

func TestParseFilter(t *testing.T) {
	courses := []Course{
		{ID: "a", Title: "Implant Basics", Category: "implants", Level: "beginner", PriceCents: 4900, Status: CoursePublished, InstructorID: "i1"},
		{ID: "b", Title: "Advanced Endo", Category: "endo", Level: "advanced", PriceCents: 19900, Status: CoursePublished, InstructorID: "i2"},
		{ID: "c", Title: "Ortho Draft", Category: "ortho", Level: "intermediate", PriceCents: 0, Status: CourseDraft, InstructorID: "i1"},
	}

	tests := []struct {
		doc  string
		want []string
	}{
		{`{}`, []string{"a", "b", "c"}},
		{`{"category":"endo"}`, []string{"b"}},
		{`{"category":{"$in":["endo","ortho"]}}`, []string{"b", "c"}},
		{`{"category":{"$nin":["endo"]}}`, []string{"a", "c"}},
		{`{"priceCents":{"$gte":1000,"$lt":20000}}`, []string{"a", "b"}},
		{`{"priceCents":0}`, []string{"c"}},
		{`{"level":{"$ne":"advanced"}}`, []string{"a", "c"}},
		{`{"title":{"$regex":"^implant"}}`, []string{"a"}},
		{`{"$and":[{"instructorId":"i1"},{"status":"published"}]}`, []string{"a"}},
	}
	for _, tt := range tests {
		f, err := parse(t, tt.doc)
		if err != nil {
			t.Errorf("%s: %v", tt.doc, err)
			continue
		}
		var got []string
		for i := range courses {
			if f.Match(&courses[i]) {
				got = append(got, courses[i].ID)
			}
		}
		if len(got) != len(tt.want) {
			t.Errorf("%s: got %v, want %v", tt.doc, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: got %v, want %v", tt.doc, got, tt.want)
				break
			}
		}
	}
}

func TestParseFilterRejects(t *testing.T) {
	docs := []string{
		`{"password":"x"}`,
		`{"$or":[{"level":"beginner"}]}`,
		`{"category":{"$exists":true}}`,
		`{"category":{"$gt":"a"}}`,
		`{"priceCents":"cheap"}`,
		`{"priceCents":1.5}`,
		`{"level":{"$regex":"x"}}`,
		`{"title":{"$regex":"("}}`,
		`{"$and":{"level":"beginner"}}`,
	}
	for _, doc := range docs {
		if _, err := parse(t, doc); !errors.Is(err, ErrUnsupportedFilter) {
			t.Errorf("%s: err = %v", doc, err)
		}
	}
}

func TestWhereDoesNotAlias(t *testing.T) {
	base, _ := parse(t, `{"level":"beginner"}`)
	a := base.Where("status", "published")
	b := base.Where("status", "draft")
	if len(base.Conds) != 1 || a.Conds[1].Value != "published" || b.Conds[1].Value != "draft" {
		t.Fatalf("base=%v a=%v b=%v", base, a, b)
	}
}

func TestPageNormalize(t *testing.T) {
	if p := (Page{}).Normalize(); p.Limit != DefaultPageLimit {
		t.Fatalf("default = %+v", p)
	}
	if p := (Page{Limit: 1000, Offset: -3}).Normalize(); p.Limit != MaxPageLimit || p.Offset != 0 {
		t.Fatalf("clamped = %+v", p)
	}
}
