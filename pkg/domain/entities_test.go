package domain

import (
	"errors"
	"testing"
)

func TestSplitPathname(t *testing.T) {
	cases := []struct{ in, dir, name string }{
		{"/data/a.txt", "/data/", "a.txt"},
		{"a.txt", "/", "a.txt"},
		{"/x/y/z/", "/x/y/z/", ""},
	}
	for _, c := range cases {
		dir, name := SplitPathname(c.in)
		if dir != c.dir || name != c.name {
			t.Fatalf("%s: got %q %q", c.in, dir, name)
		}
	}
}

func TestDatasetCloneIsDeep(t *testing.T) {
	d := Dataset{
		Title:  MultiLang{"en": "t"},
		Actors: []DatasetActor{{Roles: []string{RoleCreator}, Person: &Person{Name: "p"}}},
	}
	c := d.Clone()
	c.Title["en"] = "changed"
	c.Actors[0].Person.Name = "other"
	if d.Title["en"] != "t" || d.Actors[0].Person.Name != "p" {
		t.Fatalf("clone shares state with original")
	}
}

func TestRevisionReason(t *testing.T) {
	d := Dataset{State: StatePublished, PublishedRevision: 3, DraftRevision: 1}
	if got := d.RevisionReason(); got != "published-3.1" {
		t.Fatalf("unexpected reason %s", got)
	}
}

func TestMultiLangPreferred(t *testing.T) {
	if got := (MultiLang{"sv": "s", "fi": "f"}).Preferred(); got != "f" {
		t.Fatalf("expected fi value, got %s", got)
	}
	if !(MultiLang{"en": ""}).IsEmpty() {
		t.Fatalf("expected empty")
	}
}

func TestValidationError(t *testing.T) {
	var v ValidationError
	if v.OrNil() != nil {
		t.Fatalf("expected nil for empty error")
	}
	v.Add("title", "required")
	v.Merge(NewValidationError("title", "too short"))
	err := v.OrNil()
	var target *ValidationError
	if !errors.As(err, &target) || len(target.Fields["title"]) != 2 {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestTypedErrorCodes(t *testing.T) {
	if (AuthenticationError{Missing: true}).Code() != "not_authenticated" {
		t.Fatalf("missing credentials code")
	}
	if (AuthenticationError{}).Code() != "authentication_failed" {
		t.Fatalf("invalid credentials code")
	}
	inner := errors.New("down")
	err := ServiceUnavailableError{Err: inner}
	if !errors.Is(err, inner) {
		t.Fatalf("expected unwrap to inner error")
	}
}

func TestOrganizationTopParent(t *testing.T) {
	o := Organization{PrefLabel: MultiLang{"en": "dept"}, Parent: &Organization{PrefLabel: MultiLang{"en": "uni"}}}
	if o.TopParent().PrefLabel["en"] != "uni" {
		t.Fatalf("expected root organization")
	}
}
