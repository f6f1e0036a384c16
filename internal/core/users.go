package core

import (
	"slices"

	"metax/pkg/domain"
)

// User is the authenticated caller of an operation. The zero value is anonymous.
type User struct {
	Username     string
	Organization string
	Admin        bool
	Groups       []string
	CSCProjects  []string
}

// System is used by background jobs and commands.
var System = User{Username: "metax-service", Admin: true}

// Authenticated reports whether the user is known.
func (u User) Authenticated() bool { return u.Username != "" }

// InGroup reports membership of group.
func (u User) InGroup(group string) bool { return slices.Contains(u.Groups, group) }

// HasProject reports whether the user is a member of the CSC project.
func (u User) HasProject(project string) bool {
	return u.Admin || slices.Contains(u.CSCProjects, project)
}

// CanEdit reports whether the user may modify d. Catalog admins may edit
// every dataset of their catalog.
func (u User) CanEdit(d domain.Dataset, catalog *domain.DataCatalog) bool {
	switch {
	case u.Admin:
		return true
	case !u.Authenticated():
		return false
	case d.MetadataOwner != nil && d.MetadataOwner.User == u.Username:
		return true
	case catalog != nil:
		for _, g := range catalog.AdminGroups {
			if u.InGroup(g) {
				return true
			}
		}
	}
	return false
}

// CanView reports whether d is visible to the user. Drafts and removed
// datasets are only visible to editors.
func (u User) CanView(d domain.Dataset, catalog *domain.DataCatalog) bool {
	if d.IsPublished() && !d.IsRemoved() {
		return true
	}
	return u.CanEdit(d, catalog)
}

func catalogOf(view domain.RuleView, d domain.Dataset) *domain.DataCatalog {
	if d.DataCatalog == "" {
		return nil
	}
	c, ok := view.FindDataCatalog(d.DataCatalog)
	if !ok {
		return nil
	}
	return &c
}

func requireEdit(view domain.RuleView, u User, d domain.Dataset) error {
	if !u.Authenticated() && !u.Admin {
		return domain.AuthenticationError{Missing: true}
	}
	if !u.CanEdit(d, catalogOf(view, d)) {
		return domain.PermissionError{}
	}
	return nil
}
