// Package static provides an organization directory loaded from a YAML file,
// for deployments without a membership database.
package static

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
)

var _ domain.OrgDirectory = (*Directory)(nil)

// Member is one organization member in the directory file.
type Member struct {
	ID    string `yaml:"id"`
	Email string `yaml:"email"`
	Role  string `yaml:"role"`
}

// File is the layout of the directory file:
//
//	organizations:
//	  org-1:
//	    - id: u1
//	      email: owner@acme.io
//	      role: owner
type File struct {
	Organizations map[string][]Member `yaml:"organizations"`
}

// Directory answers membership queries from an in-memory copy of a File.
type Directory struct {
	orgs   map[string][]Member
	emails map[string]string
}

// New builds a directory from f.
func New(f File) *Directory {
	d := &Directory{orgs: f.Organizations, emails: make(map[string]string)}
	for _, members := range f.Organizations {
		for _, m := range members {
			d.emails[m.ID] = m.Email
		}
	}
	return d
}

// Load reads and parses the directory file at path.
func Load(path string) (*Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a directory file.
func Parse(raw []byte) (*Directory, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse directory file: %w", err)
	}
	for org, members := range f.Organizations {
		for _, m := range members {
			if m.ID == "" {
				return nil, fmt.Errorf("organization %s: member without id", org)
			}
		}
	}
	return New(f), nil
}

func (d *Directory) ListAdminsAndOwners(_ context.Context, organizationID string) ([]domain.User, error) {
	var users []domain.User
	for _, m := range d.orgs[organizationID] {
		if m.Role == "admin" || m.Role == "owner" {
			users = append(users, domain.User{ID: m.ID, Email: m.Email})
		}
	}
	return users, nil
}

func (d *Directory) GetEmails(_ context.Context, userIDs []string) ([]string, error) {
	var emails []string
	for _, id := range userIDs {
		if e := d.emails[id]; e != "" {
			emails = append(emails, e)
		}
	}
	return emails, nil
}
