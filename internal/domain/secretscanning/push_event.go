package secretscanning

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// PushEvent is the unit of work processed for a single push. It carries
// everything needed to scan the push without further lookups.
type PushEvent struct {
	OrganizationID string     `json:"organizationId" validate:"required"`
	InstallationID int64      `json:"installationId" validate:"required"`
	Repository     Repository `json:"repository"`
	Commits        []Commit   `json:"commits" validate:"required,min=1,dive"`
	Pusher         Pusher     `json:"pusher"`
	// Salt is generated per job and scopes hashing performed for this push.
	Salt string `json:"salt" validate:"required"`
}

// Repository identifies the repository a push targets.
type Repository struct {
	ID       int64  `json:"id" validate:"required"`
	FullName string `json:"fullName" validate:"required,contains=/"`
}

// Owner returns the owner segment of the repository full name.
func (r Repository) Owner() string {
	owner, _, _ := strings.Cut(r.FullName, "/")
	return owner
}

// Name returns the repository name without its owner.
func (r Repository) Name() string {
	_, name, _ := strings.Cut(r.FullName, "/")
	return name
}

// Link returns the browsable URL of the repository.
func (r Repository) Link() string { return "https://github.com/" + r.FullName }

// Commit is a single commit of a push with the files it touched.
type Commit struct {
	ID       string       `json:"id" validate:"required"`
	Message  string       `json:"message"`
	Author   CommitAuthor `json:"author"`
	Added    []string     `json:"added"`
	Modified []string     `json:"modified"`
}

// ChangedFiles returns the added and modified paths of the commit. Removed
// files are never scanned.
func (c Commit) ChangedFiles() []string {
	files := make([]string, 0, len(c.Added)+len(c.Modified))
	files = append(files, c.Added...)
	return append(files, c.Modified...)
}

// CommitAuthor is the author recorded on a commit.
type CommitAuthor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Pusher is the user that performed the push. Email may be empty.
type Pusher struct {
	Name  string `json:"name" validate:"required"`
	// Email is only used to notify the pusher and may be missing or
	// malformed; it never rejects the push.
	Email string `json:"email,omitempty"`
}

// IsEmailAddress reports whether s is a deliverable email address.
func IsEmailAddress(s string) bool {
	return s != "" && validate.Var(s, "email") == nil
}

// DistinctID returns the identity used for analytics, preferring the email.
func (p Pusher) DistinctID() string {
	if IsEmailAddress(p.Email) {
		return p.Email
	}
	return p.Name
}

// Validate checks the event carries everything the processor needs.
func (e PushEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPushEvent, err)
	}
	return nil
}

// ReconcileRequest asks for a full suppression-file sweep of a repository.
type ReconcileRequest struct {
	InstallationID int64      `json:"installationId" validate:"required"`
	Repository     Repository `json:"repository" validate:"required"`
}

// Validate checks the request.
func (r ReconcileRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPushEvent, err)
	}
	return nil
}
