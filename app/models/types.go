package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Role tags which concrete kind of identity a record is.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSubscriber Role = "subscriber"
)

// Category is the closed set of post kinds.
type Category string

const (
	CategoryArticle Category = "Article"
	CategoryProject Category = "Project"
	CategoryBlog    Category = "Blog"
)

// Categories lists every valid category in display order.
var Categories = []Category{CategoryArticle, CategoryProject, CategoryBlog}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// AdminCredentials holds the two independently hashed admin passwords.
type AdminCredentials struct {
	Password1Hash string `json:"password1_hash" validate:"required"`
	Password2Hash string `json:"password2_hash" validate:"required"`
}

// SubscriberProfile holds the subscriber-only part of an identity.
type SubscriberProfile struct {
	Email        string `json:"email" validate:"required,email,max=75"`
	PasswordHash string `json:"password_hash" validate:"required"`
}

// Identity is a user account. Role selects which of Admin or Subscriber is set.
type Identity struct {
	ID         int                `json:"id" validate:"gte=0"`
	Username   string             `json:"username" validate:"required,max=75,username"`
	Role       Role               `json:"role" validate:"required,oneof=admin subscriber"`
	Verified   bool               `json:"verified"`
	CreatedAt  time.Time          `json:"created_at"`
	Admin      *AdminCredentials  `json:"admin,omitempty"`
	Subscriber *SubscriberProfile `json:"subscriber,omitempty"`
}

// Post represents a published blog post backed by an HTML document.
type Post struct {
	ID        int        `json:"id" validate:"gte=0"`
	URL       string     `json:"url" validate:"required,max=150,posturl"`
	Category  Category   `json:"category" validate:"required,category"`
	HTMLFile  string     `json:"html_file" validate:"required,max=155"`
	Author    string     `json:"author" validate:"required,max=75"`
	CreatedAt time.Time  `json:"created_at" validate:"required"`
	Comments  []*Comment `json:"comments,omitempty" validate:"-"`
}

// Comment represents a rating and/or text left on a post.
type Comment struct {
	ID        int       `json:"id" validate:"gte=0"`
	PostID    int       `json:"post_id" validate:"required,gt=0"`
	AuthorID  int       `json:"author_id" validate:"required,gt=0"`
	Rating    *int      `json:"rating,omitempty" validate:"omitempty,min=0,max=7"`
	Text      *string   `json:"text,omitempty" validate:"omitempty,max=500"`
	CreatedAt time.Time `json:"created_at" validate:"required"`
	Post      *Post     `json:"-" validate:"-"`
}

// Session binds a browser cookie to an identity until ExpiresAt.
type Session struct {
	ID         string    `json:"id"`
	IdentityID int       `json:"identity_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// forbidden characters, kept in sync with the signup and post forms.
// Usernames never contain @ so a login identifier with one is an email.
const (
	usernameForbidden = `%+=\:;"<>?/@`
	postURLForbidden  = " `@^()|\\/[]{}><"
)

// reservedPostURLs are slugs shadowed by fixed routes under /api/posts.
var reservedPostURLs = map[string]bool{"recent": true}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), usernameForbidden)
	})
	v.RegisterValidation("posturl", func(fl validator.FieldLevel) bool {
		u := fl.Field().String()
		return !strings.ContainsAny(u, postURLForbidden) && !reservedPostURLs[u]
	})
	v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return Category(fl.Field().String()).Valid()
	})
	v.RegisterStructValidation(identityStructLevel, Identity{})
	return v
}

// identityStructLevel enforces that exactly the part selected by Role is present.
func identityStructLevel(sl validator.StructLevel) {
	id := sl.Current().Interface().(Identity)
	switch id.Role {
	case RoleAdmin:
		if id.Admin == nil {
			sl.ReportError(id.Admin, "Admin", "Admin", "required_for_role", string(id.Role))
		}
		if id.Subscriber != nil {
			sl.ReportError(id.Subscriber, "Subscriber", "Subscriber", "excluded_for_role", string(id.Role))
		}
	case RoleSubscriber:
		if id.Subscriber == nil {
			sl.ReportError(id.Subscriber, "Subscriber", "Subscriber", "required_for_role", string(id.Role))
		}
		if id.Admin != nil {
			sl.ReportError(id.Admin, "Admin", "Admin", "excluded_for_role", string(id.Role))
		}
	}
}

// ValidateStruct runs the shared validator over any tagged struct, such as request forms.
func ValidateStruct(v interface{}) error {
	return validate.Struct(v)
}
