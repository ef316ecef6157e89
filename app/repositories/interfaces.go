package repositories

import (
	"context"
	"errors"

	"inkwell/app/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
	// ErrRoleChange is returned when an update tries to change an identity's role.
	ErrRoleChange = errors.New("identity role cannot change")
)

// Store hands out transactions. Every repository call happens inside the
// closure passed to View or Update; returning an error from an Update closure
// discards all of its writes.
type Store interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Identities() IdentityRepository
	Posts() PostRepository
	Comments() CommentRepository
	Bookmarks() BookmarkRepository
	Sessions() SessionRepository
}

// IdentityRepository defines data access for admins and subscribers
type IdentityRepository interface {
	// Create assigns the ID. Username and subscriber email must be unique.
	Create(identity *models.Identity) error
	GetByID(id int) (*models.Identity, error)
	GetByUsername(username string) (*models.Identity, error)
	GetByEmail(email string) (*models.Identity, error)
	Update(identity *models.Identity) error
	// Delete removes the identity with its comments, bookmarks and sessions.
	Delete(id int) error
	// ListSubscribers returns subscribers oldest first.
	ListSubscribers() ([]*models.Identity, error)
	VerifiedSubscriberEmails() ([]string, error)
}

// PostFilter narrows a post listing. A zero Limit means no limit.
type PostFilter struct {
	Category models.Category
	Limit    int
	Offset   int
}

// PostRepository defines the interface for post data access
type PostRepository interface {
	// Create assigns the ID. URL and HTML file must be unique.
	Create(post *models.Post) error
	GetByID(id int) (*models.Post, error)
	GetByURL(url string) (*models.Post, error)
	// List returns posts newest first.
	List(filter PostFilter) ([]*models.Post, error)
	Count(category models.Category) (int, error)
	// Delete removes the post with its comments and bookmarks.
	Delete(id int) error
}

// CommentRepository defines the interface for comment data access
type CommentRepository interface {
	Create(comment *models.Comment) error
	GetByID(id int) (*models.Comment, error)
	// ListByPost returns a post's comments newest first.
	ListByPost(postID int) ([]*models.Comment, error)
	CountByAuthor(postID, authorID int) (int, error)
	Delete(id int) error
}

// BookmarkRepository stores which posts an identity has marked.
type BookmarkRepository interface {
	// Add reports false when the bookmark already existed.
	Add(identityID, postID int) (bool, error)
	// Remove reports false when there was no bookmark.
	Remove(identityID, postID int) (bool, error)
	Exists(identityID, postID int) (bool, error)
	// ListByIdentity returns the marked posts newest first.
	ListByIdentity(identityID int) ([]*models.Post, error)
}

// SessionRepository stores login sessions.
type SessionRepository interface {
	Create(session *models.Session) error
	Get(id string) (*models.Session, error)
	Delete(id string) error
	DeleteByIdentity(identityID int) error
}
