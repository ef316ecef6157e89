package mock

import (
	"context"
	"fmt"
	"sync"

	"inkwell/app/models"
	"inkwell/app/repositories"
)

// Store is an in-memory repositories.Store. Update runs against the live
// state and restores a snapshot when the closure fails, which gives the same
// all-or-nothing behaviour as a real transaction.
type Store struct {
	mutex sync.RWMutex
	data  *state

	// CommitErr, when set, makes every Update roll back and return it after
	// the closure succeeded.
	CommitErr error
}

type bookmark struct{ identityID, postID int }

type state struct {
	identities map[int]models.Identity
	posts      map[int]models.Post
	comments   map[int]models.Comment
	bookmarks  map[bookmark]bool
	sessions   map[string]models.Session
	seq        map[string]int
}

func newState() *state {
	return &state{
		identities: make(map[int]models.Identity),
		posts:      make(map[int]models.Post),
		comments:   make(map[int]models.Comment),
		bookmarks:  make(map[bookmark]bool),
		sessions:   make(map[string]models.Session),
		seq:        make(map[string]int),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.identities {
		c.identities[k] = v
	}
	for k, v := range s.posts {
		c.posts[k] = v
	}
	for k, v := range s.comments {
		c.comments[k] = v
	}
	for k, v := range s.bookmarks {
		c.bookmarks[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	return c
}

func (s *state) next(name string) int {
	s.seq[name]++
	return s.seq[name]
}

func NewStore() *Store {
	return &Store{data: newState()}
}

func (m *Store) View(ctx context.Context, fn func(repositories.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	// reads get a private copy so accidental writes cannot leak
	return fn(&tx{s: m.data.clone()})
}

func (m *Store) Update(ctx context.Context, fn func(repositories.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	snapshot := m.data.clone()
	if err := fn(&tx{s: m.data}); err != nil {
		m.data = snapshot
		return err
	}
	if m.CommitErr != nil {
		m.data = snapshot
		return m.CommitErr
	}
	return nil
}

func (m *Store) Close() error { return nil }

// Clear drops all data and resets the sequences
func (m *Store) Clear() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.data = newState()
}

type tx struct{ s *state }

func (t *tx) Identities() repositories.IdentityRepository { return &IdentityRepository{s: t.s} }
func (t *tx) Posts() repositories.PostRepository           { return &PostRepository{s: t.s} }
func (t *tx) Comments() repositories.CommentRepository     { return &CommentRepository{s: t.s} }
func (t *tx) Bookmarks() repositories.BookmarkRepository   { return &BookmarkRepository{s: t.s} }
func (t *tx) Sessions() repositories.SessionRepository     { return &SessionRepository{s: t.s} }

func cloneIdentity(i models.Identity) *models.Identity {
	if i.Admin != nil {
		a := *i.Admin
		i.Admin = &a
	}
	if i.Subscriber != nil {
		sp := *i.Subscriber
		i.Subscriber = &sp
	}
	return &i
}

func clonePost(p models.Post) *models.Post {
	p.Comments = nil
	return &p
}

func cloneComment(c models.Comment) *models.Comment {
	if c.Rating != nil {
		r := *c.Rating
		c.Rating = &r
	}
	if c.Text != nil {
		t := *c.Text
		c.Text = &t
	}
	c.Post = nil
	return &c
}

type IdentityRepository struct{ s *state }

func (m *IdentityRepository) Create(identity *models.Identity) error {
	identity.BeforeCreate()
	for _, existing := range m.s.identities {
		if existing.Username == identity.Username {
			return fmt.Errorf("%w: username %s", repositories.ErrDuplicate, identity.Username)
		}
		if email := identity.Email(); email != "" && existing.Email() == email {
			return fmt.Errorf("%w: email %s", repositories.ErrDuplicate, email)
		}
	}
	identity.ID = m.s.next("identity")
	m.s.identities[identity.ID] = *cloneIdentity(*identity)
	return nil
}

func (m *IdentityRepository) GetByID(id int) (*models.Identity, error) {
	identity, exists := m.s.identities[id]
	if !exists {
		return nil, repositories.ErrNotFound
	}
	return cloneIdentity(identity), nil
}

func (m *IdentityRepository) GetByUsername(username string) (*models.Identity, error) {
	for _, identity := range m.s.identities {
		if identity.Username == username {
			return cloneIdentity(identity), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *IdentityRepository) GetByEmail(email string) (*models.Identity, error) {
	for _, identity := range m.s.identities {
		if email != "" && identity.Email() == email {
			return cloneIdentity(identity), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *IdentityRepository) Update(identity *models.Identity) error {
	existing, exists := m.s.identities[identity.ID]
	if !exists {
		return repositories.ErrNotFound
	}
	if existing.Role != identity.Role {
		return repositories.ErrRoleChange
	}
	for id, other := range m.s.identities {
		if id == identity.ID {
			continue
		}
		if other.Username == identity.Username || (identity.Email() != "" && other.Email() == identity.Email()) {
			return repositories.ErrDuplicate
		}
	}
	m.s.identities[identity.ID] = *cloneIdentity(*identity)
	return nil
}

func (m *IdentityRepository) Delete(id int) error {
	if _, exists := m.s.identities[id]; !exists {
		return repositories.ErrNotFound
	}
	for cid, c := range m.s.comments {
		if c.AuthorID == id {
			delete(m.s.comments, cid)
		}
	}
	for b := range m.s.bookmarks {
		if b.identityID == id {
			delete(m.s.bookmarks, b)
		}
	}
	for sid, sess := range m.s.sessions {
		if sess.IdentityID == id {
			delete(m.s.sessions, sid)
		}
	}
	delete(m.s.identities, id)
	return nil
}

func (m *IdentityRepository) ListSubscribers() ([]*models.Identity, error) {
	var subscribers []*models.Identity
	for _, identity := range m.s.identities {
		if identity.IsSubscriber() {
			subscribers = append(subscribers, cloneIdentity(identity))
		}
	}
	repositories.SortIdentitiesOldestFirst(subscribers)
	return subscribers, nil
}

func (m *IdentityRepository) VerifiedSubscriberEmails() ([]string, error) {
	subscribers, _ := m.ListSubscribers()
	var emails []string
	for _, s := range subscribers {
		if s.Verified {
			emails = append(emails, s.Email())
		}
	}
	return emails, nil
}

type PostRepository struct{ s *state }

func (m *PostRepository) Create(post *models.Post) error {
	post.BeforeCreate()
	for _, existing := range m.s.posts {
		if existing.URL == post.URL || existing.HTMLFile == post.HTMLFile {
			return fmt.Errorf("%w: post %s", repositories.ErrDuplicate, post.URL)
		}
	}
	post.ID = m.s.next("post")
	m.s.posts[post.ID] = *clonePost(*post)
	return nil
}

func (m *PostRepository) GetByID(id int) (*models.Post, error) {
	post, exists := m.s.posts[id]
	if !exists {
		return nil, repositories.ErrNotFound
	}
	return clonePost(post), nil
}

func (m *PostRepository) GetByURL(url string) (*models.Post, error) {
	for _, post := range m.s.posts {
		if post.URL == url {
			return clonePost(post), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *PostRepository) filtered(category models.Category) []*models.Post {
	var posts []*models.Post
	for _, post := range m.s.posts {
		if category == "" || post.Category == category {
			posts = append(posts, clonePost(post))
		}
	}
	return posts
}

func (m *PostRepository) List(filter repositories.PostFilter) ([]*models.Post, error) {
	posts := m.filtered(filter.Category)
	repositories.SortPostsNewestFirst(posts)
	return repositories.Page(posts, filter.Offset, filter.Limit), nil
}

func (m *PostRepository) Count(category models.Category) (int, error) {
	return len(m.filtered(category)), nil
}

func (m *PostRepository) Delete(id int) error {
	if _, exists := m.s.posts[id]; !exists {
		return repositories.ErrNotFound
	}
	for cid, c := range m.s.comments {
		if c.PostID == id {
			delete(m.s.comments, cid)
		}
	}
	for b := range m.s.bookmarks {
		if b.postID == id {
			delete(m.s.bookmarks, b)
		}
	}
	delete(m.s.posts, id)
	return nil
}

type CommentRepository struct{ s *state }

func (m *CommentRepository) Create(comment *models.Comment) error {
	comment.BeforeCreate()
	if _, exists := m.s.posts[comment.PostID]; !exists {
		return repositories.ErrNotFound
	}
	comment.ID = m.s.next("comment")
	m.s.comments[comment.ID] = *cloneComment(*comment)
	return nil
}

func (m *CommentRepository) GetByID(id int) (*models.Comment, error) {
	comment, exists := m.s.comments[id]
	if !exists {
		return nil, repositories.ErrNotFound
	}
	return cloneComment(comment), nil
}

func (m *CommentRepository) ListByPost(postID int) ([]*models.Comment, error) {
	var comments []*models.Comment
	for _, comment := range m.s.comments {
		if comment.PostID == postID {
			comments = append(comments, cloneComment(comment))
		}
	}
	repositories.SortCommentsNewestFirst(comments)
	return comments, nil
}

func (m *CommentRepository) CountByAuthor(postID, authorID int) (int, error) {
	n := 0
	for _, comment := range m.s.comments {
		if comment.PostID == postID && comment.AuthorID == authorID {
			n++
		}
	}
	return n, nil
}

func (m *CommentRepository) Delete(id int) error {
	if _, exists := m.s.comments[id]; !exists {
		return repositories.ErrNotFound
	}
	delete(m.s.comments, id)
	return nil
}

type BookmarkRepository struct{ s *state }

func (m *BookmarkRepository) Add(identityID, postID int) (bool, error) {
	if _, exists := m.s.posts[postID]; !exists {
		return false, repositories.ErrNotFound
	}
	key := bookmark{identityID, postID}
	if m.s.bookmarks[key] {
		return false, nil
	}
	m.s.bookmarks[key] = true
	return true, nil
}

func (m *BookmarkRepository) Remove(identityID, postID int) (bool, error) {
	key := bookmark{identityID, postID}
	if !m.s.bookmarks[key] {
		return false, nil
	}
	delete(m.s.bookmarks, key)
	return true, nil
}

func (m *BookmarkRepository) Exists(identityID, postID int) (bool, error) {
	return m.s.bookmarks[bookmark{identityID, postID}], nil
}

func (m *BookmarkRepository) ListByIdentity(identityID int) ([]*models.Post, error) {
	var posts []*models.Post
	for b := range m.s.bookmarks {
		if b.identityID != identityID {
			continue
		}
		if post, exists := m.s.posts[b.postID]; exists {
			posts = append(posts, clonePost(post))
		}
	}
	repositories.SortPostsNewestFirst(posts)
	return posts, nil
}

type SessionRepository struct{ s *state }

func (m *SessionRepository) Create(session *models.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session id is empty")
	}
	m.s.sessions[session.ID] = *session
	return nil
}

func (m *SessionRepository) Get(id string) (*models.Session, error) {
	session, exists := m.s.sessions[id]
	if !exists {
		return nil, repositories.ErrNotFound
	}
	return &session, nil
}

func (m *SessionRepository) Delete(id string) error {
	if _, exists := m.s.sessions[id]; !exists {
		return repositories.ErrNotFound
	}
	delete(m.s.sessions, id)
	return nil
}

func (m *SessionRepository) DeleteByIdentity(identityID int) error {
	for id, session := range m.s.sessions {
		if session.IdentityID == identityID {
			delete(m.s.sessions, id)
		}
	}
	return nil
}
