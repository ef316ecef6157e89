package sqlstore

import (
	"database/sql"
	"math"

	"inkwell/app/models"
	"inkwell/app/repositories"
)

const identityColumns = `id, username, role, verified, email, password_hash, password1_hash, password2_hash, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row scanner) (*models.Identity, error) {
	var (
		i            models.Identity
		email, hash  sql.NullString
		hash1, hash2 sql.NullString
		role         string
	)
	if err := row.Scan(&i.ID, &i.Username, &role, &i.Verified, &email, &hash, &hash1, &hash2, &i.CreatedAt); err != nil {
		return nil, translate(err)
	}
	i.Role = models.Role(role)
	i.CreatedAt = i.CreatedAt.UTC()
	switch i.Role {
	case models.RoleAdmin:
		i.Admin = &models.AdminCredentials{Password1Hash: hash1.String, Password2Hash: hash2.String}
	case models.RoleSubscriber:
		i.Subscriber = &models.SubscriberProfile{Email: email.String, PasswordHash: hash.String}
	}
	return &i, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func identityArgs(i *models.Identity) []any {
	var email, hash, hash1, hash2 string
	if i.Subscriber != nil {
		email, hash = i.Subscriber.Email, i.Subscriber.PasswordHash
	}
	if i.Admin != nil {
		hash1, hash2 = i.Admin.Password1Hash, i.Admin.Password2Hash
	}
	return []any{i.Username, string(i.Role), i.Verified, nullString(email), nullString(hash), nullString(hash1), nullString(hash2)}
}

type identityRepository struct{ t *sqlTx }

func (r *identityRepository) Create(identity *models.Identity) error {
	identity.BeforeCreate()
	args := append(identityArgs(identity), identity.CreatedAt.UTC())
	id, err := r.t.insert(`INSERT INTO identities
		(username, role, verified, email, password_hash, password1_hash, password2_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return err
	}
	identity.ID = id
	return nil
}

func (r *identityRepository) getBy(column string, value any) (*models.Identity, error) {
	return scanIdentity(r.t.queryRow(`SELECT `+identityColumns+` FROM identities WHERE `+column+` = ?`, value))
}

func (r *identityRepository) GetByID(id int) (*models.Identity, error) {
	return r.getBy("id", id)
}

func (r *identityRepository) GetByUsername(username string) (*models.Identity, error) {
	return r.getBy("username", username)
}

func (r *identityRepository) GetByEmail(email string) (*models.Identity, error) {
	return r.getBy("email", email)
}

func (r *identityRepository) Update(identity *models.Identity) error {
	var role string
	if err := r.t.queryRow(`SELECT role FROM identities WHERE id = ?`, identity.ID).Scan(&role); err != nil {
		return translate(err)
	}
	if models.Role(role) != identity.Role {
		return repositories.ErrRoleChange
	}
	// role was checked above, so writing it back is a no-op
	_, err := r.t.exec(`UPDATE identities SET
		username = ?, role = ?, verified = ?, email = ?, password_hash = ?, password1_hash = ?, password2_hash = ?
		WHERE id = ?`, append(identityArgs(identity), identity.ID)...)
	return err
}

// Delete relies on ON DELETE CASCADE for comments, bookmarks and sessions.
func (r *identityRepository) Delete(id int) error {
	res, err := r.t.exec(`DELETE FROM identities WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affected(res)
}

func (r *identityRepository) ListSubscribers() ([]*models.Identity, error) {
	rows, err := r.t.query(`SELECT `+identityColumns+` FROM identities
		WHERE role = ? ORDER BY created_at ASC, id ASC`, string(models.RoleSubscriber))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subscribers []*models.Identity
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		subscribers = append(subscribers, i)
	}
	return subscribers, rows.Err()
}

func (r *identityRepository) VerifiedSubscriberEmails() ([]string, error) {
	rows, err := r.t.query(`SELECT email FROM identities
		WHERE role = ? AND verified = ? ORDER BY created_at ASC, id ASC`, string(models.RoleSubscriber), true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

const postColumns = `id, url, category, html_file, author, created_at`

func scanPost(row scanner) (*models.Post, error) {
	var p models.Post
	var category string
	if err := row.Scan(&p.ID, &p.URL, &category, &p.HTMLFile, &p.Author, &p.CreatedAt); err != nil {
		return nil, translate(err)
	}
	p.Category = models.Category(category)
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func collectPosts(rows *sql.Rows) ([]*models.Post, error) {
	defer rows.Close()
	var posts []*models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

type postRepository struct{ t *sqlTx }

func (r *postRepository) Create(post *models.Post) error {
	post.BeforeCreate()
	id, err := r.t.insert(`INSERT INTO posts (url, category, html_file, author, created_at)
		VALUES (?, ?, ?, ?, ?)`, post.URL, string(post.Category), post.HTMLFile, post.Author, post.CreatedAt.UTC())
	if err != nil {
		return err
	}
	post.ID = id
	return nil
}

func (r *postRepository) GetByID(id int) (*models.Post, error) {
	return scanPost(r.t.queryRow(`SELECT `+postColumns+` FROM posts WHERE id = ?`, id))
}

func (r *postRepository) GetByURL(url string) (*models.Post, error) {
	return scanPost(r.t.queryRow(`SELECT `+postColumns+` FROM posts WHERE url = ?`, url))
}

func (r *postRepository) List(filter repositories.PostFilter) ([]*models.Post, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = math.MaxInt32
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := r.t.query(`SELECT `+postColumns+` FROM posts
		WHERE (? = '' OR category = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, string(filter.Category), string(filter.Category), limit, offset)
	if err != nil {
		return nil, err
	}
	return collectPosts(rows)
}

func (r *postRepository) Count(category models.Category) (int, error) {
	var n int
	err := r.t.queryRow(`SELECT COUNT(*) FROM posts WHERE (? = '' OR category = ?)`,
		string(category), string(category)).Scan(&n)
	return n, translate(err)
}

// Delete relies on ON DELETE CASCADE for comments and bookmarks.
func (r *postRepository) Delete(id int) error {
	res, err := r.t.exec(`DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affected(res)
}

func (r *postRepository) exists(id int) error {
	var one int
	return translate(r.t.queryRow(`SELECT 1 FROM posts WHERE id = ?`, id).Scan(&one))
}

const commentColumns = `id, post_id, author_id, rating, text, created_at`

func scanComment(row scanner) (*models.Comment, error) {
	var c models.Comment
	var rating sql.NullInt64
	var text sql.NullString
	if err := row.Scan(&c.ID, &c.PostID, &c.AuthorID, &rating, &text, &c.CreatedAt); err != nil {
		return nil, translate(err)
	}
	if rating.Valid {
		v := int(rating.Int64)
		c.Rating = &v
	}
	if text.Valid {
		c.Text = &text.String
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

type commentRepository struct{ t *sqlTx }

func (r *commentRepository) Create(comment *models.Comment) error {
	comment.BeforeCreate()
	if err := (&postRepository{r.t}).exists(comment.PostID); err != nil {
		return err
	}
	var rating sql.NullInt64
	if comment.Rating != nil {
		rating = sql.NullInt64{Int64: int64(*comment.Rating), Valid: true}
	}
	var text sql.NullString
	if comment.Text != nil {
		text = sql.NullString{String: *comment.Text, Valid: true}
	}
	id, err := r.t.insert(`INSERT INTO comments (post_id, author_id, rating, text, created_at)
		VALUES (?, ?, ?, ?, ?)`, comment.PostID, comment.AuthorID, rating, text, comment.CreatedAt.UTC())
	if err != nil {
		return err
	}
	comment.ID = id
	return nil
}

func (r *commentRepository) GetByID(id int) (*models.Comment, error) {
	return scanComment(r.t.queryRow(`SELECT `+commentColumns+` FROM comments WHERE id = ?`, id))
}

func (r *commentRepository) ListByPost(postID int) ([]*models.Comment, error) {
	rows, err := r.t.query(`SELECT `+commentColumns+` FROM comments
		WHERE post_id = ? ORDER BY created_at DESC, id DESC`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []*models.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (r *commentRepository) CountByAuthor(postID, authorID int) (int, error) {
	var n int
	err := r.t.queryRow(`SELECT COUNT(*) FROM comments WHERE post_id = ? AND author_id = ?`, postID, authorID).Scan(&n)
	return n, translate(err)
}

func (r *commentRepository) Delete(id int) error {
	res, err := r.t.exec(`DELETE FROM comments WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affected(res)
}

type bookmarkRepository struct{ t *sqlTx }

func (r *bookmarkRepository) Add(identityID, postID int) (bool, error) {
	if err := (&postRepository{r.t}).exists(postID); err != nil {
		return false, err
	}
	exists, err := r.Exists(identityID, postID)
	if err != nil || exists {
		return false, err
	}
	if _, err := r.t.exec(`INSERT INTO bookmarks (identity_id, post_id) VALUES (?, ?)`, identityID, postID); err != nil {
		return false, err
	}
	return true, nil
}

func (r *bookmarkRepository) Remove(identityID, postID int) (bool, error) {
	res, err := r.t.exec(`DELETE FROM bookmarks WHERE identity_id = ? AND post_id = ?`, identityID, postID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *bookmarkRepository) Exists(identityID, postID int) (bool, error) {
	var n int
	err := r.t.queryRow(`SELECT COUNT(*) FROM bookmarks WHERE identity_id = ? AND post_id = ?`, identityID, postID).Scan(&n)
	return n > 0, translate(err)
}

func (r *bookmarkRepository) ListByIdentity(identityID int) ([]*models.Post, error) {
	rows, err := r.t.query(`SELECT p.id, p.url, p.category, p.html_file, p.author, p.created_at
		FROM posts p JOIN bookmarks b ON b.post_id = p.id
		WHERE b.identity_id = ?
		ORDER BY p.created_at DESC, p.id DESC`, identityID)
	if err != nil {
		return nil, err
	}
	return collectPosts(rows)
}

type sessionRepository struct{ t *sqlTx }

func (r *sessionRepository) Create(session *models.Session) error {
	_, err := r.t.exec(`INSERT INTO sessions (id, identity_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		session.ID, session.IdentityID, session.ExpiresAt.UTC(), session.CreatedAt.UTC())
	return err
}

func (r *sessionRepository) Get(id string) (*models.Session, error) {
	var s models.Session
	err := r.t.queryRow(`SELECT id, identity_id, expires_at, created_at FROM sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.IdentityID, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

func (r *sessionRepository) Delete(id string) error {
	res, err := r.t.exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affected(res)
}

func (r *sessionRepository) DeleteByIdentity(identityID int) error {
	_, err := r.t.exec(`DELETE FROM sessions WHERE identity_id = ?`, identityID)
	return err
}
