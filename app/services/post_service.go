package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"inkwell/app/mailer"
	"inkwell/app/markup"
	"inkwell/app/models"
	"inkwell/app/repositories"
	"inkwell/app/storage"
)

// RecentLimit is how many posts the front page lists.
const RecentLimit = 10

var (
	documentExts = map[string]bool{"html": true}
	imageExts    = map[string]bool{"jpg": true, "jpeg": true, "png": true, "svg": true, "webp": true, "gif": true}
	audioExts    = map[string]bool{"mp3": true, "ogg": true, "wav": true}
)

// NewPost carries an upload from the post form.
type NewPost struct {
	HTML     storage.Upload
	Images   []storage.Upload
	Audios   []storage.Upload
	Category string
	Author   string
	URL      string
}

// PostSummary is a post with the title and banner taken from its document.
type PostSummary struct {
	ID        int             `json:"id"`
	URL       string          `json:"url"`
	Category  models.Category `json:"category"`
	Author    string          `json:"author"`
	HTMLFile  string          `json:"html_file"`
	CreatedAt time.Time       `json:"created_at"`
	Title     string          `json:"title"`
	Banner    string          `json:"banner,omitempty"`
}

// PostPage is one page of a post listing.
type PostPage struct {
	Posts   []PostSummary `json:"posts"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
}

type CommentView struct {
	ID         int       `json:"id"`
	AuthorID   int       `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Rating     *int      `json:"rating,omitempty"`
	Text       *string   `json:"text,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// PostView is everything the post page shows.
type PostView struct {
	PostSummary
	Comments      []CommentView `json:"comments"`
	AverageRating *float64      `json:"average_rating,omitempty"`
	// MyComments is how many comments the caller already left here.
	MyComments int  `json:"my_comments"`
	Bookmarked bool `json:"bookmarked"`
}

// PostService publishes, lists and removes posts.
type PostService struct {
	deps *Dependencies
}

func NewPostService(deps *Dependencies) *PostService {
	return &PostService{deps: deps}
}

// CreatePost stores the document and media files, then the post row, then
// tells verified subscribers. Files stay on disk if the row cannot be written.
func (s *PostService) CreatePost(ctx context.Context, actor *models.Identity, in NewPost) (*models.Post, error) {
	if err := RequireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	post, doc, media, err := s.prepare(in)
	if err != nil {
		return nil, err
	}

	err = s.deps.Store.View(ctx, func(tx repositories.Tx) error {
		_, err := tx.Posts().GetByURL(post.URL)
		if err == nil {
			return conflictf("post url %s already exists", post.URL)
		}
		if errors.Is(err, repositories.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	exists, err := s.deps.Files.Exists(storage.Documents, post.HTMLFile)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, conflictf("document %s already exists", post.HTMLFile)
	}

	savedMedia, err := s.deps.Files.SaveAll(storage.Media, media)
	if err != nil {
		return nil, fileErr(err)
	}
	if _, err := s.deps.Files.SaveAll(storage.Documents, []storage.Upload{doc}); err != nil {
		s.removeMedia(ctx, savedMedia)
		return nil, fileErr(err)
	}

	err = s.deps.Store.Update(ctx, func(tx repositories.Tx) error {
		return tx.Posts().Create(post)
	})
	if err != nil {
		s.deps.logger().WarnContext(ctx, "post not recorded, files left on disk",
			"document", post.HTMLFile, "media", savedMedia, "error", err)
		return nil, storeErr(err, "post")
	}

	s.deps.Metrics.PostCreated()
	s.deps.logger().InfoContext(ctx, "post created", "post", post.ID, "url", post.URL)
	s.announce(ctx, post)
	return post, nil
}

// prepare validates the form and returns the post to insert along with the
// document and media uploads, their names sanitized.
func (s *PostService) prepare(in NewPost) (*models.Post, storage.Upload, []storage.Upload, error) {
	var none storage.Upload
	in.URL = strings.TrimSpace(in.URL)
	if in.URL == "" {
		return nil, none, nil, validationf("url is required")
	}
	if !models.Category(in.Category).Valid() {
		return nil, none, nil, validationf("unknown category %q", in.Category)
	}
	if !s.deps.isAuthor(in.Author) {
		return nil, none, nil, validationf("unknown author %q", in.Author)
	}

	var err error
	if in.HTML, err = checkUpload(in.HTML, documentExts, "document"); err != nil {
		return nil, none, nil, err
	}
	if len(in.Images) == 0 {
		return nil, none, nil, validationf("at least one image is required")
	}
	media := make([]storage.Upload, 0, len(in.Images)+len(in.Audios))
	for _, u := range in.Images {
		if u, err = checkUpload(u, imageExts, "image"); err != nil {
			return nil, none, nil, err
		}
		media = append(media, u)
	}
	for _, u := range in.Audios {
		if u, err = checkUpload(u, audioExts, "audio"); err != nil {
			return nil, none, nil, err
		}
		media = append(media, u)
	}

	post := &models.Post{
		URL:       in.URL,
		Category:  models.Category(in.Category),
		Author:    in.Author,
		HTMLFile:  in.HTML.Name,
		CreatedAt: s.deps.now(),
	}
	if err := post.Validate(); err != nil {
		return nil, none, nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return post, in.HTML, media, nil
}

func checkUpload(u storage.Upload, allowed map[string]bool, what string) (storage.Upload, error) {
	if u.Open == nil || u.Name == "" {
		return u, validationf("%s file is required", what)
	}
	u.Name = storage.SanitizeName(u.Name)
	if u.Name == "" {
		return u, validationf("invalid %s file name", what)
	}
	if !allowed[storage.Ext(u.Name)] {
		return u, validationf("%s %s has an unsupported extension", what, u.Name)
	}
	return u, nil
}

func fileErr(err error) error {
	if errors.Is(err, storage.ErrExists) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	if errors.Is(err, storage.ErrBadName) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return err
}

func (s *PostService) removeMedia(ctx context.Context, names []string) {
	for _, name := range names {
		err := s.deps.Files.Delete(storage.Media, name)
		if err != nil && !errors.Is(err, storage.ErrNotExist) {
			s.deps.logger().WarnContext(ctx, "media file not removed", "file", name, "error", err)
		}
	}
}

// announce mails every verified subscriber about a new post in one BCC message.
func (s *PostService) announce(ctx context.Context, post *models.Post) {
	var emails []string
	err := s.deps.Store.View(ctx, func(tx repositories.Tx) error {
		var err error
		emails, err = tx.Identities().VerifiedSubscriberEmails()
		return err
	})
	if err != nil {
		s.deps.logger().WarnContext(ctx, "subscriber list unavailable, no announcement", "post", post.ID, "error", err)
		return
	}
	if len(emails) == 0 {
		return
	}

	summary := s.summarize(ctx, post)
	s.deps.notify(ctx, mailer.Message{
		Subject:  "New " + string(post.Category) + ": " + summary.Title,
		To:       []string{s.deps.SenderAddress},
		Bcc:      emails,
		Template: mailer.TemplateNewPost,
		Data: map[string]any{
			"Title":    summary.Title,
			"Category": string(post.Category),
			"Link":     s.deps.link("/posts/" + post.URL),
		},
	})
}

// DeletePost removes the media the document references, the document and
// then the row with its comments and bookmarks. Missing files are skipped.
func (s *PostService) DeletePost(ctx context.Context, actor *models.Identity, postID int) error {
	if err := RequireRole(actor, models.RoleAdmin); err != nil {
		return err
	}
	var post *models.Post
	err := s.deps.Store.View(ctx, func(tx repositories.Tx) error {
		var err error
		post, err = tx.Posts().GetByID(postID)
		return err
	})
	if err != nil {
		return storeErr(err, "post")
	}

	log := s.deps.logger().With("post", post.ID)
	body, err := s.deps.Files.Read(storage.Documents, post.HTMLFile)
	switch {
	case errors.Is(err, storage.ErrNotExist):
		log.WarnContext(ctx, "post document missing, media left alone", "document", post.HTMLFile)
	case err != nil:
		log.WarnContext(ctx, "post document unreadable, media left alone", "document", post.HTMLFile, "error", err)
	default:
		doc, err := markup.Scan(bytes.NewReader(body))
		if err != nil {
			log.WarnContext(ctx, "post document not parsed", "error", err)
		} else {
			s.removeMedia(ctx, doc.Media())
		}
	}
	if err := s.deps.Files.Delete(storage.Documents, post.HTMLFile); err != nil && !errors.Is(err, storage.ErrNotExist) {
		log.WarnContext(ctx, "post document not removed", "document", post.HTMLFile, "error", err)
	}

	err = s.deps.Store.Update(ctx, func(tx repositories.Tx) error {
		return tx.Posts().Delete(post.ID)
	})
	if err != nil {
		return storeErr(err, "post")
	}
	s.deps.Metrics.PostDeleted()
	log.InfoContext(ctx, "post deleted")
	return nil
}

// summarize reads the post document for its title and banner. A missing or
// broken document leaves both empty.
func (s *PostService) summarize(ctx context.Context, post *models.Post) PostSummary {
	summary := PostSummary{
		ID:        post.ID,
		URL:       post.URL,
		Category:  post.Category,
		Author:    post.Author,
		HTMLFile:  post.HTMLFile,
		CreatedAt: post.CreatedAt,
	}
	body, err := s.deps.Files.Read(storage.Documents, post.HTMLFile)
	if err != nil {
		s.deps.logger().WarnContext(ctx, "post document unreadable", "post", post.ID, "error", err)
		return summary
	}
	doc, err := markup.Scan(bytes.NewReader(body))
	if err != nil {
		s.deps.logger().WarnContext(ctx, "post document not parsed", "post", post.ID, "error", err)
		return summary
	}
	summary.Title = doc.Title
	summary.Banner = doc.Banner
	return summary
}

func (s *PostService) summarizeAll(ctx context.Context, posts []*models.Post) []PostSummary {
	out := make([]PostSummary, 0, len(posts))
	for _, p := range posts {
		out = append(out, s.summarize(ctx, p))
	}
	return out
}

// List returns one page of posts, newest first, optionally in one category.
// page starts at 1; perPage of zero lists everything.
func (s *PostService) List(ctx context.Context, category string, page, perPage int) (*PostPage, error) {
	if category != "" && !models.Category(category).Valid() {
		return nil, validationf("unknown category %q", category)
	}
	if page < 1 {
		page = 1
	}
	if perPage < 0 {
		perPage = 0
	}

	var (
		posts []*models.Post
		total int
	)
	filter := repositories.PostFilter{
		Category: models.Category(category),
		Limit:    perPage,
		Offset:   (page - 1) * perPage,
	}
	err := s.deps.Store.View(ctx, func(tx repositories.Tx) error {
		var err error
		if total, err = tx.Posts().Count(filter.Category); err != nil {
			return err
		}
		posts, err = tx.Posts().List(filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &PostPage{
		Posts:   s.summarizeAll(ctx, posts),
		Total:   total,
		Page:    page,
		PerPage: perPage,
	}, nil
}

// Recent returns the newest posts for the front page.
func (s *PostService) Recent(ctx context.Context) ([]PostSummary, error) {
	var posts []*models.Post
	err := s.deps.Store.View(ctx, func(tx repositories.Tx) error {
		var err error
		posts, err = tx.Posts().List(repositories.PostFilter{Limit: RecentLimit})
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.summarizeAll(ctx, posts), nil
}

// Show assembles the post page for url. actor may be nil.
func (s *PostService) Show(ctx context.Context, actor *models.Identity, url string) (*PostView, error) {
	var (
		post  *models.Post
		names = map[int]string{}
		view  = &PostView{}
	)
	err := s.deps.Store.View(ctx, func(tx repositories.Tx) error {
		var err error
		post, err = tx.Posts().GetByURL(url)
		if err != nil {
			return err
		}
		comments, err := tx.Comments().ListByPost(post.ID)
		if err != nil {
			return err
		}
		for _, c := range comments {
			if err := post.AddComment(c); err != nil {
				return err
			}
			if _, ok := names[c.AuthorID]; ok {
				continue
			}
			author, err := tx.Identities().GetByID(c.AuthorID)
			switch {
			case err == nil:
				names[c.AuthorID] = author.Username
			case errors.Is(err, repositories.ErrNotFound):
				names[c.AuthorID] = ""
			default:
				return err
			}
		}
		if actor != nil {
			for _, c := range comments {
				if c.AuthorID == actor.ID {
					view.MyComments++
				}
			}
			view.Bookmarked, err = tx.Bookmarks().Exists(actor.ID, post.ID)
		}
		return err
	})
	if err != nil {
		return nil, storeErr(err, "post")
	}

	view.PostSummary = s.summarize(ctx, post)
	view.Comments = make([]CommentView, 0, len(post.Comments))
	for _, c := range post.Comments {
		view.Comments = append(view.Comments, CommentView{
			ID:         c.ID,
			AuthorID:   c.AuthorID,
			AuthorName: names[c.AuthorID],
			Rating:     c.Rating,
			Text:       c.Text,
			CreatedAt:  c.CreatedAt,
		})
	}
	if avg, ok := post.AverageRating(); ok {
		view.AverageRating = &avg
	}
	return view, nil
}
