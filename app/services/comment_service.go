package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"inkwell/app/mailer"
	"inkwell/app/models"
	"inkwell/app/repositories"
)

// MaxCommentLength caps subscriber comment text.
const MaxCommentLength = 500

// CommentInput is the submitted comment form. Rating is nil when omitted.
type CommentInput struct {
	Rating *int   `json:"rating"`
	Text   string `json:"text"`
}

type CommentService struct {
	deps *Dependencies
}

func NewCommentService(deps *Dependencies) *CommentService {
	return &CommentService{deps: deps}
}

// CreateComment adds a comment to a post. Subscribers must rate, may leave
// text, and get one comment per post. The owner leaves text only, without
// a rating or a per-post limit. Text is capped at MaxCommentLength for both.
func (s *CommentService) CreateComment(ctx context.Context, actor *models.Identity, postID int, in CommentInput) (*models.Comment, error) {
	if err := RequireVerified(actor); err != nil {
		return nil, err
	}

	comment := &models.Comment{
		PostID:    postID,
		AuthorID:  actor.ID,
		CreatedAt: s.deps.now(),
	}
	text := strings.TrimSpace(in.Text)
	if len([]rune(text)) > MaxCommentLength {
		return nil, validationf("comment must be at most %d characters", MaxCommentLength)
	}
	if actor.IsAdmin() {
		if text == "" {
			return nil, validationf("comment text is required")
		}
		comment.Text = &text
	} else {
		if in.Rating == nil {
			return nil, validationf("rating is required")
		}
		if !models.RatingInRange(*in.Rating) {
			return nil, validationf("rating must be between %d and %d", models.MinRating, models.MaxRating)
		}
		rating := *in.Rating
		comment.Rating = &rating
		if text != "" {
			comment.Text = &text
		}
	}
	if err := comment.Validate(); err != nil {
		return nil, validationf("%v", err)
	}

	var post *models.Post
	err := s.deps.Store.Update(ctx, func(tx repositories.Tx) error {
		var err error
		post, err = tx.Posts().GetByID(postID)
		if err != nil {
			return err
		}
		if actor.IsSubscriber() {
			n, err := tx.Comments().CountByAuthor(postID, actor.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return conflictf("you already commented on this post")
			}
		}
		return tx.Comments().Create(comment)
	})
	if err != nil {
		return nil, storeErr(err, "post")
	}
	if err := comment.SetPost(post); err != nil {
		return nil, err
	}

	s.deps.Metrics.CommentCreated(string(actor.Role))
	if actor.IsSubscriber() {
		s.tellOwner(ctx, actor, post, comment)
	}
	return comment, nil
}

func (s *CommentService) tellOwner(ctx context.Context, author *models.Identity, post *models.Post, c *models.Comment) {
	if s.deps.AdminAddress == "" {
		return
	}
	data := map[string]any{
		"Username": author.Username,
		"Title":    post.URL,
		"Link":     s.deps.link("/posts/" + post.URL),
		"Rating":   *c.Rating,
	}
	if c.Text != nil {
		data["Text"] = *c.Text
	}
	s.deps.notify(ctx, mailer.Message{
		Subject:  fmt.Sprintf("New comment from %s", author.Username),
		To:       []string{s.deps.AdminAddress},
		Template: mailer.TemplateNewComment,
		Data:     data,
	})
}

// DeleteComment removes a comment. Only its author or the owner may do so.
func (s *CommentService) DeleteComment(ctx context.Context, actor *models.Identity, commentID int) error {
	if actor == nil {
		return fmt.Errorf("%w: log in first", ErrUnauthorized)
	}
	err := s.deps.Store.Update(ctx, func(tx repositories.Tx) error {
		c, err := tx.Comments().GetByID(commentID)
		if err != nil {
			return err
		}
		if c.AuthorID != actor.ID && !actor.IsAdmin() {
			return fmt.Errorf("%w: not your comment", ErrForbidden)
		}
		return tx.Comments().Delete(commentID)
	})
	if errors.Is(err, repositories.ErrNotFound) {
		return notFound("comment")
	}
	return err
}
