package services

import (
	"context"
	"fmt"

	"inkwell/app/models"
	"inkwell/app/repositories"
)

// BookmarkService lets users mark posts for later. A user only ever touches
// their own marks.
type BookmarkService struct {
	deps  *Dependencies
	posts *PostService
}

func NewBookmarkService(deps *Dependencies, posts *PostService) *BookmarkService {
	return &BookmarkService{deps: deps, posts: posts}
}

// MarkPost bookmarks postID for userID. Marking twice is not an error;
// changed reports whether a new mark was stored.
func (s *BookmarkService) MarkPost(ctx context.Context, actor *models.Identity, userID, postID int) (changed bool, err error) {
	if err := s.check(actor, userID); err != nil {
		return false, err
	}
	err = s.deps.Store.Update(ctx, func(tx repositories.Tx) error {
		var err error
		changed, err = tx.Bookmarks().Add(userID, postID)
		return err
	})
	if err != nil {
		return false, storeErr(err, "post")
	}
	return changed, nil
}

// UnmarkPost removes the bookmark. changed is false when there was none.
func (s *BookmarkService) UnmarkPost(ctx context.Context, actor *models.Identity, userID, postID int) (changed bool, err error) {
	if err := s.check(actor, userID); err != nil {
		return false, err
	}
	err = s.deps.Store.Update(ctx, func(tx repositories.Tx) error {
		if _, err := tx.Posts().GetByID(postID); err != nil {
			return err
		}
		var err error
		changed, err = tx.Bookmarks().Remove(userID, postID)
		return err
	})
	if err != nil {
		return false, storeErr(err, "post")
	}
	return changed, nil
}

func (s *BookmarkService) check(actor *models.Identity, userID int) error {
	if err := RequireVerified(actor); err != nil {
		return err
	}
	return RequireSelf(actor, userID)
}

// Dashboard lists the caller's marked posts, newest first. Nobody can see
// another user's dashboard.
func (s *BookmarkService) Dashboard(ctx context.Context, actor *models.Identity, username string) ([]PostSummary, error) {
	if err := RequireVerified(actor); err != nil {
		return nil, err
	}
	if actor.Username != username {
		return nil, fmt.Errorf("%w: not your dashboard", ErrForbidden)
	}
	var posts []*models.Post
	err := s.deps.Store.View(ctx, func(tx repositories.Tx) error {
		var err error
		posts, err = tx.Bookmarks().ListByIdentity(actor.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.posts.summarizeAll(ctx, posts), nil
}
