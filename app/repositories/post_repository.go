package repositories

import (
	"fmt"

	"inkwell/app/models"

	"github.com/dgraph-io/badger/v4"
)

// BadgerPostRepository implements PostRepository inside one Badger transaction
type BadgerPostRepository struct {
	txn *badger.Txn
}

// Create creates a new post
func (r *BadgerPostRepository) Create(post *models.Post) error {
	post.BeforeCreate()
	// Get next ID
	id, err := getNextID(r.txn, PostSeqKey)
	if err != nil {
		return err
	}
	post.ID = id

	if err := claimIndex(r.txn, indexKey(PostURLIndexPrefix, post.URL), id); err != nil {
		return err
	}
	if err := claimIndex(r.txn, indexKey(PostFileIndexPrefix, post.HTMLFile), id); err != nil {
		return err
	}

	// comments live under their own keys
	stored := *post
	stored.Comments = nil
	return putEntity(r.txn, postKey(id), &stored)
}

// GetByID retrieves a post by ID
func (r *BadgerPostRepository) GetByID(id int) (*models.Post, error) {
	var post models.Post
	if err := getEntity(r.txn, postKey(id), &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// GetByURL retrieves a post by its URL slug
func (r *BadgerPostRepository) GetByURL(url string) (*models.Post, error) {
	id, err := lookupIndex(r.txn, indexKey(PostURLIndexPrefix, url))
	if err != nil {
		return nil, err
	}
	return r.GetByID(id)
}

func (r *BadgerPostRepository) all(category models.Category) ([]*models.Post, error) {
	var posts []*models.Post
	err := scanPrefix(r.txn, []byte(PostKeyPrefix), func(_, val []byte) error {
		var post models.Post
		if err := unmarshalEntity(val, &post); err != nil {
			return fmt.Errorf("failed to unmarshal post: %v", err)
		}
		if category == "" || post.Category == category {
			posts = append(posts, &post)
		}
		return nil
	})
	return posts, err
}

// List retrieves a page of posts, newest first
func (r *BadgerPostRepository) List(filter PostFilter) ([]*models.Post, error) {
	posts, err := r.all(filter.Category)
	if err != nil {
		return nil, err
	}
	SortPostsNewestFirst(posts)
	return Page(posts, filter.Offset, filter.Limit), nil
}

func (r *BadgerPostRepository) Count(category models.Category) (int, error) {
	posts, err := r.all(category)
	return len(posts), err
}

// Delete deletes a post with its comments and bookmarks
func (r *BadgerPostRepository) Delete(id int) error {
	post, err := r.GetByID(id)
	if err != nil {
		return err
	}

	var keys [][]byte
	err = scanPrefix(r.txn, commentPrefix(id), func(key, val []byte) error {
		var c models.Comment
		if err := unmarshalEntity(val, &c); err != nil {
			return err
		}
		keys = append(keys, key, indexKey(CommentIndexPrefix, c.ID))
		return nil
	})
	if err != nil {
		return err
	}

	bookmarks := &BadgerBookmarkRepository{txn: r.txn}
	if err := bookmarks.removeAllForPost(id); err != nil {
		return err
	}

	keys = append(keys,
		postKey(id),
		indexKey(PostURLIndexPrefix, post.URL),
		indexKey(PostFileIndexPrefix, post.HTMLFile),
	)
	return deleteKeys(r.txn, keys)
}
