package repositories

import (
	"fmt"

	"inkwell/app/models"

	"github.com/dgraph-io/badger/v4"
)

// BadgerCommentRepository implements CommentRepository inside one Badger transaction
type BadgerCommentRepository struct {
	txn *badger.Txn
}

// Create creates a new comment
func (r *BadgerCommentRepository) Create(comment *models.Comment) error {
	comment.BeforeCreate()
	if _, err := r.txn.Get(postKey(comment.PostID)); err == badger.ErrKeyNotFound {
		return ErrNotFound
	} else if err != nil {
		return err
	}

	// Get next ID
	id, err := getNextID(r.txn, CommentSeqKey)
	if err != nil {
		return err
	}
	comment.ID = id

	// the index maps a bare comment ID back to its post scoped key
	if err := r.txn.Set(indexKey(CommentIndexPrefix, id), encodeID(comment.PostID)); err != nil {
		return err
	}
	stored := *comment
	stored.Post = nil
	return putEntity(r.txn, commentKey(comment.PostID, id), &stored)
}

// GetByID retrieves a comment by ID
func (r *BadgerCommentRepository) GetByID(id int) (*models.Comment, error) {
	postID, err := lookupIndex(r.txn, indexKey(CommentIndexPrefix, id))
	if err != nil {
		return nil, err
	}
	var comment models.Comment
	if err := getEntity(r.txn, commentKey(postID, id), &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// ListByPost retrieves all comments for a post, newest first
func (r *BadgerCommentRepository) ListByPost(postID int) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := scanPrefix(r.txn, commentPrefix(postID), func(_, val []byte) error {
		var comment models.Comment
		if err := unmarshalEntity(val, &comment); err != nil {
			return fmt.Errorf("failed to unmarshal comment: %v", err)
		}
		comments = append(comments, &comment)
		return nil
	})
	if err != nil {
		return nil, err
	}
	SortCommentsNewestFirst(comments)
	return comments, nil
}

// CountByAuthor counts the comments one identity left on a post
func (r *BadgerCommentRepository) CountByAuthor(postID, authorID int) (int, error) {
	comments, err := r.ListByPost(postID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range comments {
		if c.AuthorID == authorID {
			n++
		}
	}
	return n, nil
}

// Delete deletes a comment by ID
func (r *BadgerCommentRepository) Delete(id int) error {
	postID, err := lookupIndex(r.txn, indexKey(CommentIndexPrefix, id))
	if err != nil {
		return err
	}
	return deleteKeys(r.txn, [][]byte{commentKey(postID, id), indexKey(CommentIndexPrefix, id)})
}
