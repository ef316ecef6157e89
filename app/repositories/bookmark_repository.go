package repositories

import (
	"fmt"
	"strconv"
	"strings"

	"inkwell/app/models"

	"github.com/dgraph-io/badger/v4"
)

// BadgerBookmarkRepository keeps a forward key per identity and a reverse key
// per post so either side can be cleared without a full scan.
type BadgerBookmarkRepository struct {
	txn *badger.Txn
}

func (r *BadgerBookmarkRepository) Exists(identityID, postID int) (bool, error) {
	_, err := r.txn.Get(bookmarkKey(identityID, postID))
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	return err == nil, err
}

func (r *BadgerBookmarkRepository) Add(identityID, postID int) (bool, error) {
	if _, err := r.txn.Get(postKey(postID)); err == badger.ErrKeyNotFound {
		return false, ErrNotFound
	} else if err != nil {
		return false, err
	}
	exists, err := r.Exists(identityID, postID)
	if err != nil || exists {
		return false, err
	}
	if err := r.txn.Set(bookmarkKey(identityID, postID), nil); err != nil {
		return false, err
	}
	if err := r.txn.Set(bookmarkedKey(postID, identityID), nil); err != nil {
		return false, err
	}
	return true, nil
}

func (r *BadgerBookmarkRepository) Remove(identityID, postID int) (bool, error) {
	exists, err := r.Exists(identityID, postID)
	if err != nil || !exists {
		return false, err
	}
	err = deleteKeys(r.txn, [][]byte{bookmarkKey(identityID, postID), bookmarkedKey(postID, identityID)})
	return err == nil, err
}

// ListByIdentity returns the marked posts, newest first
func (r *BadgerBookmarkRepository) ListByIdentity(identityID int) ([]*models.Post, error) {
	prefix := []byte(fmt.Sprintf("%s%d:", BookmarkKeyPrefix, identityID))
	keys, err := collectKeys(r.txn, prefix)
	if err != nil {
		return nil, err
	}
	posts := &BadgerPostRepository{txn: r.txn}
	var marked []*models.Post
	for _, k := range keys {
		postID, err := trailingID(k)
		if err != nil {
			return nil, err
		}
		post, err := posts.GetByID(postID)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		marked = append(marked, post)
	}
	SortPostsNewestFirst(marked)
	return marked, nil
}

func (r *BadgerBookmarkRepository) removeAllForIdentity(identityID int) error {
	keys, err := collectKeys(r.txn, []byte(fmt.Sprintf("%s%d:", BookmarkKeyPrefix, identityID)))
	if err != nil {
		return err
	}
	for _, k := range keys {
		postID, err := trailingID(k)
		if err != nil {
			return err
		}
		if err := deleteKeys(r.txn, [][]byte{k, bookmarkedKey(postID, identityID)}); err != nil {
			return err
		}
	}
	return nil
}

func (r *BadgerBookmarkRepository) removeAllForPost(postID int) error {
	keys, err := collectKeys(r.txn, []byte(fmt.Sprintf("%s%d:", BookmarkedKeyPrefix, postID)))
	if err != nil {
		return err
	}
	for _, k := range keys {
		identityID, err := trailingID(k)
		if err != nil {
			return err
		}
		if err := deleteKeys(r.txn, [][]byte{k, bookmarkKey(identityID, postID)}); err != nil {
			return err
		}
	}
	return nil
}

// trailingID parses the number after the last colon of a key.
func trailingID(key []byte) (int, error) {
	s := string(key)
	id, err := strconv.Atoi(s[strings.LastIndexByte(s, ':')+1:])
	if err != nil {
		return 0, fmt.Errorf("malformed key %q: %w", s, err)
	}
	return id, nil
}
