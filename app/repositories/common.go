package repositories

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"inkwell/app/models"
)

const (
	// Key prefixes for different entity types
	IdentityKeyPrefix   = "identity:"
	PostKeyPrefix       = "post:"
	CommentKeyPrefix    = "comment:"
	BookmarkKeyPrefix   = "bookmark:"
	BookmarkedKeyPrefix = "bookmarked:"
	SessionKeyPrefix    = "session:"

	// Secondary index prefixes
	UsernameIndexPrefix        = "idx:username:"
	EmailIndexPrefix           = "idx:email:"
	PostURLIndexPrefix         = "idx:post-url:"
	PostFileIndexPrefix        = "idx:post-file:"
	CommentIndexPrefix         = "idx:comment:"
	IdentitySessionIndexPrefix = "idx:identity-session:"

	// Sequence keys for auto-incrementing IDs
	IdentitySeqKey = "seq:identity"
	PostSeqKey     = "seq:post"
	CommentSeqKey  = "seq:comment"
)

func identityKey(id int) []byte { return []byte(fmt.Sprintf("%s%d", IdentityKeyPrefix, id)) }
func postKey(id int) []byte     { return []byte(fmt.Sprintf("%s%d", PostKeyPrefix, id)) }

func commentKey(postID, id int) []byte {
	return []byte(fmt.Sprintf("%s%d:%d", CommentKeyPrefix, postID, id))
}

func commentPrefix(postID int) []byte {
	return []byte(fmt.Sprintf("%s%d:", CommentKeyPrefix, postID))
}

func bookmarkKey(identityID, postID int) []byte {
	return []byte(fmt.Sprintf("%s%d:%d", BookmarkKeyPrefix, identityID, postID))
}

func bookmarkedKey(postID, identityID int) []byte {
	return []byte(fmt.Sprintf("%s%d:%d", BookmarkedKeyPrefix, postID, identityID))
}

func indexKey(prefix string, value interface{}) []byte {
	return []byte(fmt.Sprintf("%s%v", prefix, value))
}

// getNextID gets the next available ID for a given sequence key
func getNextID(txn *badger.Txn, seqKey string) (int, error) {
	var id int
	item, err := txn.Get([]byte(seqKey))
	if err == badger.ErrKeyNotFound {
		id = 1
	} else if err != nil {
		return 0, err
	} else {
		err = item.Value(func(val []byte) error {
			id = decodeID(val)
			return nil
		})
		if err != nil {
			return 0, err
		}
		id++
	}

	// Store new ID
	if err := txn.Set([]byte(seqKey), encodeID(id)); err != nil {
		return 0, err
	}

	return id, nil
}

func encodeID(id int) []byte {
	return []byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
}

func decodeID(val []byte) int {
	return int(val[0])<<24 | int(val[1])<<16 | int(val[2])<<8 | int(val[3])
}

// marshalEntity marshals an entity to JSON
func marshalEntity(entity interface{}) ([]byte, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity: %v", err)
	}
	return data, nil
}

// unmarshalEntity unmarshals JSON data into an entity
func unmarshalEntity(data []byte, entity interface{}) error {
	if err := json.Unmarshal(data, entity); err != nil {
		return fmt.Errorf("failed to unmarshal entity: %v", err)
	}
	return nil
}

// getEntity loads key into entity, mapping a missing key to ErrNotFound.
func getEntity(txn *badger.Txn, key []byte, entity interface{}) error {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return unmarshalEntity(val, entity)
	})
}

func putEntity(txn *badger.Txn, key []byte, entity interface{}) error {
	data, err := marshalEntity(entity)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// lookupIndex resolves a secondary index entry to the ID it stores.
func lookupIndex(txn *badger.Txn, key []byte) (int, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	var id int
	err = item.Value(func(val []byte) error {
		id = decodeID(val)
		return nil
	})
	return id, err
}

// claimIndex writes a unique index entry, failing with ErrDuplicate when
// another record already holds it.
func claimIndex(txn *badger.Txn, key []byte, id int) error {
	owner, err := lookupIndex(txn, key)
	switch {
	case err == ErrNotFound:
	case err != nil:
		return err
	case owner != id:
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}
	return txn.Set(key, encodeID(id))
}

// scanPrefix visits every value under prefix. The iterator is closed before
// it returns, so callers may write afterwards in the same transaction.
func scanPrefix(txn *badger.Txn, prefix []byte, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if err := item.Value(func(val []byte) error {
			return fn(key, val)
		}); err != nil {
			return err
		}
	}
	return nil
}

// collectKeys returns copies of every key under prefix.
func collectKeys(txn *badger.Txn, prefix []byte) ([][]byte, error) {
	var keys [][]byte
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}

func deleteKeys(txn *badger.Txn, keys [][]byte) error {
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// SortPostsNewestFirst orders posts by creation time, newest first, with ID as tie breaker.
func SortPostsNewestFirst(posts []*models.Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		if !posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].CreatedAt.After(posts[j].CreatedAt)
		}
		return posts[i].ID > posts[j].ID
	})
}

// SortCommentsNewestFirst orders comments by creation time, newest first.
func SortCommentsNewestFirst(comments []*models.Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		if !comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].CreatedAt.After(comments[j].CreatedAt)
		}
		return comments[i].ID > comments[j].ID
	})
}

// SortIdentitiesOldestFirst orders identities by creation time, oldest first.
func SortIdentitiesOldestFirst(ids []*models.Identity) {
	sort.SliceStable(ids, func(i, j int) bool {
		if !ids[i].CreatedAt.Equal(ids[j].CreatedAt) {
			return ids[i].CreatedAt.Before(ids[j].CreatedAt)
		}
		return ids[i].ID < ids[j].ID
	})
}

// Page applies offset and limit to an ordered slice.
func Page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
