package repositories

import (
	"fmt"

	"inkwell/app/models"

	"github.com/dgraph-io/badger/v4"
)

// BadgerIdentityRepository implements IdentityRepository inside one Badger transaction
type BadgerIdentityRepository struct {
	txn *badger.Txn
}

// Create creates a new identity and claims its unique username and email
func (r *BadgerIdentityRepository) Create(identity *models.Identity) error {
	identity.BeforeCreate()
	id, err := getNextID(r.txn, IdentitySeqKey)
	if err != nil {
		return err
	}
	identity.ID = id

	if err := claimIndex(r.txn, indexKey(UsernameIndexPrefix, identity.Username), id); err != nil {
		return err
	}
	if email := identity.Email(); email != "" {
		if err := claimIndex(r.txn, indexKey(EmailIndexPrefix, email), id); err != nil {
			return err
		}
	}
	return putEntity(r.txn, identityKey(id), identity)
}

// GetByID retrieves an identity by ID
func (r *BadgerIdentityRepository) GetByID(id int) (*models.Identity, error) {
	var identity models.Identity
	if err := getEntity(r.txn, identityKey(id), &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *BadgerIdentityRepository) GetByUsername(username string) (*models.Identity, error) {
	id, err := lookupIndex(r.txn, indexKey(UsernameIndexPrefix, username))
	if err != nil {
		return nil, err
	}
	return r.GetByID(id)
}

func (r *BadgerIdentityRepository) GetByEmail(email string) (*models.Identity, error) {
	id, err := lookupIndex(r.txn, indexKey(EmailIndexPrefix, email))
	if err != nil {
		return nil, err
	}
	return r.GetByID(id)
}

// Update updates an existing identity, moving its index entries when the
// username or email changed
func (r *BadgerIdentityRepository) Update(identity *models.Identity) error {
	existing, err := r.GetByID(identity.ID)
	if err != nil {
		return err
	}
	if existing.Role != identity.Role {
		return ErrRoleChange
	}

	if existing.Username != identity.Username {
		if err := claimIndex(r.txn, indexKey(UsernameIndexPrefix, identity.Username), identity.ID); err != nil {
			return err
		}
		if err := r.txn.Delete(indexKey(UsernameIndexPrefix, existing.Username)); err != nil {
			return err
		}
	}
	if oldEmail, newEmail := existing.Email(), identity.Email(); oldEmail != newEmail {
		if err := claimIndex(r.txn, indexKey(EmailIndexPrefix, newEmail), identity.ID); err != nil {
			return err
		}
		if err := r.txn.Delete(indexKey(EmailIndexPrefix, oldEmail)); err != nil {
			return err
		}
	}
	return putEntity(r.txn, identityKey(identity.ID), identity)
}

// Delete deletes an identity with everything it owns
func (r *BadgerIdentityRepository) Delete(id int) error {
	identity, err := r.GetByID(id)
	if err != nil {
		return err
	}

	// comments are keyed by post, so find the author's ones by value
	var commentKeys [][]byte
	var commentIDs []int
	err = scanPrefix(r.txn, []byte(CommentKeyPrefix), func(key, val []byte) error {
		var c models.Comment
		if err := unmarshalEntity(val, &c); err != nil {
			return err
		}
		if c.AuthorID == id {
			commentKeys = append(commentKeys, key)
			commentIDs = append(commentIDs, c.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, cid := range commentIDs {
		commentKeys = append(commentKeys, indexKey(CommentIndexPrefix, cid))
	}
	if err := deleteKeys(r.txn, commentKeys); err != nil {
		return err
	}

	bookmarks := &BadgerBookmarkRepository{txn: r.txn}
	if err := bookmarks.removeAllForIdentity(id); err != nil {
		return err
	}
	sessions := &BadgerSessionRepository{txn: r.txn}
	if err := sessions.DeleteByIdentity(id); err != nil {
		return err
	}

	keys := [][]byte{identityKey(id), indexKey(UsernameIndexPrefix, identity.Username)}
	if email := identity.Email(); email != "" {
		keys = append(keys, indexKey(EmailIndexPrefix, email))
	}
	return deleteKeys(r.txn, keys)
}

// ListSubscribers returns every subscriber, oldest first
func (r *BadgerIdentityRepository) ListSubscribers() ([]*models.Identity, error) {
	var subscribers []*models.Identity
	err := scanPrefix(r.txn, []byte(IdentityKeyPrefix), func(_, val []byte) error {
		var identity models.Identity
		if err := unmarshalEntity(val, &identity); err != nil {
			return fmt.Errorf("failed to unmarshal identity: %v", err)
		}
		if identity.IsSubscriber() {
			subscribers = append(subscribers, &identity)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	SortIdentitiesOldestFirst(subscribers)
	return subscribers, nil
}

func (r *BadgerIdentityRepository) VerifiedSubscriberEmails() ([]string, error) {
	subscribers, err := r.ListSubscribers()
	if err != nil {
		return nil, err
	}
	var emails []string
	for _, s := range subscribers {
		if s.Verified {
			emails = append(emails, s.Email())
		}
	}
	return emails, nil
}
