package repositories

import (
	"fmt"
	"time"

	"inkwell/app/models"

	"github.com/dgraph-io/badger/v4"
)

// BadgerSessionRepository stores sessions with a Badger TTL matching their expiry
type BadgerSessionRepository struct {
	txn *badger.Txn
}

func sessionKey(id string) []byte { return []byte(SessionKeyPrefix + id) }

func identitySessionKey(identityID int, id string) []byte {
	return []byte(fmt.Sprintf("%s%d:%s", IdentitySessionIndexPrefix, identityID, id))
}

func (r *BadgerSessionRepository) Create(session *models.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session id is empty")
	}
	data, err := marshalEntity(session)
	if err != nil {
		return err
	}
	entry := badger.NewEntry(sessionKey(session.ID), data)
	index := badger.NewEntry(identitySessionKey(session.IdentityID, session.ID), nil)
	// expiry is still checked on read; the TTL only lets Badger drop stale keys
	if ttl := time.Until(session.ExpiresAt); ttl > 0 {
		entry = entry.WithTTL(ttl)
		index = index.WithTTL(ttl)
	}
	if err := r.txn.SetEntry(entry); err != nil {
		return err
	}
	return r.txn.SetEntry(index)
}

func (r *BadgerSessionRepository) Get(id string) (*models.Session, error) {
	var session models.Session
	if err := getEntity(r.txn, sessionKey(id), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *BadgerSessionRepository) Delete(id string) error {
	session, err := r.Get(id)
	if err != nil {
		return err
	}
	return deleteKeys(r.txn, [][]byte{sessionKey(id), identitySessionKey(session.IdentityID, id)})
}

func (r *BadgerSessionRepository) DeleteByIdentity(identityID int) error {
	prefix := fmt.Sprintf("%s%d:", IdentitySessionIndexPrefix, identityID)
	keys, err := collectKeys(r.txn, []byte(prefix))
	if err != nil {
		return err
	}
	doomed := make([][]byte, 0, 2*len(keys))
	for _, k := range keys {
		doomed = append(doomed, k, sessionKey(string(k[len(prefix):])))
	}
	return deleteKeys(r.txn, doomed)
}
