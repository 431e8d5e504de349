package store

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	apperrors "github.com/davmgs/meditrack/internal/errors"
	"github.com/dgraph-io/badger/v4"
)

const linkTokenTTL = 30 * time.Minute

// CreateLinkToken mints a one-shot token a user pastes into the chat bot
// (e.g. `/start <token>` on Telegram) to link their chat to the account.
// Tokens expire after 30 minutes.
func (s *Store) CreateLinkToken(userID string) (string, error) {
	if s.badger == nil {
		return "", apperrors.ErrChannelUnavailable
	}

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	err := s.badger.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte("link:"+token), []byte(userID)).WithTTL(linkTokenTTL)
		return txn.SetEntry(e)
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// ConsumeLinkToken resolves and deletes a link token in one transaction,
// returning the owning user id. A second consume of the same token fails.
func (s *Store) ConsumeLinkToken(token string) (string, error) {
	if s.badger == nil {
		return "", apperrors.ErrChannelUnavailable
	}

	var userID string
	err := s.badger.Update(func(txn *badger.Txn) error {
		key := []byte("link:" + token)
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		if err := item.Value(func(v []byte) error {
			userID = string(v)
			return nil
		}); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err == badger.ErrKeyNotFound {
		return "", apperrors.ErrLinkTokenInvalid
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

// FirstSeen records a channel interaction key (e.g. a callback query id)
// and reports whether this was its first occurrence within ttl. Used to
// drop duplicate button presses the channel may redeliver.
func (s *Store) FirstSeen(key string, ttl time.Duration) (bool, error) {
	if s.badger == nil {
		// Without badger the message-edit on ack is the only dedup.
		return true, nil
	}

	first := false
	err := s.badger.Update(func(txn *badger.Txn) error {
		k := []byte("seen:" + key)
		_, err := txn.Get(k)
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		first = true
		e := badger.NewEntry(k, []byte{1}).WithTTL(ttl)
		return txn.SetEntry(e)
	})
	return first, err
}
