// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/prwritinghub/prhub-cli/pkg/datatypes"
)

const (
	convKeyPrefix     = "conv:"
	convMetaKeyPrefix = "convmeta:"
	usageKeyPrefix    = "usage:"
)

// Store is the typed cache API. Keys never leak to callers; everything
// goes through these operations so the key layout can change without
// touching call sites.
//
// # Description
//
//	Caches conversation transcripts, conversation summaries for
//	offline listing, and per-engine usage percentages. All methods
//	distinguish "not cached" (ok=false, nil error) from real failures.
type Store interface {
	SaveMessages(conversationID string, msgs []datatypes.Message) error
	Messages(conversationID string) ([]datatypes.Message, bool, error)

	SaveSummary(s datatypes.ConversationSummary) error
	Summaries(userID, engineType string) ([]datatypes.ConversationSummary, error)

	DeleteConversation(conversationID string) error

	SaveUsage(engineType string, percentage float64) error
	Usage(engineType string) (float64, bool, error)

	Close() error
}

// usageRecord is the stored form of a usage percentage, with the fetch
// time so stale cache reads can be surfaced later if needed.
type usageRecord struct {
	Percentage float64   `json:"percentage"`
	FetchedAt  time.Time `json:"fetchedAt"`
}

// BadgerStore implements Store on BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// Open creates a BadgerStore from config.
func Open(cfg Config) (*BadgerStore, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

// OpenWithPath opens a persistent store at path with defaults.
func OpenWithPath(path string) (*BadgerStore, error) {
	return Open(DefaultConfig(path))
}

// OpenInMemory opens a throwaway store for tests.
func OpenInMemory() (*BadgerStore, error) {
	return Open(InMemoryConfig())
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// SaveMessages stores the full transcript for a conversation,
// replacing any previous copy.
func (s *BadgerStore) SaveMessages(conversationID string, msgs []datatypes.Message) error {
	if conversationID == "" {
		return errors.New("conversationID must not be empty")
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	key := []byte(convKeyPrefix + conversationID)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("cache messages for %s: %w", conversationID, err)
	}
	return nil
}

// Messages loads the cached transcript. ok is false when the
// conversation has never been cached.
func (s *BadgerStore) Messages(conversationID string) ([]datatypes.Message, bool, error) {
	key := []byte(convKeyPrefix + conversationID)
	var msgs []datatypes.Message
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msgs)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load cached messages for %s: %w", conversationID, err)
	}
	return msgs, true, nil
}

// SaveSummary upserts a conversation summary for offline listing.
func (s *BadgerStore) SaveSummary(summary datatypes.ConversationSummary) error {
	if summary.ConversationID == "" {
		return errors.New("summary conversationID must not be empty")
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	key := []byte(convMetaKeyPrefix + summary.ConversationID)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("cache summary for %s: %w", summary.ConversationID, err)
	}
	return nil
}

// Summaries lists cached conversation summaries, newest first.
// Empty userID or engineType matches everything for that field.
func (s *BadgerStore) Summaries(userID, engineType string) ([]datatypes.ConversationSummary, error) {
	prefix := []byte(convMetaKeyPrefix)
	var out []datatypes.ConversationSummary
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var summary datatypes.ConversationSummary
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &summary)
			})
			if err != nil {
				return err
			}
			if userID != "" && summary.UserID != userID {
				continue
			}
			if engineType != "" && summary.EngineType != engineType {
				continue
			}
			out = append(out, summary)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list cached summaries: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// DeleteConversation drops a transcript and its summary. Deleting a
// conversation that was never cached is not an error.
func (s *BadgerStore) DeleteConversation(conversationID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(convKeyPrefix + conversationID)); err != nil {
			return err
		}
		return txn.Delete([]byte(convMetaKeyPrefix + conversationID))
	})
	if err != nil {
		return fmt.Errorf("delete cached conversation %s: %w", conversationID, err)
	}
	return nil
}

// SaveUsage stores the latest usage percentage for an engine.
func (s *BadgerStore) SaveUsage(engineType string, percentage float64) error {
	record := usageRecord{Percentage: percentage, FetchedAt: time.Now().UTC()}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal usage record: %w", err)
	}
	key := []byte(usageKeyPrefix + engineType)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("cache usage for engine %s: %w", engineType, err)
	}
	return nil
}

// Usage loads the cached usage percentage for an engine.
func (s *BadgerStore) Usage(engineType string) (float64, bool, error) {
	key := []byte(usageKeyPrefix + engineType)
	var record usageRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load cached usage for engine %s: %w", engineType, err)
	}
	return record.Percentage, true, nil
}
