package storage

import (
	"fmt"
	"strings"
)

const bridgeBucket = "bridges"

// StoredBridge is the persisted identity of one paired bridge.
type StoredBridge struct {
	ID        string
	Address   string
	AppKey    string
	ClientKey string
}

// BridgeStore persists per-bridge credentials and addresses as plain
// key->string pairs: `<id>/address`, `<id>/app_key`, `<id>/client_key`.
type BridgeStore struct {
	bucket *Bucket
}

// NewBridgeStore creates the store over the shared database.
func NewBridgeStore(db *DB) *BridgeStore {
	return &BridgeStore{bucket: NewBucket(db, bridgeBucket)}
}

// Save persists a bridge's address and credentials.
func (s *BridgeStore) Save(b StoredBridge) error {
	if err := s.bucket.SetString(b.ID+"/address", b.Address); err != nil {
		return err
	}
	if err := s.bucket.SetString(b.ID+"/app_key", b.AppKey); err != nil {
		return err
	}
	if b.ClientKey != "" {
		if err := s.bucket.SetString(b.ID+"/client_key", b.ClientKey); err != nil {
			return err
		}
	}
	return nil
}

// Load returns every persisted bridge.
func (s *BridgeStore) Load() ([]StoredBridge, error) {
	keys, err := s.bucket.Keys()
	if err != nil {
		return nil, err
	}

	ids := make(map[string]struct{})
	for _, key := range keys {
		if id, _, ok := strings.Cut(key, "/"); ok {
			ids[id] = struct{}{}
		}
	}

	var bridges []StoredBridge
	for id := range ids {
		b := StoredBridge{ID: id}
		var ok bool

		if b.Address, ok, err = s.bucket.GetString(id + "/address"); err != nil {
			return nil, err
		} else if !ok {
			return nil, fmt.Errorf("stored bridge %s has no address", id)
		}
		if b.AppKey, ok, err = s.bucket.GetString(id + "/app_key"); err != nil {
			return nil, err
		} else if !ok {
			return nil, fmt.Errorf("stored bridge %s has no app key", id)
		}
		if b.ClientKey, _, err = s.bucket.GetString(id + "/client_key"); err != nil {
			return nil, err
		}

		bridges = append(bridges, b)
	}
	return bridges, nil
}

// Delete removes a bridge's persisted state.
func (s *BridgeStore) Delete(id string) error {
	_, err := s.bucket.DeletePrefix(id + "/")
	return err
}
