package storage

import (
	"fmt"
	"strings"

	"github.com/scottbiggs/Pauls-app-sub000/internal/model"
)

const flockBucket = "flocks"

// FlockStore persists flock definitions: `<id>/name` as a string and
// `<id>/rooms`, `<id>/zones` as string sets of "<bridgeID>/<groupID>"
// members.
type FlockStore struct {
	bucket *Bucket
}

// NewFlockStore creates the store over the shared database.
func NewFlockStore(db *DB) *FlockStore {
	return &FlockStore{bucket: NewBucket(db, flockBucket)}
}

// SaveFlock persists a flock definition.
func (s *FlockStore) SaveFlock(f *model.Flock) error {
	if err := s.bucket.SetString(f.ID+"/name", f.Name); err != nil {
		return err
	}

	var rooms, zones []string
	for _, m := range f.Members {
		encoded := m.BridgeID + "/" + m.GroupID
		if m.Kind == model.MemberZone {
			zones = append(zones, encoded)
		} else {
			rooms = append(rooms, encoded)
		}
	}
	if err := s.bucket.SetStringSet(f.ID+"/rooms", rooms); err != nil {
		return err
	}
	return s.bucket.SetStringSet(f.ID+"/zones", zones)
}

// LoadFlocks returns every persisted flock.
func (s *FlockStore) LoadFlocks() ([]*model.Flock, error) {
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

	var flocks []*model.Flock
	for id := range ids {
		name, ok, err := s.bucket.GetString(id + "/name")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("stored flock %s has no name", id)
		}

		f := &model.Flock{ID: id, Name: name}

		rooms, err := s.bucket.GetStringSet(id + "/rooms")
		if err != nil {
			return nil, err
		}
		for _, encoded := range rooms {
			if m, ok := decodeMember(encoded, model.MemberRoom); ok {
				f.Members = append(f.Members, m)
			}
		}

		zones, err := s.bucket.GetStringSet(id + "/zones")
		if err != nil {
			return nil, err
		}
		for _, encoded := range zones {
			if m, ok := decodeMember(encoded, model.MemberZone); ok {
				f.Members = append(f.Members, m)
			}
		}

		flocks = append(flocks, f)
	}
	return flocks, nil
}

// DeleteFlock removes a flock's persisted state.
func (s *FlockStore) DeleteFlock(id string) error {
	_, err := s.bucket.DeletePrefix(id + "/")
	return err
}

func decodeMember(encoded string, kind model.MemberKind) (model.FlockMember, bool) {
	bridgeID, groupID, ok := strings.Cut(encoded, "/")
	if !ok || bridgeID == "" || groupID == "" {
		return model.FlockMember{}, false
	}
	return model.FlockMember{BridgeID: bridgeID, Kind: kind, GroupID: groupID}, true
}
