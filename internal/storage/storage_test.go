package storage

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/scottbiggs/Pauls-app-sub000/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBucketStringRoundTrip(t *testing.T) {
	b := NewBucket(testDB(t), "test")

	if _, ok, err := b.GetString("missing"); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}

	if err := b.SetString("k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := b.SetString("k", "v2"); err != nil {
		t.Fatal(err)
	}

	got, ok, err := b.GetString("k")
	if err != nil || !ok || got != "v2" {
		t.Fatalf("expected v2, got %q (ok=%v err=%v)", got, ok, err)
	}

	existed, err := b.Delete("k")
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
	if existed, _ := b.Delete("k"); existed {
		t.Fatal("second delete must report missing key")
	}
}

func TestDeletePrefixIsLiteral(t *testing.T) {
	b := NewBucket(testDB(t), "test")

	// The underscore in the prefix must match literally, not as a SQL
	// wildcard.
	for _, key := range []string{"bridge_1/address", "bridge_1/app_key", "bridgeX1/address"} {
		if err := b.SetString(key, "x"); err != nil {
			t.Fatal(err)
		}
	}

	n, err := b.DeletePrefix("bridge_1/")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 keys removed, got %d", n)
	}

	keys, err := b.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "bridgeX1/address" {
		t.Fatalf("unrelated key must survive, got %v", keys)
	}
}

func TestBridgeStoreRoundTrip(t *testing.T) {
	store := NewBridgeStore(testDB(t))

	bridges := []StoredBridge{
		{ID: "001788fffe23f0aa", Address: "10.0.0.2", AppKey: "app-key-a", ClientKey: "client-key-a"},
		{ID: "001788fffe23f0bb", Address: "10.0.0.3", AppKey: "app-key-b"},
	}
	for _, b := range bridges {
		if err := store.Save(b); err != nil {
			t.Fatal(err)
		}
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 bridges, got %d", len(loaded))
	}

	sort.Slice(loaded, func(i, j int) bool { return loaded[i].ID < loaded[j].ID })
	if loaded[0] != bridges[0] {
		t.Fatalf("first bridge mangled: %+v", loaded[0])
	}
	if loaded[1].ClientKey != "" {
		t.Fatalf("absent client key must load empty, got %q", loaded[1].ClientKey)
	}

	if err := store.Delete("001788fffe23f0aa"); err != nil {
		t.Fatal(err)
	}
	loaded, err = store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0].ID != "001788fffe23f0bb" {
		t.Fatalf("delete must remove exactly one bridge, got %+v", loaded)
	}
}

func TestFlockStoreRoundTrip(t *testing.T) {
	store := NewFlockStore(testDB(t))

	flock := &model.Flock{
		ID:   "flock-1",
		Name: "Downstairs",
		Members: []model.FlockMember{
			{BridgeID: "bridge-1", Kind: model.MemberRoom, GroupID: "room-a"},
			{BridgeID: "bridge-2", Kind: model.MemberZone, GroupID: "zone-b"},
		},
	}
	if err := store.SaveFlock(flock); err != nil {
		t.Fatal(err)
	}

	flocks, err := store.LoadFlocks()
	if err != nil {
		t.Fatal(err)
	}
	if len(flocks) != 1 {
		t.Fatalf("expected 1 flock, got %d", len(flocks))
	}

	got := flocks[0]
	if got.ID != "flock-1" || got.Name != "Downstairs" {
		t.Fatalf("identity mangled: %+v", got)
	}
	if len(got.Members) != 2 {
		t.Fatalf("expected 2 members, got %+v", got.Members)
	}

	kinds := map[string]model.MemberKind{}
	for _, m := range got.Members {
		kinds[m.GroupID] = m.Kind
	}
	if kinds["room-a"] != model.MemberRoom || kinds["zone-b"] != model.MemberZone {
		t.Fatalf("member kinds lost on reload: %+v", got.Members)
	}

	// Saving again after membership shrank must not resurrect the old
	// member on the next load.
	flock.Members = flock.Members[:1]
	if err := store.SaveFlock(flock); err != nil {
		t.Fatal(err)
	}
	flocks, err = store.LoadFlocks()
	if err != nil {
		t.Fatal(err)
	}
	if len(flocks[0].Members) != 1 || flocks[0].Members[0].GroupID != "room-a" {
		t.Fatalf("stale member survived re-save: %+v", flocks[0].Members)
	}

	if err := store.DeleteFlock("flock-1"); err != nil {
		t.Fatal(err)
	}
	flocks, err = store.LoadFlocks()
	if err != nil {
		t.Fatal(err)
	}
	if len(flocks) != 0 {
		t.Fatalf("flock survived delete: %+v", flocks)
	}
}
