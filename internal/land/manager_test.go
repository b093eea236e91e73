package land

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestRealm(t *testing.T) *Realm {
	t.Helper()
	r := NewRealm(RealmOptions{ShutdownGrace: 100 * time.Millisecond})
	t.Cleanup(r.Shutdown)
	return r
}

func TestRegisterDefinition(t *testing.T) {
	r := newTestRealm(t)
	def := clickerDefinition()
	if err := r.RegisterDefinition(def); err != nil {
		t.Fatalf("RegisterDefinition() error = %v", err)
	}
	if _, ok := r.Definition("clicker"); !ok {
		t.Fatal("registered land type not found")
	}
	if err := r.RegisterDefinition(clickerDefinition()); !errors.Is(err, ErrDuplicateLandType) {
		t.Fatalf("duplicate registration error = %v, want ErrDuplicateLandType", err)
	}
}

func TestRegisterDefinitionValidates(t *testing.T) {
	r := newTestRealm(t)
	bad := clickerDefinition()
	bad.NewState = nil
	if err := r.RegisterDefinition(bad); err == nil {
		t.Fatal("definition without a state factory was accepted")
	}
	noType := clickerDefinition()
	noType.LandType = ""
	if err := r.RegisterDefinition(noType); !errors.Is(err, ErrInvalidLandType) {
		t.Fatalf("empty land type error = %v, want ErrInvalidLandType", err)
	}
}

func TestResolveJoinUnknownType(t *testing.T) {
	r := newTestRealm(t)
	if _, err := r.ResolveJoin("nowhere", ""); !errors.Is(err, ErrUnknownLandType) {
		t.Fatalf("ResolveJoin error = %v, want ErrUnknownLandType", err)
	}
}

func TestResolveJoinPrivateLand(t *testing.T) {
	r := newTestRealm(t)
	def := clickerDefinition()
	def.AllowPublic = false
	if err := r.RegisterDefinition(def); err != nil {
		t.Fatalf("RegisterDefinition() error = %v", err)
	}

	// A client join never creates a private land.
	if _, err := r.ResolveJoin("clicker", ""); !errors.Is(err, ErrLandNotPublic) {
		t.Fatalf("ResolveJoin error = %v, want ErrLandNotPublic", err)
	}
	if _, ok := r.Manager().Get(NewLandID("clicker", "")); ok {
		t.Fatal("refused join created the land anyway")
	}

	// Once the server creates the instance, joins route to it.
	created, err := r.Manager().GetOrCreate(NewLandID("clicker", ""), def)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	k, err := r.ResolveJoin("clicker", "")
	if err != nil {
		t.Fatalf("ResolveJoin() error = %v", err)
	}
	if k != created {
		t.Fatal("join resolved to a different keeper than the server created")
	}
}

func TestResolveJoinSingleRoomCanonicalInstance(t *testing.T) {
	r := newTestRealm(t)
	if err := r.RegisterDefinition(clickerDefinition()); err != nil {
		t.Fatalf("RegisterDefinition() error = %v", err)
	}
	a, err := r.ResolveJoin("clicker", "")
	if err != nil {
		t.Fatalf("ResolveJoin() error = %v", err)
	}
	b, err := r.ResolveJoin("clicker", "")
	if err != nil {
		t.Fatalf("ResolveJoin() error = %v", err)
	}
	if a != b {
		t.Fatal("single-room land resolved to two keepers")
	}
	if a.ID.String() != "clicker" {
		t.Fatalf("single-room land id = %q, want bare land type", a.ID.String())
	}
}

func TestResolveJoinMultiRoomMintsInstances(t *testing.T) {
	r := newTestRealm(t)
	def := clickerDefinition()
	def.MultiRoom = true
	if err := r.RegisterDefinition(def); err != nil {
		t.Fatalf("RegisterDefinition() error = %v", err)
	}
	a, err := r.ResolveJoin("clicker", "")
	if err != nil {
		t.Fatalf("ResolveJoin() error = %v", err)
	}
	b, err := r.ResolveJoin("clicker", "")
	if err != nil {
		t.Fatalf("ResolveJoin() error = %v", err)
	}
	if a == b {
		t.Fatal("multi-room joins without an instance shared a keeper")
	}

	// explicit instanceID routes back to the existing room
	c, err := r.ResolveJoin("clicker", a.ID.Instance)
	if err != nil {
		t.Fatalf("ResolveJoin() error = %v", err)
	}
	if c != a {
		t.Fatal("explicit instance id did not resolve to the existing keeper")
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	r := newTestRealm(t)
	def := clickerDefinition()
	if err := r.RegisterDefinition(def); err != nil {
		t.Fatalf("RegisterDefinition() error = %v", err)
	}
	id := NewLandID("clicker", "room-1")
	keepers := make([]*Keeper, 8)
	var wg sync.WaitGroup
	for i := range keepers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k, err := r.Manager().GetOrCreate(id, def)
			if err != nil {
				t.Errorf("GetOrCreate() error = %v", err)
				return
			}
			keepers[i] = k
		}(i)
	}
	wg.Wait()
	for i := 1; i < len(keepers); i++ {
		if keepers[i] != keepers[0] {
			t.Fatal("concurrent GetOrCreate created distinct keepers")
		}
	}
}

func TestManagerRemove(t *testing.T) {
	r := newTestRealm(t)
	def := clickerDefinition()
	finalized := make(chan struct{})
	def.AfterFinalize = func(state any) { close(finalized) }
	if err := r.RegisterDefinition(def); err != nil {
		t.Fatalf("RegisterDefinition() error = %v", err)
	}
	k, err := r.ResolveJoin("clicker", "")
	if err != nil {
		t.Fatalf("ResolveJoin() error = %v", err)
	}

	r.Manager().Remove(k.ID)
	select {
	case <-finalized:
	case <-time.After(2 * time.Second):
		t.Fatal("afterFinalize never ran")
	}
	if _, ok := r.Manager().Get(k.ID); ok {
		t.Fatal("removed land still registered")
	}
	// removal is idempotent
	r.Manager().Remove(k.ID)

	if k.EnqueueAction("s1", "add", nil, "a1") {
		t.Fatal("stopped keeper accepted an op")
	}
}

func TestManagerEnumerate(t *testing.T) {
	r := newTestRealm(t)
	def := clickerDefinition()
	def.MultiRoom = true
	if err := r.RegisterDefinition(def); err != nil {
		t.Fatalf("RegisterDefinition() error = %v", err)
	}
	if _, err := r.ResolveJoin("clicker", "b-room"); err != nil {
		t.Fatalf("ResolveJoin() error = %v", err)
	}
	if _, err := r.ResolveJoin("clicker", "a-room"); err != nil {
		t.Fatalf("ResolveJoin() error = %v", err)
	}

	got := r.Manager().Enumerate()
	if len(got) != 2 {
		t.Fatalf("Enumerate() returned %d lands, want 2", len(got))
	}
	if got[0].LandID != "clicker:a-room" || got[1].LandID != "clicker:b-room" {
		t.Fatalf("Enumerate() order = [%s %s], want id-sorted", got[0].LandID, got[1].LandID)
	}
	if got[0].LandType != "clicker" {
		t.Fatalf("LandType = %q", got[0].LandType)
	}
}

func TestRealmShutdownStopsLands(t *testing.T) {
	r := NewRealm(RealmOptions{ShutdownGrace: 100 * time.Millisecond})
	def := clickerDefinition()
	if err := r.RegisterDefinition(def); err != nil {
		t.Fatalf("RegisterDefinition() error = %v", err)
	}
	k, err := r.ResolveJoin("clicker", "")
	if err != nil {
		t.Fatalf("ResolveJoin() error = %v", err)
	}

	r.Shutdown()
	select {
	case <-k.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("keeper loop did not stop on shutdown")
	}
	if len(r.Manager().Enumerate()) != 0 {
		t.Fatal("lands survived realm shutdown")
	}
}
