package kv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/live-notifier/testutil"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store, ns string) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, ns+"missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v, want absent", ok, err)
	}
	if err := s.Set(ctx, ns+"subs:t1", `["youtube:uc1"]`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, ns+"subs:t1", `["youtube:uc1","twitch:123"]`); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	if err := s.Set(ctx, ns+"subs:t2", `[]`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, ns+"state:t1", `{}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get(ctx, ns+"subs:t1")
	if err != nil || !ok || v != `["youtube:uc1","twitch:123"]` {
		t.Fatalf("Get = %q ok=%v err=%v", v, ok, err)
	}

	keys, err := s.Keys(ctx, ns+"subs:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != ns+"subs:t1" || keys[1] != ns+"subs:t2" {
		t.Fatalf("Keys(subs:) = %v", keys)
	}

	if err := s.Delete(ctx, ns+"subs:t1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, ns+"subs:t1"); ok {
		t.Fatal("key still present after Delete")
	}
	if err := s.Delete(ctx, ns+"never-set"); err != nil {
		t.Fatalf("Delete of absent key should succeed, got %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemory()
	exerciseStore(t, m, "")
	if m.SetCalls() != 4 {
		t.Errorf("SetCalls = %d, want 4", m.SetCalls())
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state", "kv.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s, "")
}

func TestSQLiteKeysEscapesLikeMetacharacters(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	_ = s.Set(ctx, "job_a", "1")
	_ = s.Set(ctx, "jobXa", "1")
	keys, err := s.Keys(ctx, "job_")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "job_a" {
		t.Fatalf("Keys(job_) = %v, want [job_a]", keys)
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	s, err := OpenPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s, "test-"+uuid.NewString()+":")
}

// The embedded schema fallback must serve the store as well as the versioned migrations.
func TestPostgresStoreOnEmbeddedSchema(t *testing.T) {
	database := testutil.SetupTestDB(t)
	exerciseStore(t, NewPostgres(database), "embedded:")
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ns := "test-" + uuid.NewString() + ":"
	s, err := OpenRedis(context.Background(), url, ns)
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s, "")
}

func TestOpenDrivers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Open(ctx, Config{})
	if err != nil {
		t.Fatalf("Open(default): %v", err)
	}
	if _, ok := s.(*Memory); !ok {
		t.Errorf("default driver = %T, want *Memory", s)
	}

	s, err = Open(ctx, Config{Driver: "SQLite", SQLitePath: filepath.Join(t.TempDir(), "kv.db")})
	if err != nil {
		t.Fatalf("Open(sqlite): %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLite); !ok {
		t.Errorf("sqlite driver = %T", s)
	}

	if _, err := Open(ctx, Config{Driver: "etcd"}); !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("Open(etcd) error = %v, want ErrUnknownDriver", err)
	}
	if _, err := Open(ctx, Config{Driver: "redis"}); err == nil {
		t.Error("Open(redis) without url should fail")
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	type rec struct {
		ExternalID  string `json:"externalId"`
		DisplayName string `json:"displayName"`
	}
	if ok, err := GetJSON(ctx, s, "catalog:youtube:uc1", &rec{}); ok || err != nil {
		t.Fatalf("GetJSON(absent) = %v %v", ok, err)
	}
	if err := SetJSON(ctx, s, "catalog:youtube:uc1", rec{ExternalID: "UC1", DisplayName: "One"}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	var got rec
	if ok, err := GetJSON(ctx, s, "catalog:youtube:uc1", &got); !ok || err != nil {
		t.Fatalf("GetJSON = %v %v", ok, err)
	}
	if got.ExternalID != "UC1" || got.DisplayName != "One" {
		t.Fatalf("round trip = %+v", got)
	}

	_ = s.Set(ctx, "bad", "{not json")
	if ok, err := GetJSON(ctx, s, "bad", &got); !ok || err == nil {
		t.Fatalf("GetJSON(corrupt) = %v %v, want ok with error", ok, err)
	}
}
