package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/RohitKumar027/ReliabilityPortal/internal/config"
	"github.com/RohitKumar027/ReliabilityPortal/internal/db"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close(gdb) })
	return gdb
}

// exercise runs the Load/Save/Clear contract against s.
func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	data, err := s.Load(ctx)
	if err != nil || data != nil {
		t.Fatalf("Load on empty store = %q, %v; want nil, nil", data, err)
	}
	if err := s.Save(ctx, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	data, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(data) != `{"v":2}` {
		t.Errorf("Load = %s, want the latest save", data)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if data, err := s.Load(ctx); err != nil || data != nil {
		t.Errorf("Load after Clear = %q, %v", data, err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Errorf("Clear on empty store: %v", err)
	}
}

func TestSQL(t *testing.T) {
	exercise(t, NewSQL(testDB(t), "labData"))
}

func TestSQL_NamesAreIndependent(t *testing.T) {
	gdb := testDB(t)
	ctx := context.Background()
	a, b := NewSQL(gdb, "a"), NewSQL(gdb, "b")
	if err := a.Save(ctx, []byte("alpha")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if data, _ := b.Load(ctx); data != nil {
		t.Errorf("store b sees %q", data)
	}
}

func TestMemory(t *testing.T) {
	exercise(t, &Memory{})
}

func TestMemory_CopiesData(t *testing.T) {
	m := &Memory{}
	buf := []byte("abc")
	m.Save(context.Background(), buf)
	buf[0] = 'x'
	data, _ := m.Load(context.Background())
	if string(data) != "abc" {
		t.Errorf("Load = %q, want abc", data)
	}
}

func TestRedis_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	r := NewRedis(client, "labData")
	t.Cleanup(func() { r.Close() })

	_, err := r.Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "store: load labData") {
		t.Errorf("Load error = %v", err)
	}
	if err := r.Save(context.Background(), []byte("x")); err == nil {
		t.Error("Save should fail without a server")
	}
}

func TestOpen_SQLite(t *testing.T) {
	s, gdb, err := Open(config.StoreConfig{Driver: config.DriverSQLite, Path: ":memory:", Key: "labData"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close(gdb) })
	if gdb == nil {
		t.Fatal("SQL driver should return the gorm handle")
	}
	if _, ok := s.(*SQL); !ok {
		t.Errorf("store = %T, want *SQL", s)
	}
	exercise(t, s)
}

func TestOpen_Redis(t *testing.T) {
	s, gdb, err := Open(config.StoreConfig{Driver: config.DriverRedis, Key: "labData", Redis: config.RedisConfig{Addr: "127.0.0.1:1"}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if gdb != nil {
		t.Error("redis driver should not return a gorm handle")
	}
	r, ok := s.(*Redis)
	if !ok {
		t.Fatalf("store = %T, want *Redis", s)
	}
	r.Close()
}
