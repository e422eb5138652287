package db

import (
	"strings"
	"testing"
	"time"

	"github.com/RohitKumar027/ReliabilityPortal/internal/config"
	"github.com/RohitKumar027/ReliabilityPortal/internal/models"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		password string
		host     string
		port     int
		database string
		want     string
	}{
		{
			name:     "default local",
			user:     "root",
			host:     "127.0.0.1",
			port:     3306,
			database: "labyard",
			want:     "root@tcp(127.0.0.1:3306)/labyard?parseTime=true",
		},
		{
			name:     "with password",
			user:     "lab",
			password: "s3cret",
			host:     "10.0.0.5",
			port:     3307,
			database: "lab_prod",
			want:     "lab:s3cret@tcp(10.0.0.5:3307)/lab_prod?parseTime=true",
		},
		{
			name: "admin without database",
			user: "root",
			host: "db.lab.internal",
			port: 3306,
			want: "root@tcp(db.lab.internal:3306)/?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.user, tt.password, tt.host, tt.port, tt.database)
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAllModels_Count(t *testing.T) {
	if n := len(AllModels()); n != 2 {
		t.Errorf("AllModels() returned %d models, want 2", n)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.StoreConfig{Driver: config.DriverRedis})
	if err == nil || !strings.Contains(err.Error(), "has no SQL database") {
		t.Errorf("error = %v", err)
	}
}

func TestConnect_Error(t *testing.T) {
	// Port 1 is unlikely to have a MySQL server; expect connection error.
	_, err := Connect("root", "", "127.0.0.1", 1, "nonexistent")
	if err == nil {
		t.Fatal("expected error connecting to invalid port")
	}
	if !strings.Contains(err.Error(), "db: connect to") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db: connect to")
	}
}

func TestConnectAdmin_Error(t *testing.T) {
	_, err := ConnectAdmin("root", "", "127.0.0.1", 1)
	if err == nil {
		t.Fatal("expected error connecting to invalid port")
	}
	if !strings.Contains(err.Error(), "db: admin connect to") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db: admin connect to")
	}
}

func TestAutoMigrate_SQLite(t *testing.T) {
	db, err := Open(config.StoreConfig{Driver: config.DriverSQLite, Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { Close(db) })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !db.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}

	snap := models.Snapshot{Name: "labData", Data: `{"machines":[]}`, UpdatedAt: time.Now()}
	if err := db.Create(&snap).Error; err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	if err := Reset(db); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	var count int64
	db.Model(&models.Snapshot{}).Count(&count)
	if count != 0 {
		t.Errorf("snapshots after reset = %d, want 0", count)
	}
}

func TestClose_Nil(t *testing.T) {
	if err := Close(nil); err != nil {
		t.Errorf("Close(nil) = %v", err)
	}
}
