// Package config provides YAML-based configuration loading for the lab
// scheduler, with LAB_* environment variables overriding secrets and ports.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/RohitKumar027/ReliabilityPortal/internal/lab"
	"github.com/RohitKumar027/ReliabilityPortal/internal/metrics"
	"github.com/RohitKumar027/ReliabilityPortal/internal/scheduler"
	"github.com/RohitKumar027/ReliabilityPortal/internal/shift"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverRedis  = "redis"
)

// Config is the top-level lab configuration, loaded from labyard.yaml.
type Config struct {
	Lab         LabConfig              `yaml:"lab"`
	Store       StoreConfig            `yaml:"store"`
	Shifts      []shift.Shift          `yaml:"shifts"`
	Machines    []MachineConfig        `yaml:"machines"`
	Technicians []TechnicianConfig     `yaml:"technicians"`
	CatalogPath string                 `yaml:"catalog_path" env:"LAB_CATALOG_PATH"`
	Scheduler   SchedulerConfig        `yaml:"scheduler"`
	Capacity    metrics.CapacityConfig `yaml:"capacity"`
	Schedule    ScheduleConfig         `yaml:"schedule"`
	Dashboard   DashboardConfig        `yaml:"dashboard"`
	Reports     ReportsConfig          `yaml:"reports"`
	Notify      NotifyConfig           `yaml:"notify"`
	Log         LogConfig              `yaml:"log"`
}

// LabConfig names the lab.
type LabConfig struct {
	Name string `yaml:"name" env:"LAB_NAME"`
}

// StoreConfig selects and configures the snapshot backend.
type StoreConfig struct {
	Driver   string      `yaml:"driver" env:"LAB_STORE_DRIVER"`
	Key      string      `yaml:"key"`
	Path     string      `yaml:"path" env:"LAB_STORE_PATH"`
	Host     string      `yaml:"host" env:"LAB_MYSQL_HOST"`
	Port     int         `yaml:"port" env:"LAB_MYSQL_PORT"`
	Database string      `yaml:"database" env:"LAB_MYSQL_DATABASE"`
	User     string      `yaml:"user" env:"LAB_MYSQL_USER"`
	Password string      `yaml:"password" env:"LAB_MYSQL_PASSWORD"`
	Redis    RedisConfig `yaml:"redis"`
}

// RedisConfig holds go-redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"LAB_REDIS_ADDR"`
	Password string `yaml:"password" env:"LAB_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"LAB_REDIS_DB"`
}

// MachineConfig seeds one machine.
type MachineConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// TechnicianConfig seeds one technician.
type TechnicianConfig struct {
	ID    string   `yaml:"id"`
	Name  string   `yaml:"name"`
	Shift shift.ID `yaml:"shift"`
}

// SchedulerConfig tunes allocation. ExclusiveMachines is a pointer so an
// explicit false survives defaulting.
type SchedulerConfig struct {
	MachineDepthCap   int     `yaml:"machine_depth_cap"`
	ExclusiveMachines *bool   `yaml:"exclusive_machines"`
	FullShiftHours    float64 `yaml:"full_shift_hours"`
	Unattended        string  `yaml:"unattended"`
}

// ScheduleConfig holds the cron specs of the supervisor's periodic jobs.
type ScheduleConfig struct {
	Handover string `yaml:"handover"`
	Rescan   string `yaml:"rescan"`
	Autosave string `yaml:"autosave"`
}

// DashboardConfig configures the HTTP API.
type DashboardConfig struct {
	Port           int      `yaml:"port" env:"LAB_DASHBOARD_PORT"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ReportsConfig configures the SKU report sink.
type ReportsConfig struct {
	Dir string `yaml:"dir" env:"LAB_REPORTS_DIR"`
}

// NotifyConfig holds chat notifier credentials. Empty values disable the
// corresponding notifier.
type NotifyConfig struct {
	SlackWebhook   string `yaml:"slack_webhook" env:"LAB_SLACK_WEBHOOK"`
	DiscordToken   string `yaml:"discord_token" env:"LAB_DISCORD_TOKEN"`
	DiscordChannel string `yaml:"discord_channel" env:"LAB_DISCORD_CHANNEL"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"LAB_LOG_LEVEL"`
	Format string `yaml:"format" env:"LAB_LOG_FORMAT"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) {
	return Parse(nil)
}

// Parse unmarshals YAML bytes, overlays the environment and returns a
// validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.Lab.Name == "" {
		c.Lab.Name = "Reliability Lab"
	}
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.Key == "" {
		c.Store.Key = "labData"
	}
	if c.Store.Path == "" {
		c.Store.Path = "labyard.db"
	}
	if c.Store.Host == "" {
		c.Store.Host = "127.0.0.1"
	}
	if c.Store.Port == 0 {
		c.Store.Port = 3306
	}
	if c.Store.Database == "" {
		c.Store.Database = "labyard"
	}
	if c.Store.User == "" {
		c.Store.User = "root"
	}
	if c.Store.Redis.Addr == "" {
		c.Store.Redis.Addr = "127.0.0.1:6379"
	}
	if len(c.Shifts) == 0 {
		c.Shifts = shift.DefaultShifts()
	}
	for i := range c.Machines {
		if c.Machines[i].Name == "" {
			c.Machines[i].Name = c.Machines[i].ID
		}
	}

	def := scheduler.DefaultPolicy()
	if c.Scheduler.MachineDepthCap == 0 {
		c.Scheduler.MachineDepthCap = def.MachineDepthCap
	}
	if c.Scheduler.ExclusiveMachines == nil {
		exclusive := def.ExclusiveMachines
		c.Scheduler.ExclusiveMachines = &exclusive
	}
	if c.Scheduler.FullShiftHours == 0 {
		c.Scheduler.FullShiftHours = def.FullShiftHours
	}
	if c.Scheduler.Unattended == "" {
		c.Scheduler.Unattended = string(def.Unattended)
	}

	capDef := metrics.DefaultCapacityConfig()
	if c.Capacity.QueueSaturation == 0 {
		c.Capacity.QueueSaturation = capDef.QueueSaturation
	}
	if c.Capacity.PendingSaturation == 0 {
		c.Capacity.PendingSaturation = capDef.PendingSaturation
	}

	if c.Schedule.Handover == "" {
		c.Schedule.Handover = "* * * * *"
	}
	if c.Schedule.Rescan == "" {
		c.Schedule.Rescan = "@every 1m"
	}
	if c.Schedule.Autosave == "" {
		c.Schedule.Autosave = "@every 5m"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Reports.Dir == "" {
		c.Reports.Dir = "reports"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Store.Driver {
	case DriverSQLite, DriverMySQL, DriverRedis:
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite, mysql or redis", c.Store.Driver))
	}

	cal, err := shift.NewCalendar(c.Shifts)
	if err != nil {
		errs = append(errs, err.Error())
	}

	machineIDs := make(map[string]bool, len(c.Machines))
	for i, m := range c.Machines {
		if m.ID == "" {
			errs = append(errs, fmt.Sprintf("machines[%d].id is required", i))
		}
		if m.Type == "" {
			errs = append(errs, fmt.Sprintf("machines[%d].type is required", i))
		}
		if m.ID != "" && machineIDs[m.ID] {
			errs = append(errs, fmt.Sprintf("machine %q is defined twice", m.ID))
		}
		machineIDs[m.ID] = true
	}

	techKeys := make(map[string]bool, 2*len(c.Technicians))
	for i, t := range c.Technicians {
		if t.ID == "" {
			errs = append(errs, fmt.Sprintf("technicians[%d].id is required", i))
		}
		if t.Name == "" {
			errs = append(errs, fmt.Sprintf("technicians[%d].name is required", i))
		}
		if cal != nil && !cal.Has(t.Shift) {
			errs = append(errs, fmt.Sprintf("technicians[%d].shift %q is not a configured shift", i, t.Shift))
		}
		if (t.ID != "" && techKeys["id:"+t.ID]) || (t.Name != "" && techKeys["name:"+t.Name]) {
			errs = append(errs, fmt.Sprintf("technician %q is defined twice", t.ID))
		}
		techKeys["id:"+t.ID] = true
		techKeys["name:"+t.Name] = true
	}

	if c.Scheduler.MachineDepthCap < 1 {
		errs = append(errs, "scheduler.machine_depth_cap must be at least 1")
	}
	if c.Scheduler.FullShiftHours <= 0 {
		errs = append(errs, "scheduler.full_shift_hours must be positive")
	}
	switch scheduler.UnattendedPolicy(c.Scheduler.Unattended) {
	case scheduler.UnattendedAllow, scheduler.UnattendedHold:
	default:
		errs = append(errs, fmt.Sprintf("scheduler.unattended %q must be allow or hold", c.Scheduler.Unattended))
	}
	if c.Capacity.QueueSaturation < 0 || c.Capacity.PendingSaturation < 0 {
		errs = append(errs, "capacity saturation points must be positive")
	}

	for _, job := range []struct{ name, spec string }{
		{"schedule.handover", c.Schedule.Handover},
		{"schedule.rescan", c.Schedule.Rescan},
		{"schedule.autosave", c.Schedule.Autosave},
	} {
		if _, err := cron.ParseStandard(job.spec); err != nil {
			errs = append(errs, fmt.Sprintf("%s %q: %v", job.name, job.spec, err))
		}
	}

	if c.Dashboard.Port < 1 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Sprintf("dashboard.port %d is out of range", c.Dashboard.Port))
	}
	if c.Notify.DiscordToken != "" && c.Notify.DiscordChannel == "" {
		errs = append(errs, "notify.discord_channel is required with discord_token")
	}
	if _, ok := logLevels[strings.ToLower(c.Log.Level)]; !ok {
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	return logLevels[strings.ToLower(c.Log.Level)]
}

// Calendar builds the shift calendar.
func (c *Config) Calendar() (*shift.Calendar, error) {
	return shift.NewCalendar(c.Shifts)
}

// Policy returns the scheduler policy.
func (c *Config) Policy() scheduler.Policy {
	p := scheduler.Policy{
		MachineDepthCap: c.Scheduler.MachineDepthCap,
		FullShiftHours:  c.Scheduler.FullShiftHours,
		Unattended:      scheduler.UnattendedPolicy(c.Scheduler.Unattended),
	}
	if c.Scheduler.ExclusiveMachines != nil {
		p.ExclusiveMachines = *c.Scheduler.ExclusiveMachines
	}
	return p
}

// InitialState returns a state seeded with the configured machines and
// technicians. A loaded snapshot is merged over it.
func (c *Config) InitialState() *lab.State {
	st := lab.NewState()
	for _, m := range c.Machines {
		st.Machines = append(st.Machines, lab.Machine{ID: m.ID, Name: m.Name, Type: m.Type})
	}
	for _, t := range c.Technicians {
		st.Technicians = append(st.Technicians, lab.Technician{ID: t.ID, Name: t.Name, Shift: t.Shift})
	}
	return st
}
