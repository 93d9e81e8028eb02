// Package config resolves dbdoctor settings from flags, environment, an
// optional .env.local file and an optional YAML file, in that precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dbdoctor/internal/db"

	"github.com/spf13/viper"
)

// Keys double as flag names. Environment variables are DBDOCTOR_<KEY> with
// dashes as underscores; a few keys also accept a conventional name.
const (
	KeyURL            = "url"
	KeyOverride       = "override"
	KeyTables         = "tables"
	KeyPoolMin        = "pool-min"
	KeyPoolMax        = "pool-max"
	KeyIdleTimeout    = "idle-timeout"
	KeyAcquireTimeout = "acquire-timeout"
	KeyQueryTimeout   = "query-timeout"
	KeyTimeout        = "timeout"
	KeyProbeTimeout   = "probe-timeout"
	KeyProbeSpacing   = "probe-spacing"
	KeyTLSOrder       = "tls-order"
	KeySchemes        = "schemes"
	KeyOrder          = "order"
	KeyPoolerHost     = "pooler-host"
	KeyPoolerRegions  = "pooler-regions"
	KeyPoolerProject  = "pooler-project"
	KeyPoolerPort     = "pooler-port"
	KeyPoolerUsers    = "pooler-users"
	KeyPoolerOnly     = "pooler-only"
	KeyConcurrency    = "concurrency"
	KeyFormat         = "format"
	KeyMetricsFile    = "metrics-file"
	KeyLogLevel       = "log-level"
	KeyLogFormat      = "log-format"
	KeyInterval       = "interval"
	KeyAdminAddr      = "admin-addr"
	KeyConfigFile     = "config"
	KeyEnvFile        = "env-file"
)

const EnvPrefix = "DBDOCTOR"

// DefaultEnvFile is read when present; a missing file is not an error.
const DefaultEnvFile = ".env.local"

// aliases are conventional variable names honoured next to DBDOCTOR_*.
var aliases = map[string]string{
	KeyURL:       "DATABASE_URL",
	KeyOverride:  "DATABASE_URL_OVERRIDE",
	KeyLogLevel:  "LOG_LEVEL",
	KeyLogFormat: "LOG_FORMAT",
}

type Config struct {
	DatabaseURL string
	OverrideURL string
	Tables      []string

	PoolMin        int32
	PoolMax        int32
	IdleTimeout    time.Duration
	AcquireTimeout time.Duration
	QueryTimeout   time.Duration

	Timeout      time.Duration
	ProbeTimeout time.Duration
	ProbeSpacing time.Duration
	TLSOrder     []string
	Schemes      []string
	Order        string

	PoolerHost    string
	PoolerRegions []string
	PoolerProject string
	PoolerPort    int
	PoolerUsers   []string
	PoolerOnly    bool

	Concurrency int
	Format      string
	MetricsFile string
	LogLevel    string
	LogFormat   string

	Interval  time.Duration
	AdminAddr string
}

// SetDefaults registers every default on v. Flags bound later keep these
// unless their own default differs.
func SetDefaults(v *viper.Viper) {
	po := db.DefaultOptions()
	v.SetDefault(KeyPoolMin, po.MinConns)
	v.SetDefault(KeyPoolMax, po.MaxConns)
	v.SetDefault(KeyIdleTimeout, po.IdleTimeout.String())
	v.SetDefault(KeyAcquireTimeout, po.AcquireTimeout.String())
	v.SetDefault(KeyQueryTimeout, "5s")
	v.SetDefault(KeyTimeout, "2m")
	v.SetDefault(KeyProbeTimeout, "10s")
	v.SetDefault(KeyProbeSpacing, "250ms")
	v.SetDefault(KeyTLSOrder, "system-verified,insecure-accept,disabled")
	v.SetDefault(KeyOrder, "tls-inner")
	v.SetDefault(KeyPoolerPort, 6543)
	v.SetDefault(KeyConcurrency, 3)
	v.SetDefault(KeyFormat, "text")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyInterval, "1m")
	v.SetDefault(KeyAdminAddr, ":8081")
	v.SetDefault(KeyEnvFile, DefaultEnvFile)
}

// Load reads the optional config and env files named in v, wires the
// environment, and decodes everything into a Config.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
		SetDefaults(v)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, alias := range aliases {
		if err := v.BindEnv(key, EnvPrefix+"_"+envName(key), alias); err != nil {
			return Config{}, err
		}
	}

	if path := strings.TrimSpace(v.GetString(KeyConfigFile)); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %v", db.ErrConfigurationInvalid, path, err)
		}
	}
	if err := mergeEnvFile(v, v.GetString(KeyEnvFile)); err != nil {
		return Config{}, err
	}

	return decode(v)
}

// mergeEnvFile layers a dotenv file over the YAML values, below real
// environment variables and flags.
func mergeEnvFile(v *viper.Viper, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: %s: %v", db.ErrConfigurationInvalid, path, err)
	}

	ev := viper.New()
	ev.SetConfigFile(path)
	ev.SetConfigType("env")
	if err := ev.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read %s: %v", db.ErrConfigurationInvalid, path, err)
	}

	byEnv := map[string]string{}
	for key, alias := range aliases {
		byEnv[strings.ToLower(alias)] = key
	}
	vals := map[string]any{}
	for _, name := range ev.AllKeys() {
		if key, ok := byEnv[name]; ok {
			vals[key] = ev.GetString(name)
			continue
		}
		if rest, ok := strings.CutPrefix(name, strings.ToLower(EnvPrefix)+"_"); ok {
			vals[strings.ReplaceAll(rest, "_", "-")] = ev.GetString(name)
		}
	}
	if len(vals) == 0 {
		return nil
	}
	return v.MergeConfigMap(vals)
}

func decode(v *viper.Viper) (Config, error) {
	d := decoder{v: v}
	c := Config{
		DatabaseURL:    strings.TrimSpace(v.GetString(KeyURL)),
		OverrideURL:    strings.TrimSpace(v.GetString(KeyOverride)),
		Tables:         d.list(KeyTables),
		PoolMin:        int32(d.integer(KeyPoolMin)),
		PoolMax:        int32(d.integer(KeyPoolMax)),
		IdleTimeout:    d.duration(KeyIdleTimeout),
		AcquireTimeout: d.duration(KeyAcquireTimeout),
		QueryTimeout:   d.duration(KeyQueryTimeout),
		Timeout:        d.duration(KeyTimeout),
		ProbeTimeout:   d.duration(KeyProbeTimeout),
		ProbeSpacing:   d.duration(KeyProbeSpacing),
		TLSOrder:       d.list(KeyTLSOrder),
		Schemes:        d.list(KeySchemes),
		Order:          v.GetString(KeyOrder),
		PoolerHost:     strings.TrimSpace(v.GetString(KeyPoolerHost)),
		PoolerRegions:  d.list(KeyPoolerRegions),
		PoolerProject:  strings.TrimSpace(v.GetString(KeyPoolerProject)),
		PoolerPort:     d.integer(KeyPoolerPort),
		PoolerUsers:    d.list(KeyPoolerUsers),
		PoolerOnly:     d.boolean(KeyPoolerOnly),
		Concurrency:    d.integer(KeyConcurrency),
		Format:         strings.ToLower(v.GetString(KeyFormat)),
		MetricsFile:    strings.TrimSpace(v.GetString(KeyMetricsFile)),
		LogLevel:       v.GetString(KeyLogLevel),
		LogFormat:      v.GetString(KeyLogFormat),
		Interval:       d.duration(KeyInterval),
		AdminAddr:      v.GetString(KeyAdminAddr),
	}
	if err := errors.Join(d.errs...); err != nil {
		return Config{}, fmt.Errorf("%w: %w", db.ErrConfigurationInvalid, err)
	}
	if c.PoolerPort < 0 || c.PoolerPort > 65535 {
		return Config{}, fmt.Errorf("%w: %s out of range: %d", db.ErrConfigurationInvalid, envVar(KeyPoolerPort), c.PoolerPort)
	}
	return c, nil
}

// decoder collects every malformed value instead of stopping at the first.
type decoder struct {
	v    *viper.Viper
	errs []error
}

func (d *decoder) duration(key string) time.Duration {
	raw := strings.TrimSpace(d.v.GetString(key))
	if raw == "" {
		return 0
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("%s: invalid duration %q", envVar(key), raw))
		return 0
	}
	if dur < 0 {
		d.errs = append(d.errs, fmt.Errorf("%s: must not be negative", envVar(key)))
		return 0
	}
	return dur
}

func (d *decoder) integer(key string) int {
	raw := strings.TrimSpace(d.v.GetString(key))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("%s: invalid integer %q", envVar(key), raw))
		return 0
	}
	return n
}

func (d *decoder) boolean(key string) bool {
	raw := strings.TrimSpace(d.v.GetString(key))
	if raw == "" {
		return false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("%s: invalid boolean %q", envVar(key), raw))
		return false
	}
	return b
}

// list accepts comma-separated strings as well as YAML sequences.
func (d *decoder) list(key string) []string {
	var parts []string
	switch val := d.v.Get(key).(type) {
	case nil:
		return nil
	case string:
		parts = strings.Split(val, ",")
	case []string:
		for _, s := range val {
			parts = append(parts, strings.Split(s, ",")...)
		}
	case []any:
		for _, s := range val {
			parts = append(parts, strings.Split(fmt.Sprint(s), ",")...)
		}
	default:
		parts = strings.Split(fmt.Sprint(val), ",")
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), "[]")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// envVar names the setting in messages the way a user most likely set it.
func envVar(key string) string {
	return EnvPrefix + "_" + envName(key)
}
