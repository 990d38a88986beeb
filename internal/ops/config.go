// Package ops resolves the flat key/value settings an instance starts with.
//
// Sources, later ones winning: the YAML file, the .env file, the process
// environment. Any QuotingParameters json key overrides the parameter defaults.
package ops

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gopkg.in/yaml.v3"

	"marketmaker/internal/chaos"
	"marketmaker/internal/gateway/null"
	"marketmaker/internal/params"
	"marketmaker/internal/schema"
	"marketmaker/pkg/conn"
	"marketmaker/pkg/exception"
)

// Settings keys.
const (
	KeyExchange               = "EXCHANGE"
	KeyTradedPair             = "TradedPair"
	KeyBotIdentifier          = "BotIdentifier"
	KeyWebClientListenPort    = "WebClientListenPort"
	KeyMetricsListenAddr      = "MetricsListenAddr"
	KeyPostgresURL            = "PostgresURL"
	KeyPostgresHost           = "PostgresHost"
	KeyPostgresPort           = "PostgresPort"
	KeyPostgresUser           = "PostgresUser"
	KeyPostgresPassword       = "PostgresPassword"
	KeyPostgresDatabase       = "PostgresDatabase"
	KeyPostgresSSLMode        = "PostgresSSLMode"
	KeyShutdownTimeout        = "ShutdownTimeout"
	KeyPyroscopeURL           = "PyroscopeURL"
	KeyQueueSize              = "QueueSize"
	KeyTimerInterval          = "TimerInterval"
	KeyStatsPersistInterval   = "StatsPersistInterval"
	KeyTradesHistoryLimit     = "TradesHistoryLimit"
	KeyAutoStart              = "AutoStart"
	KeyNullStartPrice         = "NullStartPrice"
	KeyNullMinTick            = "NullMinTick"
	KeyNullInterval           = "NullInterval"
	KeyNullSeed               = "NullSeed"
	KeyNullBaseAmount         = "NullBaseAmount"
	KeyNullQuoteAmount        = "NullQuoteAmount"
	KeyNullChaosDropRate      = "NullChaosDropRate"
	KeyNullChaosDuplicateRate = "NullChaosDuplicateRate"
	KeyNullChaosReorderWindow = "NullChaosReorderWindow"
)

var settingKeys = []string{
	KeyExchange, KeyTradedPair, KeyBotIdentifier, KeyWebClientListenPort,
	KeyMetricsListenAddr, KeyPostgresURL, KeyPostgresHost, KeyPostgresPort,
	KeyPostgresUser, KeyPostgresPassword, KeyPostgresDatabase, KeyPostgresSSLMode,
	KeyShutdownTimeout, KeyPyroscopeURL,
	KeyQueueSize, KeyTimerInterval, KeyStatsPersistInterval, KeyTradesHistoryLimit,
	KeyAutoStart, KeyNullStartPrice, KeyNullMinTick, KeyNullInterval, KeyNullSeed,
	KeyNullBaseAmount, KeyNullQuoteAmount, KeyNullChaosDropRate,
	KeyNullChaosDuplicateRate, KeyNullChaosReorderWindow,
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Exchange             schema.Exchange
	Pair                 schema.Pair
	BotIdentifier        string
	WebListenAddr        string
	MetricsListenAddr    string
	Postgres             conn.Option
	PyroscopeURL         string
	ShutdownTimeout      time.Duration
	QueueSize            int
	TimerInterval        time.Duration
	StatsPersistInterval time.Duration
	TradesHistoryLimit   int
	AutoStart            bool
	Null                 null.Config
	Params               params.QuotingParameters
}

// Source locates the settings files. Empty paths are skipped.
type Source struct {
	File    string
	EnvFile string
	// Environ overrides the process environment lookup.
	Environ func(key string) (string, bool)
}

// Load resolves settings from src.
func Load(src Source) (Loaded, error) {
	kv, err := collect(src)
	if err != nil {
		return Loaded{}, err
	}
	return resolve(kv)
}

func collect(src Source) (map[string]any, error) {
	kv := make(map[string]any)

	if src.File != "" {
		data, err := os.ReadFile(src.File)
		if err != nil {
			return nil, errors.Wrap(err, "read config file").With("path", src.File)
		}
		if err := yaml.Unmarshal(data, &kv); err != nil {
			return nil, errors.Wrap(exception.ErrInvalidConfig, "malformed yaml: "+err.Error()).With("path", src.File)
		}
	}

	if src.EnvFile != "" {
		env, err := godotenv.Read(src.EnvFile)
		if err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "read env file").With("path", src.EnvFile)
		}
		for k, v := range env {
			kv[k] = scalar(v)
		}
	}

	lookup := src.Environ
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, k := range settingKeys {
		if v, ok := lookup(k); ok {
			kv[k] = scalar(v)
		}
	}
	for k := range params.Keys() {
		if v, ok := lookup(k); ok {
			kv[k] = scalar(v)
		}
	}
	return kv, nil
}

func resolve(kv map[string]any) (Loaded, error) {
	var (
		l   Loaded
		err error
		r   = reader{kv: kv}
	)

	l.Exchange, err = schema.ParseExchange(r.str(KeyExchange, ""))
	if err != nil {
		return Loaded{}, err
	}
	l.Pair, err = schema.ParsePair(r.str(KeyTradedPair, ""))
	if err != nil {
		return Loaded{}, err
	}

	l.BotIdentifier = r.str(KeyBotIdentifier, "marketmaker")
	l.WebListenAddr = listenAddr(r.str(KeyWebClientListenPort, "3000"))
	l.MetricsListenAddr = r.str(KeyMetricsListenAddr, ":9090")
	l.Postgres = conn.Option{
		ConnString: r.str(KeyPostgresURL, ""),
		Host:       r.str(KeyPostgresHost, ""),
		Port:       r.int(KeyPostgresPort, 0),
		User:       r.str(KeyPostgresUser, ""),
		Password:   r.str(KeyPostgresPassword, ""),
		Database:   r.str(KeyPostgresDatabase, ""),
		SSLMode:    r.str(KeyPostgresSSLMode, ""),
	}
	l.PyroscopeURL = r.str(KeyPyroscopeURL, "")
	l.ShutdownTimeout = r.duration(KeyShutdownTimeout, 2*time.Second)
	l.QueueSize = r.int(KeyQueueSize, 4096)
	l.TimerInterval = r.duration(KeyTimerInterval, time.Second)
	l.StatsPersistInterval = r.duration(KeyStatsPersistInterval, time.Minute)
	l.TradesHistoryLimit = r.int(KeyTradesHistoryLimit, 10000)
	l.AutoStart = r.bool(KeyAutoStart, true)

	nc := null.DefaultConfig()
	nc.StartPrice = r.float(KeyNullStartPrice, nc.StartPrice)
	nc.MinTick = r.float(KeyNullMinTick, nc.MinTick)
	nc.Interval = r.duration(KeyNullInterval, nc.Interval)
	nc.Seed = int64(r.int(KeyNullSeed, 0))
	nc.BaseAmount = r.float(KeyNullBaseAmount, nc.BaseAmount)
	nc.QuoteAmount = r.float(KeyNullQuoteAmount, nc.QuoteAmount)
	nc.Chaos = chaos.Config{
		DropRate:      r.float(KeyNullChaosDropRate, 0),
		DuplicateRate: r.float(KeyNullChaosDuplicateRate, 0),
		ReorderWindow: r.int(KeyNullChaosReorderWindow, 1),
	}
	l.Null = nc

	if r.err != nil {
		return Loaded{}, r.err
	}
	if l.ShutdownTimeout <= 0 || l.TimerInterval <= 0 || l.QueueSize <= 0 {
		return Loaded{}, errors.Wrap(exception.ErrInvalidConfig, "timeouts, intervals and queue size must be positive")
	}
	if err := nc.Chaos.Validate(); err != nil {
		return Loaded{}, err
	}

	patch := make(map[string]any)
	known := params.Keys()
	for k, v := range kv {
		if _, ok := known[k]; ok {
			patch[k] = v
			continue
		}
		if !isSettingKey(k) {
			logs.Infof("config: ignoring unknown key %s", k)
		}
	}
	p, err := params.Defaults().Patch(patch)
	if err != nil {
		return Loaded{}, err
	}
	if err := p.Validate(); err != nil {
		return Loaded{}, err
	}
	l.Params = p

	return l, nil
}

func isSettingKey(k string) bool {
	for _, s := range settingKeys {
		if s == k {
			return true
		}
	}
	return false
}

func listenAddr(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

// scalar turns an environment string into the value YAML would have produced.
func scalar(s string) any {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

// reader converts loosely typed values and keeps the first failure.
type reader struct {
	kv  map[string]any
	err error
}

func (r *reader) fail(key string, v any) {
	if r.err == nil {
		r.err = errors.Wrap(exception.ErrInvalidConfig, "malformed value for "+key).With("value", v)
	}
}

func (r *reader) str(key, def string) string {
	v, ok := r.kv[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	r.fail(key, v)
	return def
}

func (r *reader) float(key string, def float64) float64 {
	v, ok := r.kv[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float64:
		return t
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	r.fail(key, v)
	return def
}

func (r *reader) int(key string, def int) int {
	v, ok := r.kv[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		if t == float64(int(t)) {
			return int(t)
		}
	case string:
		if i, err := strconv.Atoi(t); err == nil {
			return i
		}
	}
	r.fail(key, v)
	return def
}

func (r *reader) bool(key string, def bool) bool {
	v, ok := r.kv[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
	}
	r.fail(key, v)
	return def
}

// duration accepts Go duration strings or a number of seconds.
func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.kv[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		if d, err := time.ParseDuration(t); err == nil {
			return d
		}
	case int:
		return time.Duration(t) * time.Second
	case int64:
		return time.Duration(t) * time.Second
	case float64:
		return time.Duration(t * float64(time.Second))
	}
	r.fail(key, v)
	return def
}
