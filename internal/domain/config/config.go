package config

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/khanhnv2901/seca-trust/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/seca-trust/internal/shared/errors"
)

// Wire keys accepted in a raw configuration object.
const (
	KeyDeviceFingerprint  = "enableDeviceFingerprint"
	KeyHSM                = "enableHSM"
	KeyBiometric          = "enableBiometric"
	KeyZKP                = "enableZKP"
	KeyCSP                = "enableCSP"
	KeyTLS                = "enableTLS"
	KeyHeaders            = "enableHeaders"
	KeyCrypto             = "enableCrypto"
	KeyStorage            = "enableStorage"
	KeyDOMProtection      = "enableDOMProtection"
	KeyCertificatePinning = "enableCertificatePinning"
	KeyGDPRCompliance     = "enableGDPRCompliance"
	KeyThreatDetection    = "enableThreatDetection"
	KeySOC2Compliance     = "enableSOC2Compliance"

	KeyTimeoutMs     = "timeoutMs"
	KeyRetryAttempts = "retryAttempts"
	KeyDelayMs       = "delayMs"
)

// FlagKeys lists the boolean feature flags in pipeline order.
var FlagKeys = []string{
	KeyDeviceFingerprint,
	KeyHSM,
	KeyBiometric,
	KeyZKP,
	KeyCSP,
	KeyTLS,
	KeyHeaders,
	KeyCrypto,
	KeyStorage,
	KeyDOMProtection,
	KeyCertificatePinning,
	KeyGDPRCompliance,
	KeyThreatDetection,
	KeySOC2Compliance,
}

// NumericKeys lists the bounded integer settings.
var NumericKeys = []string{KeyTimeoutMs, KeyRetryAttempts, KeyDelayMs}

// Config is the engine configuration. It is treated as an immutable value:
// updates produce a new Config which is validated as a whole.
type Config struct {
	EnableDeviceFingerprint  bool `json:"enableDeviceFingerprint" yaml:"enableDeviceFingerprint"`
	EnableHSM                bool `json:"enableHSM" yaml:"enableHSM"`
	EnableBiometric          bool `json:"enableBiometric" yaml:"enableBiometric"`
	EnableZKP                bool `json:"enableZKP" yaml:"enableZKP"`
	EnableCSP                bool `json:"enableCSP" yaml:"enableCSP"`
	EnableTLS                bool `json:"enableTLS" yaml:"enableTLS"`
	EnableHeaders            bool `json:"enableHeaders" yaml:"enableHeaders"`
	EnableCrypto             bool `json:"enableCrypto" yaml:"enableCrypto"`
	EnableStorage            bool `json:"enableStorage" yaml:"enableStorage"`
	EnableDOMProtection      bool `json:"enableDOMProtection" yaml:"enableDOMProtection"`
	EnableCertificatePinning bool `json:"enableCertificatePinning" yaml:"enableCertificatePinning"`
	EnableGDPRCompliance     bool `json:"enableGDPRCompliance" yaml:"enableGDPRCompliance"`
	EnableThreatDetection    bool `json:"enableThreatDetection" yaml:"enableThreatDetection"`
	EnableSOC2Compliance     bool `json:"enableSOC2Compliance" yaml:"enableSOC2Compliance"`

	TimeoutMs     int `json:"timeoutMs" yaml:"timeoutMs"`
	RetryAttempts int `json:"retryAttempts" yaml:"retryAttempts"`
	DelayMs       int `json:"delayMs" yaml:"delayMs"`
}

// ErrorKind classifies a configuration failure.
type ErrorKind string

const (
	KindNotObject     ErrorKind = "not-an-object"
	KindTimeout       ErrorKind = "timeout"
	KindRetry         ErrorKind = "retry"
	KindDelay         ErrorKind = "delay"
	KindFlag          ErrorKind = "flag"
	KindUnexpectedKey ErrorKind = "unexpected-keys"
)

var kindPrefix = map[ErrorKind]string{
	KindNotObject:     "Invalid configuration",
	KindTimeout:       "Invalid timeout configuration",
	KindRetry:         "Invalid retry configuration",
	KindDelay:         "Invalid delay configuration",
	KindFlag:          "Invalid flag configuration",
	KindUnexpectedKey: "Unexpected configuration keys",
}

// ConfigurationError reports a rejected configuration. The message always starts
// with a kind-specific prefix so callers can tell causes apart.
type ConfigurationError struct {
	Kind   ErrorKind
	Field  string
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", kindPrefix[e.Kind], e.Detail)
}

func (e *ConfigurationError) Unwrap() error {
	return sharedErrors.ErrConfiguration
}

// IsKind reports whether err is a ConfigurationError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr) && cfgErr.Kind == kind
}

// Default returns a configuration with every probe enabled.
func Default() Config {
	return Config{
		EnableDeviceFingerprint:  true,
		EnableHSM:                true,
		EnableBiometric:          true,
		EnableZKP:                true,
		EnableCSP:                true,
		EnableTLS:                true,
		EnableHeaders:            true,
		EnableCrypto:             true,
		EnableStorage:            true,
		EnableDOMProtection:      true,
		EnableCertificatePinning: true,
		EnableGDPRCompliance:     true,
		EnableThreatDetection:    true,
		EnableSOC2Compliance:     true,
		TimeoutMs:                constants.DefaultTimeoutMs,
		RetryAttempts:            constants.DefaultRetryAttempts,
		DelayMs:                  constants.DefaultDelayMs,
	}
}

// Validate checks the numeric bounds of a typed configuration.
func (c Config) Validate() error {
	if err := checkBounds(KeyTimeoutMs, c.TimeoutMs, constants.MinTimeoutMs, constants.MaxTimeoutMs, KindTimeout); err != nil {
		return err
	}
	if err := checkBounds(KeyRetryAttempts, c.RetryAttempts, constants.MinRetryAttempts, constants.MaxRetryAttempts, KindRetry); err != nil {
		return err
	}
	return checkBounds(KeyDelayMs, c.DelayMs, constants.MinDelayMs, constants.MaxDelayMs, KindDelay)
}

func checkBounds(field string, value, lo, hi int, kind ErrorKind) error {
	if value < lo || value > hi {
		return &ConfigurationError{
			Kind:   kind,
			Field:  field,
			Detail: fmt.Sprintf("%s must be an integer between %d and %d, got %d", field, lo, hi, value),
		}
	}
	return nil
}

// Flag returns the value of a boolean feature flag by wire key.
func (c Config) Flag(key string) bool {
	if ptr := c.flagPtr(key); ptr != nil {
		return *ptr
	}
	return false
}

func (c *Config) flagPtr(key string) *bool {
	switch key {
	case KeyDeviceFingerprint:
		return &c.EnableDeviceFingerprint
	case KeyHSM:
		return &c.EnableHSM
	case KeyBiometric:
		return &c.EnableBiometric
	case KeyZKP:
		return &c.EnableZKP
	case KeyCSP:
		return &c.EnableCSP
	case KeyTLS:
		return &c.EnableTLS
	case KeyHeaders:
		return &c.EnableHeaders
	case KeyCrypto:
		return &c.EnableCrypto
	case KeyStorage:
		return &c.EnableStorage
	case KeyDOMProtection:
		return &c.EnableDOMProtection
	case KeyCertificatePinning:
		return &c.EnableCertificatePinning
	case KeyGDPRCompliance:
		return &c.EnableGDPRCompliance
	case KeyThreatDetection:
		return &c.EnableThreatDetection
	case KeySOC2Compliance:
		return &c.EnableSOC2Compliance
	}
	return nil
}

// ToMap returns the wire representation of the configuration.
func (c Config) ToMap() map[string]any {
	out := make(map[string]any, len(FlagKeys)+len(NumericKeys))
	for _, key := range FlagKeys {
		out[key] = c.Flag(key)
	}
	out[KeyTimeoutMs] = c.TimeoutMs
	out[KeyRetryAttempts] = c.RetryAttempts
	out[KeyDelayMs] = c.DelayMs
	return out
}

// Merge overlays partial onto the current configuration and validates the result
// as a whole. The receiver is never modified.
func (c Config) Merge(partial map[string]any) (Config, error) {
	merged := c.ToMap()
	for k, v := range partial {
		merged[k] = v
	}
	return Parse(merged)
}

// Parse validates a raw configuration object and converts it into a Config.
// The object must contain exactly the declared keys.
func Parse(raw any) (Config, error) {
	obj, err := asObject(raw)
	if err != nil {
		return Config{}, err
	}

	if unexpected := unexpectedKeys(obj); len(unexpected) > 0 {
		return Config{}, &ConfigurationError{
			Kind:   KindUnexpectedKey,
			Field:  unexpected[0],
			Detail: strings.Join(unexpected, ", "),
		}
	}

	cfg := Config{}

	numeric := []struct {
		key    string
		lo, hi int
		kind   ErrorKind
		dst    *int
	}{
		{KeyTimeoutMs, constants.MinTimeoutMs, constants.MaxTimeoutMs, KindTimeout, &cfg.TimeoutMs},
		{KeyRetryAttempts, constants.MinRetryAttempts, constants.MaxRetryAttempts, KindRetry, &cfg.RetryAttempts},
		{KeyDelayMs, constants.MinDelayMs, constants.MaxDelayMs, KindDelay, &cfg.DelayMs},
	}
	for _, n := range numeric {
		v, ok := obj[n.key]
		if !ok {
			return Config{}, &ConfigurationError{Kind: n.kind, Field: n.key, Detail: n.key + " is required"}
		}
		i, ok := asInteger(v)
		if !ok {
			return Config{}, &ConfigurationError{
				Kind:   n.kind,
				Field:  n.key,
				Detail: fmt.Sprintf("%s must be an integer between %d and %d", n.key, n.lo, n.hi),
			}
		}
		if err := checkBounds(n.key, i, n.lo, n.hi, n.kind); err != nil {
			return Config{}, err
		}
		*n.dst = i
	}

	for _, key := range FlagKeys {
		v, ok := obj[key]
		if !ok {
			return Config{}, &ConfigurationError{Kind: KindFlag, Field: key, Detail: key + " is required"}
		}
		b, ok := v.(bool)
		if !ok {
			return Config{}, &ConfigurationError{
				Kind:   KindFlag,
				Field:  key,
				Detail: fmt.Sprintf("%s must be a boolean, got %T", key, v),
			}
		}
		*cfg.flagPtr(key) = b
	}

	return cfg, nil
}

func asObject(raw any) (map[string]any, error) {
	notObject := &ConfigurationError{Kind: KindNotObject, Detail: "expected an object"}

	switch v := raw.(type) {
	case nil:
		return nil, notObject
	case map[string]any:
		if v == nil {
			return nil, notObject
		}
		return v, nil
	case Config:
		return v.ToMap(), nil
	case *Config:
		if v == nil {
			return nil, notObject
		}
		return v.ToMap(), nil
	}

	// Accept other string-keyed maps (e.g. map[string]interface{} from YAML decoders).
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String || rv.IsNil() {
		return nil, notObject
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, nil
}

func unexpectedKeys(obj map[string]any) []string {
	allowed := make(map[string]struct{}, len(FlagKeys)+len(NumericKeys))
	for _, k := range FlagKeys {
		allowed[k] = struct{}{}
	}
	for _, k := range NumericKeys {
		allowed[k] = struct{}{}
	}

	var unexpected []string
	for k := range obj {
		if _, ok := allowed[k]; !ok {
			unexpected = append(unexpected, k)
		}
	}
	sort.Strings(unexpected)
	return unexpected
}

func asInteger(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case uint:
		if n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		if n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case uint64:
		if n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	}
	return 0, false
}

func floatToInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
