package routing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid routing config")

// Defaults for every tunable. PRoPHET and SeeR constants follow their
// published parameterisations.
const (
	DefaultPInit              = 0.75
	DefaultBeta               = 0.25
	DefaultGamma              = 0.98
	DefaultSecondsInTimeUnit  = 30
	DefaultInitialCopies      = 6
	DefaultLocalityRange      = 200.0
	DefaultMaxHopCount        = 5
	DefaultInitialTemperature = 15000.0
	DefaultCoolingCoefficient = 0.95
	DefaultBoltzmannConstant  = 1.0
	DefaultFrozenTemperature  = 0.001
	DefaultInitialICT         = 3600.0
	DefaultICTResetLow        = 10 * 3600.0
	DefaultICTResetHigh       = 12 * 3600.0
)

// SprayMode selects how replica budgets are split on transfer.
type SprayMode int

const (
	SprayBinary SprayMode = iota
	SprayLinear
)

func (m SprayMode) String() string {
	if m == SprayLinear {
		return "linear"
	}
	return "binary"
}

// UnmarshalYAML accepts "binary" or "linear".
func (m *SprayMode) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "binary":
		*m = SprayBinary
	case "linear", "standard":
		*m = SprayLinear
	default:
		return fmt.Errorf("%w: unknown spray mode %q", ErrInvalidConfig, s)
	}
	return nil
}

// QueueMode is the base ordering over buffered messages used to break ties.
type QueueMode int

const (
	QueueFIFO QueueMode = iota
	QueueRandom
)

func (q QueueMode) String() string {
	if q == QueueRandom {
		return "random"
	}
	return "fifo"
}

// UnmarshalYAML accepts "fifo" or "random".
func (q *QueueMode) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fifo":
		*q = QueueFIFO
	case "random":
		*q = QueueRandom
	default:
		return fmt.Errorf("%w: unknown queue mode %q", ErrInvalidConfig, s)
	}
	return nil
}

// ProphetConfig holds the delivery-predictability constants. PInit and
// Beta are pointers because 0 is a meaningful setting for both: beta 0
// turns transitivity off.
type ProphetConfig struct {
	PInit             *float64 `yaml:"pInit"`
	Beta              *float64 `yaml:"beta"`
	Gamma             float64  `yaml:"gamma"`
	SecondsInTimeUnit int      `yaml:"secondsInTimeUnit"`
}

// Float returns a pointer to v, for filling optional config fields.
func Float(v float64) *float64 { return &v }

// InitialPredictability is P_INIT, or its default when unset.
func (c ProphetConfig) InitialPredictability() float64 {
	if c.PInit == nil {
		return DefaultPInit
	}
	return *c.PInit
}

// TransitivityScale is BETA, or its default when unset.
func (c ProphetConfig) TransitivityScale() float64 {
	if c.Beta == nil {
		return DefaultBeta
	}
	return *c.Beta
}

// SprayAndWaitConfig holds the replica budget settings.
type SprayAndWaitConfig struct {
	InitialCopies int       `yaml:"copies"`
	Mode          SprayMode `yaml:"mode"`
}

// LucidConfig holds the locality-bounded dissemination settings.
type LucidConfig struct {
	LocalityRange float64 `yaml:"localityRange"`
	MaxHopCount   int     `yaml:"maxHopCount"`
}

// SeerConfig holds the annealing settings.
type SeerConfig struct {
	InitialTemperature float64 `yaml:"initialTemperature"`
	CoolingCoefficient float64 `yaml:"coolingCoefficient"`
	BoltzmannConstant  float64 `yaml:"boltzmannConstant"`
	FrozenTemperature  float64 `yaml:"frozenTemperature"`
	InitialICT         float64 `yaml:"initialIct"`
	ResetIntervalLow   float64 `yaml:"resetIntervalLow"`
	ResetIntervalHigh  float64 `yaml:"resetIntervalHigh"`
}

// Config is the full router configuration. Zero fields, and nil PInit or
// Beta, take defaults via WithDefaults.
type Config struct {
	Protocol     Protocol           `yaml:"protocol"`
	Prophet      ProphetConfig      `yaml:"prophet"`
	SprayAndWait SprayAndWaitConfig `yaml:"sprayAndWait"`
	Lucid        LucidConfig        `yaml:"lucid"`
	Seer         SeerConfig         `yaml:"seer"`
	Landmarks    LandmarkConfig     `yaml:"humanIntelligence"`
	QueueMode    QueueMode          `yaml:"queueMode"`

	// StrictInvariants turns invariant violations into panics. Tests set it;
	// long experiment runs leave it off and skip the offending candidate.
	StrictInvariants bool `yaml:"strictInvariants"`
}

// DefaultConfig returns a configuration for p with every default applied.
func DefaultConfig(p Protocol) Config {
	return Config{Protocol: p}.WithDefaults()
}

// WithDefaults fills every unset tunable.
func (c Config) WithDefaults() Config {
	if c.Prophet.PInit == nil {
		c.Prophet.PInit = Float(DefaultPInit)
	}
	if c.Prophet.Beta == nil {
		c.Prophet.Beta = Float(DefaultBeta)
	}
	if c.Prophet.Gamma == 0 {
		c.Prophet.Gamma = DefaultGamma
	}
	if c.Prophet.SecondsInTimeUnit == 0 {
		c.Prophet.SecondsInTimeUnit = DefaultSecondsInTimeUnit
	}
	if c.SprayAndWait.InitialCopies == 0 {
		c.SprayAndWait.InitialCopies = DefaultInitialCopies
	}
	if c.Lucid.LocalityRange == 0 {
		c.Lucid.LocalityRange = DefaultLocalityRange
	}
	if c.Lucid.MaxHopCount == 0 {
		c.Lucid.MaxHopCount = DefaultMaxHopCount
	}
	if c.Seer.InitialTemperature == 0 {
		c.Seer.InitialTemperature = DefaultInitialTemperature
	}
	if c.Seer.CoolingCoefficient == 0 {
		c.Seer.CoolingCoefficient = DefaultCoolingCoefficient
	}
	if c.Seer.BoltzmannConstant == 0 {
		c.Seer.BoltzmannConstant = DefaultBoltzmannConstant
	}
	if c.Seer.FrozenTemperature == 0 {
		c.Seer.FrozenTemperature = DefaultFrozenTemperature
	}
	if c.Seer.InitialICT == 0 {
		c.Seer.InitialICT = DefaultInitialICT
	}
	if c.Seer.ResetIntervalLow == 0 {
		c.Seer.ResetIntervalLow = DefaultICTResetLow
	}
	if c.Seer.ResetIntervalHigh == 0 {
		c.Seer.ResetIntervalHigh = DefaultICTResetHigh
	}
	return c
}

// Validate reports every problem in the configuration at once.
func (c Config) Validate() error {
	var err error
	if c.Protocol == ProtocolUnknown {
		err = multierr.Append(err, fmt.Errorf("%w: protocol is required", ErrInvalidConfig))
	}
	err = multierr.Append(err, checkUnit("prophet.pInit", c.Prophet.InitialPredictability()))
	err = multierr.Append(err, checkUnit("prophet.beta", c.Prophet.TransitivityScale()))
	if !(c.Prophet.Gamma > 0 && c.Prophet.Gamma <= 1) {
		err = multierr.Append(err, fmt.Errorf("%w: prophet.gamma must be in (0,1], got %v", ErrInvalidConfig, c.Prophet.Gamma))
	}
	if c.Prophet.SecondsInTimeUnit <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: prophet.secondsInTimeUnit must be positive", ErrInvalidConfig))
	}
	if c.SprayAndWait.InitialCopies < 1 {
		err = multierr.Append(err, fmt.Errorf("%w: sprayAndWait.copies must be at least 1", ErrInvalidConfig))
	}
	if c.Lucid.LocalityRange < 0 || math.IsNaN(c.Lucid.LocalityRange) {
		err = multierr.Append(err, fmt.Errorf("%w: lucid.localityRange must not be negative", ErrInvalidConfig))
	}
	if c.Lucid.MaxHopCount < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: lucid.maxHopCount must not be negative", ErrInvalidConfig))
	}
	if !(c.Seer.InitialTemperature > 0) {
		err = multierr.Append(err, fmt.Errorf("%w: seer.initialTemperature must be positive", ErrInvalidConfig))
	}
	if !(c.Seer.CoolingCoefficient > 0 && c.Seer.CoolingCoefficient <= 1) {
		err = multierr.Append(err, fmt.Errorf("%w: seer.coolingCoefficient must be in (0,1], got %v", ErrInvalidConfig, c.Seer.CoolingCoefficient))
	}
	if !(c.Seer.BoltzmannConstant > 0) {
		err = multierr.Append(err, fmt.Errorf("%w: seer.boltzmannConstant must be positive", ErrInvalidConfig))
	}
	if !(c.Seer.FrozenTemperature > 0) {
		err = multierr.Append(err, fmt.Errorf("%w: seer.frozenTemperature must be positive", ErrInvalidConfig))
	}
	if !(c.Seer.InitialICT > 0) {
		err = multierr.Append(err, fmt.Errorf("%w: seer.initialIct must be positive", ErrInvalidConfig))
	}
	if c.Landmarks.TTL < 0 || math.IsNaN(c.Landmarks.TTL) {
		err = multierr.Append(err, fmt.Errorf("%w: humanIntelligence.ttl must not be negative", ErrInvalidConfig))
	}
	if c.Seer.ResetIntervalLow <= 0 || c.Seer.ResetIntervalHigh < c.Seer.ResetIntervalLow {
		err = multierr.Append(err, fmt.Errorf("%w: seer reset interval [%v,%v] is not a valid range",
			ErrInvalidConfig, c.Seer.ResetIntervalLow, c.Seer.ResetIntervalHigh))
	}
	return err
}

func checkUnit(name string, v float64) error {
	if v < 0 || v > 1 || math.IsNaN(v) {
		return fmt.Errorf("%w: %s must be in [0,1], got %v", ErrInvalidConfig, name, v)
	}
	return nil
}
