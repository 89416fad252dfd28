package config

import (
	"errors"
	"fmt"
	"math/bits"
	"os"
	"strconv"

	"findsimilar/utils"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config carries every tunable of the extraction and matching pipeline.
type Config struct {
	SampleRate            int     `yaml:"sampleRate"`
	WdftSize              int     `yaml:"wdftSize"`
	Overlap               int     `yaml:"overlap"`
	SamplesPerFingerprint int     `yaml:"samplesPerFingerprint"`
	FingerprintLength     int     `yaml:"fingerprintLength"`
	MinFrequency          float64 `yaml:"minFrequency"`
	MaxFrequency          float64 `yaml:"maxFrequency"`
	LogBins               int     `yaml:"logBins"`
	LogBase               float64 `yaml:"logBase"`
	UseDynamicLogBase     bool    `yaml:"useDynamicLogBase"`
	TopWavelets           int     `yaml:"topWavelets"`
	WindowFunction        string  `yaml:"windowFunction"`
	FFT                   string  `yaml:"fft"`
	NormalizeSignal       bool    `yaml:"normalizeSignal"`

	// Stride policies: "static:<n>", "random:<min>:<max>", "incremental:<n>"
	// or "incremental-random:<min>:<max>", all in samples.
	DatabaseStridePolicy string `yaml:"databaseStridePolicy"`
	QueryStridePolicy    string `yaml:"queryStridePolicy"`

	MFCCFilters       int `yaml:"mfccFilters"`
	MFCCCoefficients  int `yaml:"mfccCoefficients"`
	ModelSampleRate   int `yaml:"modelSampleRate"`
	ModelWdftSize     int `yaml:"modelWdftSize"`
	ModelOverlap      int `yaml:"modelOverlap"`
	ModelSeconds      int `yaml:"modelSeconds"`
	ModelStartSeconds int `yaml:"modelStartSeconds"`

	HashTables       int    `yaml:"hashTables"`
	HashKeysPerTable int    `yaml:"hashKeysPerTable"`
	HashSeed         uint64 `yaml:"hashSeed"`
	MatchThreshold   int    `yaml:"matchThreshold"`
	SignatureBits    int    `yaml:"signatureBits"`

	Workers  int    `yaml:"workers"`
	DBType   string `yaml:"dbType"`
	DBPath   string `yaml:"dbPath"`
	MongoURI string `yaml:"mongoURI"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		SampleRate:            5512,
		WdftSize:              2048,
		Overlap:               64,
		SamplesPerFingerprint: 128 * 64,
		FingerprintLength:     128,
		MinFrequency:          318,
		MaxFrequency:          2000,
		LogBins:               32,
		LogBase:               2,
		UseDynamicLogBase:     false,
		TopWavelets:           200,
		WindowFunction:        "hann",
		FFT:                   "gonum",
		NormalizeSignal:       true,

		DatabaseStridePolicy: "incremental:5115",
		QueryStridePolicy:    "incremental-random:256:512",

		MFCCFilters:       36,
		MFCCCoefficients:  20,
		ModelSampleRate:   22050,
		ModelWdftSize:     1024,
		ModelOverlap:      512,
		ModelSeconds:      120,
		ModelStartSeconds: 0,

		HashTables:       25,
		HashKeysPerTable: 4,
		HashSeed:         0x5eed,
		MatchThreshold:   5,
		SignatureBits:    256,

		Workers:  0,
		DBType:   "sqlite",
		DBPath:   "db/findsimilar.sqlite3",
		MongoURI: "mongodb://localhost:27017",
	}
}

// Load reads a YAML file over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("error reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv applies environment overrides, loading a .env file when present.
func FromEnv(cfg Config) (Config, error) {
	_ = godotenv.Load()

	cfg.DBType = utils.GetEnv("DB_TYPE", cfg.DBType)
	cfg.DBPath = utils.GetEnv("DB_PATH", cfg.DBPath)
	cfg.MongoURI = utils.GetEnv("MONGO_URI", cfg.MongoURI)
	cfg.WindowFunction = utils.GetEnv("WINDOW_FUNCTION", cfg.WindowFunction)
	cfg.FFT = utils.GetEnv("FFT_IMPL", cfg.FFT)
	cfg.DatabaseStridePolicy = utils.GetEnv("DATABASE_STRIDE", cfg.DatabaseStridePolicy)
	cfg.QueryStridePolicy = utils.GetEnv("QUERY_STRIDE", cfg.QueryStridePolicy)

	ints := []struct {
		key string
		dst *int
	}{
		{"SAMPLE_RATE", &cfg.SampleRate},
		{"WDFT_SIZE", &cfg.WdftSize},
		{"OVERLAP", &cfg.Overlap},
		{"LOG_BINS", &cfg.LogBins},
		{"TOP_WAVELETS", &cfg.TopWavelets},
		{"MATCH_THRESHOLD", &cfg.MatchThreshold},
		{"WORKERS", &cfg.Workers},
	}
	for _, entry := range ints {
		raw := utils.GetEnv(entry.key)
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s value '%s': %w", entry.key, raw, err)
		}
		*entry.dst = value
	}

	if raw := utils.GetEnv("USE_DYNAMIC_LOG_BASE"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return cfg, fmt.Errorf("invalid USE_DYNAMIC_LOG_BASE value '%s': %w", raw, err)
		}
		cfg.UseDynamicLogBase = value
	}

	return cfg, nil
}

// Validate reports the first inconsistency found in cfg.
func (c Config) Validate() error {
	var errs []error

	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sampleRate must be positive, got %d", c.SampleRate))
	}
	if c.WdftSize <= 0 || bits.OnesCount(uint(c.WdftSize)) != 1 {
		errs = append(errs, fmt.Errorf("wdftSize must be a positive power of two, got %d", c.WdftSize))
	}
	if c.Overlap <= 0 {
		errs = append(errs, fmt.Errorf("overlap must be positive, got %d", c.Overlap))
	}
	if c.FingerprintLength <= 0 {
		errs = append(errs, fmt.Errorf("fingerprintLength must be positive, got %d", c.FingerprintLength))
	}
	if c.LogBins <= 0 {
		errs = append(errs, fmt.Errorf("logBins must be positive, got %d", c.LogBins))
	}
	if c.MinFrequency <= 0 || c.MinFrequency >= c.MaxFrequency {
		errs = append(errs, fmt.Errorf("frequency range [%g, %g] is invalid", c.MinFrequency, c.MaxFrequency))
	}
	if c.MaxFrequency > float64(c.SampleRate)/2 {
		errs = append(errs, fmt.Errorf("maxFrequency %g exceeds nyquist %d", c.MaxFrequency, c.SampleRate/2))
	}
	if !c.UseDynamicLogBase && c.LogBase <= 1 {
		errs = append(errs, fmt.Errorf("logBase must be greater than 1, got %g", c.LogBase))
	}
	if c.TopWavelets < 0 || c.TopWavelets > c.FingerprintLength*c.LogBins {
		errs = append(errs, fmt.Errorf("topWavelets %d out of range", c.TopWavelets))
	}
	if c.ModelWdftSize <= 0 || bits.OnesCount(uint(c.ModelWdftSize)) != 1 {
		errs = append(errs, fmt.Errorf("modelWdftSize must be a positive power of two, got %d", c.ModelWdftSize))
	}
	if c.ModelOverlap <= 0 || c.ModelSampleRate <= 0 {
		errs = append(errs, errors.New("modelOverlap and modelSampleRate must be positive"))
	}
	if c.MFCCCoefficients <= 0 || c.MFCCCoefficients > c.MFCCFilters {
		errs = append(errs, fmt.Errorf("mfccCoefficients must be in [1, %d], got %d", c.MFCCFilters, c.MFCCCoefficients))
	}
	if c.HashTables <= 0 || c.HashKeysPerTable <= 0 {
		errs = append(errs, errors.New("hashTables and hashKeysPerTable must be positive"))
	}
	if c.SignatureBits <= 0 {
		errs = append(errs, fmt.Errorf("signatureBits must be positive, got %d", c.SignatureBits))
	}

	return errors.Join(errs...)
}
