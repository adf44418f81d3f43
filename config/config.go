// Package config loads engine settings from an HCL file, the environment and
// optional .env files, and turns them into graph compile options.
//
// A settings file looks like:
//
//	recursion_limit = 40
//	max_concurrency = env("WORKERS", "8")
//	log_verbosity   = 1
//
//	checkpointer {
//	  backend = "sqlite"
//	  dsn     = "threads.db"
//	}
//
//	store {
//	  backend = "postgres"
//	  dsn     = env("DATABASE_URL")
//	}
//
//	telemetry {
//	  enabled  = true
//	  exporter = "otlp"
//	  endpoint = "collector:4317"
//	}
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/joho/godotenv"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"go.uber.org/multierr"

	"github.com/langgraph-go/stategraph/constants"
	"github.com/langgraph-go/stategraph/telemetry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STATEGRAPH_"

// Backend names.
const (
	BackendMemory   = "memory"
	BackendSqlite   = "sqlite"
	BackendPostgres = "postgres"
)

// Settings configure a compiled graph.
type Settings struct {
	RecursionLimit int `hcl:"recursion_limit,optional"`
	// MaxConcurrency bounds the nodes running at once. Zero is unlimited.
	MaxConcurrency int `hcl:"max_concurrency,optional"`
	LogVerbosity   int `hcl:"log_verbosity,optional"`

	Checkpointer *Backend   `hcl:"checkpointer,block"`
	Store        *Backend   `hcl:"store,block"`
	Telemetry    *Telemetry `hcl:"telemetry,block"`
}

// Backend selects a persistence backend.
type Backend struct {
	Backend string `hcl:"backend,optional"`
	DSN     string `hcl:"dsn,optional"`
}

// Telemetry configures tracing and metrics export.
type Telemetry struct {
	Enabled     bool   `hcl:"enabled,optional"`
	Exporter    string `hcl:"exporter,optional"`
	Endpoint    string `hcl:"endpoint,optional"`
	ServiceName string `hcl:"service_name,optional"`
	Insecure    bool   `hcl:"insecure,optional"`
}

// Default returns settings with an in-memory checkpointer and store and
// telemetry disabled.
func Default() *Settings {
	s := &Settings{}
	s.applyDefaults()
	return s
}

func (s *Settings) applyDefaults() {
	if s.RecursionLimit == 0 {
		s.RecursionLimit = constants.DefaultRecursionLimit
	}
	if s.Checkpointer == nil {
		s.Checkpointer = &Backend{}
	}
	if s.Checkpointer.Backend == "" {
		s.Checkpointer.Backend = BackendMemory
	}
	if s.Store == nil {
		s.Store = &Backend{}
	}
	if s.Store.Backend == "" {
		s.Store.Backend = BackendMemory
	}
	if s.Telemetry == nil {
		s.Telemetry = &Telemetry{}
	}
	if s.Telemetry.Exporter == "" {
		s.Telemetry.Exporter = telemetry.ExporterStdout
	}
	if s.Telemetry.ServiceName == "" {
		s.Telemetry.ServiceName = "stategraph"
	}
}

// Load reads settings from an HCL file, then applies STATEGRAPH_*
// environment overrides and defaults. An empty path skips the file.
func Load(path string) (*Settings, error) {
	if path == "" {
		return FromEnv()
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	return Parse(src, path)
}

// Parse decodes settings from HCL source. filename is used in diagnostics.
func Parse(src []byte, filename string) (*Settings, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse settings %s: %w", filename, diags)
	}
	s := &Settings{}
	if diags := gohcl.DecodeBody(file.Body, evalContext(), s); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode settings %s: %w", filename, diags)
	}
	if err := s.applyEnv(); err != nil {
		return nil, err
	}
	s.applyDefaults()
	return s, nil
}

// FromEnv builds settings from defaults and STATEGRAPH_* variables only.
func FromEnv() (*Settings, error) {
	s := &Settings{}
	if err := s.applyEnv(); err != nil {
		return nil, err
	}
	s.applyDefaults()
	return s, nil
}

// LoadDotEnv loads variables from .env files without overriding variables
// already set. Missing files are skipped; with no paths ".env" is tried.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", p, err)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Functions: map[string]function.Function{"env": envFunc},
	}
}

// envFunc implements env("NAME") and env("NAME", "fallback").
var envFunc = function.New(&function.Spec{
	Params:   []function.Parameter{{Name: "name", Type: cty.String}},
	VarParam: &function.Parameter{Name: "fallback", Type: cty.String},
	Type:     function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		if len(args) > 2 {
			return cty.NilVal, fmt.Errorf("env takes at most one fallback")
		}
		if v, ok := os.LookupEnv(args[0].AsString()); ok {
			return cty.StringVal(v), nil
		}
		if len(args) == 2 {
			return args[1], nil
		}
		return cty.StringVal(""), nil
	},
})

func (s *Settings) applyEnv() error {
	if s.Checkpointer == nil {
		s.Checkpointer = &Backend{}
	}
	if s.Store == nil {
		s.Store = &Backend{}
	}
	if s.Telemetry == nil {
		s.Telemetry = &Telemetry{}
	}

	var errs error
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	integer("RECURSION_LIMIT", &s.RecursionLimit)
	integer("MAX_CONCURRENCY", &s.MaxConcurrency)
	integer("LOG_VERBOSITY", &s.LogVerbosity)
	str("CHECKPOINTER_BACKEND", &s.Checkpointer.Backend)
	str("CHECKPOINTER_DSN", &s.Checkpointer.DSN)
	str("STORE_BACKEND", &s.Store.Backend)
	str("STORE_DSN", &s.Store.DSN)
	boolean("TELEMETRY_ENABLED", &s.Telemetry.Enabled)
	str("TELEMETRY_EXPORTER", &s.Telemetry.Exporter)
	str("TELEMETRY_ENDPOINT", &s.Telemetry.Endpoint)
	str("TELEMETRY_SERVICE_NAME", &s.Telemetry.ServiceName)
	boolean("TELEMETRY_INSECURE", &s.Telemetry.Insecure)
	return errs
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	return strings.TrimSpace(v), ok
}

// Validate reports every problem with the settings.
func (s *Settings) Validate() error {
	var errs error
	if s.RecursionLimit < 1 {
		errs = multierr.Append(errs, fmt.Errorf("recursion_limit must be at least 1, got %d", s.RecursionLimit))
	}
	if s.MaxConcurrency < 0 {
		errs = multierr.Append(errs, fmt.Errorf("max_concurrency must not be negative, got %d", s.MaxConcurrency))
	}
	if s.LogVerbosity < 0 {
		errs = multierr.Append(errs, fmt.Errorf("log_verbosity must not be negative, got %d", s.LogVerbosity))
	}
	errs = multierr.Append(errs, s.Checkpointer.validate("checkpointer"))
	errs = multierr.Append(errs, s.Store.validate("store"))
	if t := s.Telemetry; t != nil && t.Enabled {
		switch t.Exporter {
		case telemetry.ExporterStdout, telemetry.ExporterNone:
		case telemetry.ExporterOTLP:
			if t.Endpoint == "" {
				errs = multierr.Append(errs, fmt.Errorf("telemetry: otlp exporter needs an endpoint"))
			}
		default:
			errs = multierr.Append(errs, fmt.Errorf("telemetry: unknown exporter %q", t.Exporter))
		}
	}
	return errs
}

func (b *Backend) validate(block string) error {
	if b == nil {
		return nil
	}
	switch b.Backend {
	case BackendMemory:
		return nil
	case BackendSqlite, BackendPostgres:
		if b.DSN == "" {
			return fmt.Errorf("%s: %s backend needs a dsn", block, b.Backend)
		}
		return nil
	}
	return fmt.Errorf("%s: unknown backend %q", block, b.Backend)
}
