package config

import (
	_ "embed"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

var (
	//go:embed default/config.yaml
	defaultConfigData []byte
)

const (
	ConfigurationName = "config.yaml"
)

// Pipe wait policies.
const (
	PipeWaitAll   = "all"
	PipeWaitFirst = "first"
)

// Color modes.
const (
	ColorAlways = "always"
	ColorAuto   = "auto"
	ColorNever  = "never"
)

type Configuration struct {
	configFs afero.Fs

	Prompt        string `json:"prompt"`
	MaxLineLength int    `json:"max_line_length" validate:"gt=0"`
	QuoteAware    bool   `json:"quote_aware"`
	PipeWait      string `json:"pipe_wait" validate:"oneof=all first"`
	Color         string `json:"color" validate:"oneof=always auto never"`
	AppLog        string `json:"app_log" validate:"omitempty,excludes=/"`
	HistoryBanner bool   `json:"history_banner"`
}

// Validate the configuration for basic semantic errors.
func (c *Configuration) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		return name
	})

	return validate.Struct(c)
}

func (c *Configuration) fs() afero.Fs {
	return c.configFs
}

// OpenAppLog opens the application log in an append only state. It returns
// nil if the log is disabled.
func (c *Configuration) OpenAppLog() (afero.File, error) {
	if c.AppLog == "" {
		return nil, nil
	}
	return c.fs().OpenFile(c.AppLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
}

// ReadAppLog opens the application log for reading.
func (c *Configuration) ReadAppLog() (afero.File, error) {
	return c.fs().OpenFile(c.AppLog, os.O_RDONLY, 0600)
}

// Default returns the built-in configuration, it isn't backed by a
// directory so the app log is kept in memory.
func Default() *Configuration {
	return defaultConfig()
}

func defaultConfig() *Configuration {
	var out Configuration
	if err := yaml.UnmarshalStrict(defaultConfigData, &out); err != nil {
		panic(err)
	}
	out.configFs = afero.NewMemMapFs()
	return &out
}
