package config

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v2"
)

func TestBuiltinConfig(t *testing.T) {
	rawConfig := make(map[string]interface{})
	assert.Nil(t, yaml.Unmarshal(defaultConfigData, &rawConfig))

	knownFields := make(map[string]bool)
	rt := reflect.TypeOf(Configuration{})
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		assert.NotEmpty(t, jsonTag)
		jsonField := strings.Split(jsonTag, ",")[0]
		knownFields[jsonField] = true

		if _, ok := rawConfig[jsonField]; !ok {
			assert.False(t, true, "default config missing field: %q", jsonField)
		}
	}

	for k := range rawConfig {
		_, ok := knownFields[k]
		assert.True(t, ok, "default config contains invalid field: %q", k)
	}
}

func TestDefaultConfig(t *testing.T) {
	// Will panic() on load failure because it should never happen at runtime.
	cfg := defaultConfig()
	assert.NotNil(t, cfg)
	assert.Nil(t, cfg.Validate())

	assert.Equal(t, "ssh>>", cfg.Prompt)
	assert.Equal(t, 80, cfg.MaxLineLength)
	assert.Equal(t, PipeWaitAll, cfg.PipeWait)
	assert.Equal(t, ColorAuto, cfg.Color)
	assert.False(t, cfg.QuoteAware)
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		mutate  func(c *Configuration)
		wantErr string
	}{
		"default": {
			mutate: func(c *Configuration) {},
		},
		"zero line length": {
			mutate:  func(c *Configuration) { c.MaxLineLength = 0 },
			wantErr: "max_line_length",
		},
		"bad pipe wait": {
			mutate:  func(c *Configuration) { c.PipeWait = "last" },
			wantErr: "pipe_wait",
		},
		"bad color": {
			mutate:  func(c *Configuration) { c.Color = "sometimes" },
			wantErr: "color",
		},
		"app log outside dir": {
			mutate:  func(c *Configuration) { c.AppLog = "../app.log" },
			wantErr: "app_log",
		},
		"app log disabled": {
			mutate: func(c *Configuration) { c.AppLog = "" },
		},
	}

	for tn, tc := range cases {
		t.Run(tn, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.Nil(t, err)
				return
			}
			if assert.NotNil(t, err) {
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}
