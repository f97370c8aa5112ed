/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Duration is a time.Duration that unmarshals from either a duration
// string ("30s") or a numeric nanosecond count.
type Duration time.Duration

var errInvalidDuration = errors.New("invalid duration")

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// SupervisorConfig is the top-level configuration for the sandgate service.
type SupervisorConfig struct {
	ListenAddr string        `json:"listen_addr"`
	Gateway    GatewayConfig `json:"gateway"`
	Storage    StorageConfig `json:"storage"`
	Auth       AuthConfig    `json:"auth"`
	CORS       CORSConfig    `json:"cors"`
	Logging    *LogConfig    `json:"logging,omitempty"`
}

// LogConfig mirrors logger.Config; kept here so config files stay self-contained.
type LogConfig struct {
	Level  string `json:"level"`
	Debug  bool   `json:"debug"`
	Output string `json:"output"`
}

// GatewayConfig describes how the supervised gateway process is launched
// and health-checked.
type GatewayConfig struct {
	// Command is the gateway binary; Args is its canonical invocation
	// (the pair forms the process-table match signature).
	Command string   `json:"command"`
	Args    []string `json:"args"`

	Port    int               `json:"port"`
	DataDir string            `json:"data_dir"`
	Env     map[string]string `json:"env,omitempty"`

	StartTimeout    Duration `json:"start_timeout"`
	ResponseTimeout Duration `json:"response_timeout"`
	SettleDelay     Duration `json:"settle_delay"`
	PollInterval    Duration `json:"poll_interval"`
}

// StorageConfig holds the durable-store credentials and layout. All four
// credential fields are required before sync is considered configured.
type StorageConfig struct {
	AccountID       string `json:"account_id"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Bucket          string `json:"bucket"`

	MountPath    string   `json:"mount_path"`
	SyncInterval Duration `json:"sync_interval"`
}

// AuthConfig configures the protected-route authentication boundary.
// Either the shared token or a verified identity assertion is sufficient.
type AuthConfig struct {
	SharedToken     string `json:"shared_token"`
	JWKSURL         string `json:"jwks_url"`
	Issuer          string `json:"issuer"`
	Audience        string `json:"audience"`
	AssertionHeader string `json:"assertion_header"`
}

// CORSConfig represents CORS configuration for API endpoints
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowCredentials bool     `json:"allow_credentials"`
}

const (
	defaultGatewayPort     = 18789
	defaultStartTimeout    = 30 * time.Second
	defaultResponseTimeout = 5 * time.Second
	defaultSettleDelay     = 2 * time.Second
	defaultPollInterval    = 500 * time.Millisecond
)

// ApplyDefaults fills zero-valued fields with the supervisor defaults.
func (c *SupervisorConfig) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8090"
	}

	if c.Gateway.Command == "" {
		c.Gateway.Command = "moltbot"
	}

	if len(c.Gateway.Args) == 0 {
		c.Gateway.Args = []string{"gateway"}
	}

	if c.Gateway.Port == 0 {
		c.Gateway.Port = defaultGatewayPort
	}

	if c.Gateway.DataDir == "" {
		c.Gateway.DataDir = "/root/.moltbot"
	}

	if c.Gateway.StartTimeout == 0 {
		c.Gateway.StartTimeout = Duration(defaultStartTimeout)
	}

	if c.Gateway.ResponseTimeout == 0 {
		c.Gateway.ResponseTimeout = Duration(defaultResponseTimeout)
	}

	if c.Gateway.SettleDelay == 0 {
		c.Gateway.SettleDelay = Duration(defaultSettleDelay)
	}

	if c.Gateway.PollInterval == 0 {
		c.Gateway.PollInterval = Duration(defaultPollInterval)
	}

	if c.Storage.MountPath == "" {
		c.Storage.MountPath = "/data/moltbot-r2"
	}

	if c.Auth.AssertionHeader == "" {
		c.Auth.AssertionHeader = "X-Identity-Assertion"
	}
}

// MissingStorageCredentials returns the names of absent required credentials,
// in a stable order suitable for user-facing status responses.
func (c *StorageConfig) MissingStorageCredentials() []string {
	var missing []string

	if c.AccountID == "" {
		missing = append(missing, "R2_ACCOUNT_ID")
	}

	if c.AccessKeyID == "" {
		missing = append(missing, "R2_ACCESS_KEY_ID")
	}

	if c.SecretAccessKey == "" {
		missing = append(missing, "R2_SECRET_ACCESS_KEY")
	}

	if c.Bucket == "" {
		missing = append(missing, "R2_BUCKET")
	}

	return missing
}

// Configured reports whether all required durable-store credentials are present.
func (c *StorageConfig) Configured() bool {
	return len(c.MissingStorageCredentials()) == 0
}
