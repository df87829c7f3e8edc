package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// fileConfig is the on-disk configuration for the server binary.
type fileConfig struct {
	Server struct {
		Addr                       string `json:"addr"`
		MaxConnections             int    `json:"max_connections"`
		RequestTimeout             string `json:"request_timeout"`
		HeartbeatInterval          string `json:"heartbeat_interval"`
		HeartbeatTimeoutMultiplier int    `json:"heartbeat_timeout_multiplier"`
		MaxPayloadSize             int    `json:"max_payload_size"`
	} `json:"server"`

	Auth struct {
		Policy string `json:"policy"`
		Token  string `json:"token"`
	} `json:"auth"`

	Patterns struct {
		Validation      bool `json:"validation"`
		RequestResponse bool `json:"request_response"`
		PubSub          bool `json:"pub_sub"`
		RPC             bool `json:"rpc"`
		Streaming       bool `json:"streaming"`
		Binary          bool `json:"binary"`
	} `json:"patterns"`

	Ingest struct {
		Table           string              `json:"table"`
		RequiredFields  map[string][]string `json:"required_fields"`
		EncryptedFields []string            `json:"encrypted_fields"`
		EncryptionKey   string              `json:"encryption_key"`
	} `json:"ingest"`

	Database struct {
		Host             string `json:"host"`
		Port             int    `json:"port"`
		Username         string `json:"username"`
		Password         string `json:"password"`
		Database         string `json:"database"`
		ConnectTimeout   string `json:"connect_timeout"`
		OperationTimeout string `json:"operation_timeout"`
		MinPoolSize      uint64 `json:"min_pool_size"`
		MaxPoolSize      uint64 `json:"max_pool_size"`
	} `json:"database"`

	DebugMode bool   `json:"debug_mode"`
	AppName   string `json:"app_name"`
}

// readConfig loads the configuration file, creating a template when it does
// not exist yet.
func readConfig(path string) (*fileConfig, error) {
	var cfg fileConfig

	data, err := os.ReadFile(path)
	if err != nil {
		template, _ := json.MarshalIndent(cfg, "", "\t")
		_ = os.WriteFile(path, template, 0o644)
		return nil, errors.New("the configuration file does not exist and has been created, edit it and try again")
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("the configuration file does not contain valid JSON: %w", err)
	}

	return &cfg, nil
}

// parseDuration reads a duration string, falling back to def when empty or
// invalid.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
