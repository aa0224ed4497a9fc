// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serve

import (
	"time"

	"github.com/spf13/pflag"
)

const (
	ConfigKey          = "config"
	HTTPAddrKey        = "http-addr"
	DataDirKey         = "data-dir"
	ShutdownTimeoutKey = "shutdown-timeout"
	AllowedOriginsKey  = "allowed-origins"
)

func AddFlags(flags *pflag.FlagSet) {
	flags.String(ConfigKey, "", "Config file to read over the defaults")
	flags.String(HTTPAddrKey, ":9650", "Address to serve the JSON-RPC API on")
	flags.String(DataDirKey, "", "Directory of the persistent database (in-memory when empty)")
	flags.Duration(ShutdownTimeoutKey, 10*time.Second, "Time allowed for in-flight requests on shutdown")
	flags.StringSlice(AllowedOriginsKey, []string{"*"}, "Origins allowed to make cross-origin API requests")
}

type Config struct {
	ConfigFile      string
	HTTPAddr        string
	DataDir         string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

func ParseFlags(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	configFile, err := flags.GetString(ConfigKey)
	if err != nil {
		return nil, err
	}

	httpAddr, err := flags.GetString(HTTPAddrKey)
	if err != nil {
		return nil, err
	}

	dataDir, err := flags.GetString(DataDirKey)
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := flags.GetDuration(ShutdownTimeoutKey)
	if err != nil {
		return nil, err
	}

	allowedOrigins, err := flags.GetStringSlice(AllowedOriginsKey)
	if err != nil {
		return nil, err
	}

	return &Config{
		ConfigFile:      configFile,
		HTTPAddr:        httpAddr,
		DataDir:         dataDir,
		ShutdownTimeout: shutdownTimeout,
		AllowedOrigins:  allowedOrigins,
	}, nil
}
