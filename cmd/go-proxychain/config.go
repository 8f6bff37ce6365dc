package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config holds the CLI configuration, settable via flags or a YAML file.
type Config struct {
	Port        int      `yaml:"port"`
	Host        string   `yaml:"host"`
	ServerType  string   `yaml:"serverType"`
	TLSCert     string   `yaml:"tlsCert"`
	TLSKey      string   `yaml:"tlsKey"`
	AuthRealm   string   `yaml:"authRealm"`
	Auth        string   `yaml:"auth"`
	Upstream    string   `yaml:"upstream"`
	BypassHosts []string `yaml:"bypassHosts"`
	Verbose     bool     `yaml:"verbose"`
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	config := new(Config)
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return config, nil
}

// mergeConfig fills config with values from the file wherever the
// corresponding flag was not set explicitly.
func mergeConfig(cmd *cobra.Command, config, fileConfig *Config) {
	flags := cmd.Flags()
	if !flags.Changed("port") && fileConfig.Port != 0 {
		config.Port = fileConfig.Port
	}
	if !flags.Changed("host") && fileConfig.Host != "" {
		config.Host = fileConfig.Host
	}
	if !flags.Changed("server-type") && fileConfig.ServerType != "" {
		config.ServerType = fileConfig.ServerType
	}
	if !flags.Changed("tls-cert") && fileConfig.TLSCert != "" {
		config.TLSCert = fileConfig.TLSCert
	}
	if !flags.Changed("tls-key") && fileConfig.TLSKey != "" {
		config.TLSKey = fileConfig.TLSKey
	}
	if !flags.Changed("auth-realm") && fileConfig.AuthRealm != "" {
		config.AuthRealm = fileConfig.AuthRealm
	}
	if !flags.Changed("auth") && fileConfig.Auth != "" {
		config.Auth = fileConfig.Auth
	}
	if !flags.Changed("upstream") && fileConfig.Upstream != "" {
		config.Upstream = fileConfig.Upstream
	}
	if !flags.Changed("bypass-hosts") && len(fileConfig.BypassHosts) > 0 {
		config.BypassHosts = fileConfig.BypassHosts
	}
	if !flags.Changed("verbose") && fileConfig.Verbose {
		config.Verbose = fileConfig.Verbose
	}
}
