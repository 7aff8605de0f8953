package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/termbridge/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	Bridge        BridgeConfig  `mapstructure:"bridge" yaml:"bridge"`
	HTTP          HTTPConfig    `mapstructure:"http" yaml:"http"`
	SSH           SSHConfig     `mapstructure:"ssh" yaml:"ssh"`
	GRPC          GRPCConfig    `mapstructure:"grpc" yaml:"grpc"`
	Logging       LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// BridgeConfig controls session queues and host behavior.
type BridgeConfig struct {
	QueueDepth         int    `mapstructure:"queue_depth" yaml:"queue_depth"`
	InjectDepth        int    `mapstructure:"inject_depth" yaml:"inject_depth"`
	Overflow           string `mapstructure:"overflow" yaml:"overflow"`
	EnterReply         string `mapstructure:"enter_reply" yaml:"enter_reply"`
	SurfaceDescription string `mapstructure:"surface_description" yaml:"surface_description"`
}

// HTTPConfig configures the HTTP server. An empty Addr disables it.
type HTTPConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

// SSHConfig configures the SSH terminal surface. An empty Addr disables it.
type SSHConfig struct {
	Addr        string `mapstructure:"addr" yaml:"addr"`
	HostKeyPath string `mapstructure:"host_key_path" yaml:"host_key_path"`
	TOTPSecret  string `mapstructure:"totp_secret" yaml:"totp_secret"`
	Title       string `mapstructure:"title" yaml:"title"`
}

// GRPCConfig configures the local gRPC socket. An empty SocketPath disables it.
type GRPCConfig struct {
	SocketPath string `mapstructure:"socket_path" yaml:"socket_path"`
}

// LoggingConfig controls envelope logging.
type LoggingConfig struct {
	LogEnvelopes bool `mapstructure:"log_envelopes" yaml:"log_envelopes"`
}

// BridgeSettings converts the bridge section into the schema config.
func (c Config) BridgeSettings() schema.BridgeConfig {
	return schema.BridgeConfig{
		QueueDepth:         c.Bridge.QueueDepth,
		InjectDepth:        c.Bridge.InjectDepth,
		Overflow:           schema.OverflowPolicy(c.Bridge.Overflow),
		EnterReply:         c.Bridge.EnterReply,
		SurfaceDescription: c.Bridge.SurfaceDescription,
		LogEnvelopes:       c.Logging.LogEnvelopes,
	}
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Bridge: BridgeConfig{
			QueueDepth:         schema.DefaultQueueDepth,
			InjectDepth:        schema.DefaultInjectDepth,
			Overflow:           string(schema.OverflowDropOldest),
			EnterReply:         "",
			SurfaceDescription: schema.DefaultSurfaceDescription,
		},
		HTTP: HTTPConfig{
			Addr:     "127.0.0.1:27580",
			BasePath: "",
		},
		SSH: SSHConfig{
			Addr:        ":27522",
			HostKeyPath: filepath.Join(home, ".termbridge", "ssh_host_key"),
			TOTPSecret:  "",
			Title:       "termbridge",
		},
		GRPC: GRPCConfig{
			SocketPath: filepath.Join(home, ".termbridge", "termbridge.sock"),
		},
		Logging: LoggingConfig{
			LogEnvelopes: false,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".termbridge", "config.yaml"), nil
}
