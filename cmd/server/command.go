package main

import (
	"os"
	"strings"

	"botrelay/internal/config"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type rootOptions struct {
	configPath string
	// flags receives flag values; only flags that were set override cfg
	flags config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{flags: config.Default()}

	cmd := &cobra.Command{
		Use:           "botrelay",
		Short:         "WebSocket relay and decompressing HTTP proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags(), opts.configPath, opts.flags, os.LookupEnv)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	bindFlags(cmd.Flags(), opts)
	return cmd
}

func bindFlags(f *pflag.FlagSet, o *rootOptions) {
	c := &o.flags
	f.StringVarP(&o.configPath, "config", "c", "", "path to a YAML config file")
	f.StringVar(&c.Host, "host", c.Host, "listen host")
	f.IntVarP(&c.Port, "port", "p", c.Port, "listen port")
	f.StringVar(&c.TLSCertFile, "tls-cert", c.TLSCertFile, "TLS certificate file")
	f.StringVar(&c.TLSKeyFile, "tls-key", c.TLSKeyFile, "TLS private key file")
	f.BoolVar(&c.NoTLS, "no-tls", c.NoTLS, "serve plain HTTP instead of TLS")
	f.IntVar(&c.MaxReconnectAttempts, "max-reconnect-attempts", c.MaxReconnectAttempts, "target reconnections before a relay session gives up")
	f.DurationVar(&c.ReconnectDelay, "reconnect-delay", c.ReconnectDelay, "fixed delay between target reconnections")
	f.DurationVar(&c.DialTimeout, "dial-timeout", c.DialTimeout, "timeout for one target WebSocket dial")
	f.Int64Var(&c.MaxMessageBytes, "max-message-bytes", c.MaxMessageBytes, "largest WebSocket message accepted from either side")
	f.DurationVar(&c.ProxyTimeout, "proxy-timeout", c.ProxyTimeout, "upstream round-trip timeout for /proxy")
	f.Int64Var(&c.MaxBodyBytes, "max-body-bytes", c.MaxBodyBytes, "largest /proxy request body")
	f.StringVar(&c.UserAgent, "user-agent", c.UserAgent, "User-Agent sent upstream by /proxy")
	f.StringVar(&c.AppIDHeader, "appid-header", c.AppIDHeader, "header carrying the application identifier")
	f.StringVar(&c.DeflateFraming, "deflate-framing", c.DeflateFraming, "framing of deflate bodies: raw, zlib or auto")
	f.BoolVar(&c.InsecureSkipVerify, "insecure-skip-verify", c.InsecureSkipVerify, "skip TLS verification of targets and upstreams")
	f.StringVar(&c.HistoryDB, "history-db", c.HistoryDB, "SQLite file for the proxy and session journal (empty disables it)")
	f.DurationVar(&c.HistoryRetention, "history-retention", c.HistoryRetention, "age after which journal rows are pruned (0 keeps them)")
	f.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level")
	f.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: text or json")
	f.DurationVar(&c.ShutdownGrace, "shutdown-grace", c.ShutdownGrace, "time allowed for in-flight requests on shutdown")
}

// loadConfig layers defaults, the YAML file, the environment and finally the
// flags the user actually set.
func loadConfig(flags *pflag.FlagSet, configPath string, flagCfg config.Config, lookup func(string) (string, bool)) (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}

	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = flagCfg.Host
		case "port":
			cfg.Port = flagCfg.Port
		case "tls-cert":
			cfg.TLSCertFile = flagCfg.TLSCertFile
		case "tls-key":
			cfg.TLSKeyFile = flagCfg.TLSKeyFile
		case "no-tls":
			cfg.NoTLS = flagCfg.NoTLS
		case "max-reconnect-attempts":
			cfg.MaxReconnectAttempts = flagCfg.MaxReconnectAttempts
		case "reconnect-delay":
			cfg.ReconnectDelay = flagCfg.ReconnectDelay
		case "dial-timeout":
			cfg.DialTimeout = flagCfg.DialTimeout
		case "max-message-bytes":
			cfg.MaxMessageBytes = flagCfg.MaxMessageBytes
		case "proxy-timeout":
			cfg.ProxyTimeout = flagCfg.ProxyTimeout
		case "max-body-bytes":
			cfg.MaxBodyBytes = flagCfg.MaxBodyBytes
		case "user-agent":
			cfg.UserAgent = flagCfg.UserAgent
		case "appid-header":
			cfg.AppIDHeader = flagCfg.AppIDHeader
		case "deflate-framing":
			cfg.DeflateFraming = flagCfg.DeflateFraming
		case "insecure-skip-verify":
			cfg.InsecureSkipVerify = flagCfg.InsecureSkipVerify
		case "history-db":
			cfg.HistoryDB = flagCfg.HistoryDB
		case "history-retention":
			cfg.HistoryRetention = flagCfg.HistoryRetention
		case "log-level":
			cfg.LogLevel = flagCfg.LogLevel
		case "log-format":
			cfg.LogFormat = flagCfg.LogFormat
		case "shutdown-grace":
			cfg.ShutdownGrace = flagCfg.ShutdownGrace
		}
	})

	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func setupLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return errors.Errorf("unknown log format %q", format)
	}
	log.SetOutput(os.Stdout)
	return nil
}
