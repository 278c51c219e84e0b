// Package cli implements the upack command-line interface.
package cli

import (
	"io"
	"os/user"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/upackio/upack/pkg/buildinfo"
	"github.com/upackio/upack/pkg/errors"
	"github.com/upackio/upack/pkg/feed"
	"github.com/upackio/upack/pkg/registry"
)

// appName is the application name used for directories and display.
const appName = "upack"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configOnce sync.Once
	config     *Config
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "upack is a client for universal package feeds",
		Long:         `upack downloads, installs, inspects, and publishes universal packages from universal feeds, keeping a local registry of what was installed where.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
	}

	root.SetVersionTemplate(buildinfo.Template())

	root.AddCommand(c.installCommand())
	root.AddCommand(c.treeCommand())
	root.AddCommand(c.listCommand())
	root.AddCommand(c.infoCommand())
	root.AddCommand(c.pushCommand())
	root.AddCommand(c.verifyCommand())
	root.AddCommand(c.hashCommand())
	root.AddCommand(c.unpackCommand())

	return root
}

// loadConfig reads the config file once. A broken config file is reported
// and ignored rather than failing every command.
func (c *CLI) loadConfig() *Config {
	c.configOnce.Do(func() {
		cfg, err := readConfig()
		if err != nil {
			c.Logger.Warnf("Ignoring config file: %v", err)
			cfg = &Config{}
		}
		c.config = cfg
	})
	return c.config
}

// feedClient builds the feed client from the --source and --user flags,
// falling back to config file defaults.
func (c *CLI) feedClient(source, userSpec string) (*feed.Client, error) {
	cfg := c.loadConfig()

	if source == "" {
		source = cfg.Source
	}
	if source == "" {
		return nil, errors.New(errors.ErrCodeInvalidPackage, "no feed URL: pass --source or set one in the config file")
	}

	if userSpec == "" {
		userSpec = cfg.User
	}
	creds, err := parseCredentials(userSpec)
	if err != nil {
		return nil, err
	}

	return feed.NewClient(source, creds), nil
}

// parseCredentials splits a "username:password" spec.
func parseCredentials(spec string) (*feed.Credentials, error) {
	if spec == "" {
		return nil, nil
	}
	username, password, ok := strings.Cut(spec, ":")
	if !ok {
		return nil, errors.New(errors.ErrCodeInvalidPackage, "credentials must have the form username:password")
	}
	return &feed.Credentials{Username: username, Password: password}, nil
}

// pickRegistry selects the registry the flags ask for, with the config
// file's default scope applied when neither flag is set.
func (c *CLI) pickRegistry(userRegistry, unregistered bool) (registry.Registry, error) {
	if unregistered {
		return registry.Unregistered(), nil
	}
	if !userRegistry && c.loadConfig().Registry == "user" {
		userRegistry = true
	}

	var reg registry.Registry
	var err error
	if userRegistry {
		reg, err = registry.User()
		if err != nil {
			return registry.Registry{}, err
		}
	} else {
		reg = registry.Machine()
	}
	return reg.WithLogger(func(format string, args ...any) {
		c.Logger.Warnf(format, args...)
	}), nil
}

// currentUserName returns the local account name for installed-by records,
// empty when it cannot be determined.
func currentUserName() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}
