package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"zmfs/internal/config"
	"zmfs/internal/connection"
	"zmfs/internal/dsname"
	"zmfs/internal/logging"
	"zmfs/internal/vfs"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile   string
	profile   string
	logLevel  string
	logFormat string
	cfg       *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "zm",
	Short: "z/OS data set browser and filesystem",
	Long: `zm works with z/OS data sets as files: list, read, edit, copy, move
and rename partitioned and sequential data sets, or mount them with FUSE.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "setup" {
			return initLogging(config.LogConfig{})
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if profile != "" {
			cfg.DefaultProfile = profile
		}

		return initLogging(cfg.Log)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logging.Sync()
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.zmconfig)")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "profile to use (overrides default)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: console, json")
}

func initLogging(lc config.LogConfig) error {
	lcfg := logging.Config{Level: lc.Level, Format: lc.Format, OutputPath: lc.Output}
	if logLevel != "" {
		lcfg.Level = logLevel
	}
	if logFormat != "" {
		lcfg.Format = logFormat
	}
	if err := logging.Init(lcfg); err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}
	return nil
}

func GetConfig() *config.Config {
	return cfg
}

func GetCurrentProfile() (*config.Profile, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	return cfg.GetProfile(cfg.DefaultProfile)
}

// profileNames returns the configured profile names, sorted.
func profileNames() []string {
	names := make([]string, 0, len(cfg.Profiles))
	for name := range cfg.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// session wires the connection pool into a filesystem provider for one
// command invocation.
type session struct {
	profile  string
	pool     *connection.Pool
	provider *vfs.Provider
	log      *zap.Logger
}

func openSession() (*session, error) {
	if _, err := GetCurrentProfile(); err != nil {
		return nil, err
	}

	pool := connection.NewPool(cfg, connection.WithPoolLogger(logging.Named("pool")))
	return &session{
		profile:  cfg.DefaultProfile,
		pool:     pool,
		provider: vfs.New(pool, vfs.WithLogger(logging.Named("vfs"))),
		log:      logging.L(),
	}, nil
}

func (s *session) Close() {
	if err := s.pool.Close(); err != nil {
		s.log.Warn("failed to close connections", zap.Error(err))
	}
}

// uri converts a command-line name into a virtual path. See toURI.
func (s *session) uri(arg string) (string, error) {
	return toURI(s.profile, arg)
}

// toURI accepts a virtual path (/profile/DS[/MEMBER]) or a data set name
// in DS or DS(MEMBER) form, optionally quoted, for the given profile.
func toURI(profile, arg string) (string, error) {
	if arg == "" {
		return "", fmt.Errorf("name cannot be empty")
	}
	if strings.HasPrefix(arg, "/") {
		addr, err := vfs.Parse(arg)
		if err != nil {
			return "", err
		}
		return addr.URI(), nil
	}

	name := dsname.Normalize(arg)
	dataset, member := connection.SplitQualified(name)
	if strings.HasSuffix(name, "()") {
		return "", fmt.Errorf("invalid dataset format: %s (empty member name)", arg)
	}
	if err := dsname.ValidateDataset(dataset); err != nil {
		return "", err
	}
	if member != "" {
		if err := dsname.ValidateMember(member); err != nil {
			return "", err
		}
	}
	return vfs.Join(profile, dataset, member), nil
}
