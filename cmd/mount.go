package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"zmfs/internal/dsname"
	"zmfs/internal/fusefs"
	"zmfs/internal/metrics"
	"zmfs/internal/vfs"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	mountPattern     string
	mountMetricsAddr string
	mountAllowOther  bool
	mountDebugFuse   bool
)

var mountCmd = &cobra.Command{
	Use:   "mount <mountpoint>",
	Short: "Mount data sets as a FUSE filesystem",
	Long: `Mount every configured profile under mountpoint. Each profile directory
lists the data sets matching its patterns; partitioned data sets are
directories and members and sequential data sets are files.

Runs until interrupted, then unmounts.

Examples:
  zm mount ~/zos
  zm mount ~/zos --pattern 'USER.*,SYS1.PARMLIB' --metrics-addr :9102`,
	Args: cobra.ExactArgs(1),
	RunE: runMount,
}

func init() {
	rootCmd.AddCommand(mountCmd)
	mountCmd.Flags().StringVar(&mountPattern, "pattern", "", "listing patterns for the current profile, comma separated")
	mountCmd.Flags().StringVar(&mountMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	mountCmd.Flags().BoolVar(&mountAllowOther, "allow-other", false, "allow other users to access the mount")
	mountCmd.Flags().BoolVar(&mountDebugFuse, "debug-fuse", false, "log FUSE protocol traffic")
}

func runMount(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	profiles, err := mountProfiles(s.profile, mountPattern)
	if err != nil {
		return err
	}

	log := s.log.Named("fuse")
	stopWatch := s.provider.Watch(func(events []vfs.Event) {
		for _, e := range events {
			log.Debug("changed", zap.Stringer("type", e.Type), zap.String("uri", e.URI))
		}
	})
	defer stopWatch()

	if mountMetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              mountMetricsAddr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("metrics server listening", zap.String("addr", mountMetricsAddr))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(ctx)
		}()
	}

	fsys := fusefs.New(s.provider, fusefs.Config{
		Profiles:   profiles,
		AllowOther: mountAllowOther,
		Debug:      mountDebugFuse,
	}, log)
	server, err := fsys.Mount(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Mounted %d profile(s) at %s; press Ctrl+C to unmount\n", len(profiles), args[0])

	done := make(chan struct{})
	go func() {
		server.Wait()
		close(done)
	}()

	select {
	case <-cmd.Context().Done():
		log.Info("unmounting", zap.String("mountpoint", args[0]))
		if err := server.Unmount(); err != nil {
			return fmt.Errorf("failed to unmount %s: %w", args[0], err)
		}
		<-done
	case <-done:
	}
	return nil
}

// mountProfiles builds one mount directory per configured profile.
// override replaces the patterns of the current profile.
func mountProfiles(current, override string) ([]fusefs.Profile, error) {
	var profiles []fusefs.Profile
	for _, name := range profileNames() {
		prof, err := cfg.GetProfile(name)
		if err != nil {
			return nil, err
		}
		pattern := strings.Join(prof.ListPatterns(), ",")
		if name == current && override != "" {
			pattern = dsname.Normalize(override)
			for _, p := range strings.Split(pattern, ",") {
				if err := dsname.ValidatePattern(p); err != nil {
					return nil, err
				}
			}
		}
		if pattern == "" {
			return nil, fmt.Errorf("no listing pattern: set hlq or patterns in profile %s", name)
		}
		profiles = append(profiles, fusefs.Profile{Name: name, Pattern: pattern})
	}
	return profiles, nil
}
