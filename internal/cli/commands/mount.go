// Copyright 2026 MemFuse Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"memfuse/internal/daemon"
)

var mountCmd = &cobra.Command{
	Use:   "mount <mount-point>",
	Short: "Mount an in-memory filesystem",
	Long: `Mounts an in-memory filesystem at the specified mount point and serves
it in the foreground until interrupted or unmounted externally.

Everything lives in memory; unmounting discards the tree after a final
flush through the persistence hooks.

Examples:
  memfuse mount ./scratch
  memfuse mount /mnt/scratch --autosync 10s --log-level debug`,
	Args: cobra.ExactArgs(1),
	RunE: runMount,
}

var (
	mountAutosync   time.Duration
	mountLogLevel   string
	mountVolumeName string
	mountFUSEDebug  bool
)

func init() {
	rootCmd.AddCommand(mountCmd)
	mountCmd.Flags().DurationVar(&mountAutosync, "autosync", -1, "Quiet period before dirty entries are flushed (0 disables, default from settings)")
	mountCmd.Flags().StringVar(&mountLogLevel, "log-level", "", "Log level: trace, debug, info, warn, off (default from settings)")
	mountCmd.Flags().StringVar(&mountVolumeName, "volume-name", "", "Volume name shown by the OS (default from settings)")
	mountCmd.Flags().BoolVar(&mountFUSEDebug, "fuse-debug", false, "Log raw kernel requests and responses")
}

func runMount(cmd *cobra.Command, args []string) error {
	if err := configureLogging(mountLogLevel); err != nil {
		return err
	}

	settings, err := daemon.LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	autosync := settings.AutosyncDelay.Std()
	if mountAutosync >= 0 {
		autosync = mountAutosync
	}
	volumeName := settings.VolumeName
	if mountVolumeName != "" {
		volumeName = mountVolumeName
	}

	mountPoint, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve mount point: %w", err)
	}
	if info, serr := os.Stat(mountPoint); serr != nil {
		return fmt.Errorf("mount point not accessible: %w", serr)
	} else if !info.IsDir() {
		return fmt.Errorf("mount point is not a directory: %s", mountPoint)
	}

	ctx := context.Background()
	d, err := daemon.Mount(ctx, daemon.MountOptions{
		MountPoint:    mountPoint,
		VolumeName:    volumeName,
		AutosyncDelay: autosync,
		FUSEDebug:     mountFUSEDebug,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Mounted at %s (Ctrl-C to unmount)\n", mountPoint)

	// Unmount on SIGINT/SIGTERM; Join returns when the kernel lets go,
	// including external umount(8).
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan error, 1)
	go func() { done <- d.Join(ctx) }()

	select {
	case sig := <-sigCh:
		log.Infof("[CLI] received %v, unmounting", sig)
		if uerr := d.Unmount(ctx); uerr != nil {
			return uerr
		}
		<-done
	case jerr := <-done:
		if jerr != nil {
			return fmt.Errorf("mount ended with error: %w", jerr)
		}
	}

	fmt.Println("Unmounted")
	return nil
}
