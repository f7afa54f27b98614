package fuse

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// MountOptions contains FUSE mount options.
type MountOptions struct {
	ReadOnly     bool          `yaml:"read_only"`
	AllowOther   bool          `yaml:"allow_other"`
	Debug        bool          `yaml:"debug"`
	FSName       string        `yaml:"fsname"`
	AttrTimeout  time.Duration `yaml:"attr_timeout"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
}

// DefaultMountOptions returns the options used when none are supplied.
func DefaultMountOptions() *MountOptions {
	return &MountOptions{
		FSName:       "asyncfs",
		AttrTimeout:  time.Second,
		EntryTimeout: time.Second,
	}
}

// MountManager owns one kernel mount of a bridge.
type MountManager struct {
	bridge     *Bridge
	mountPoint string
	options    *MountOptions
	server     *fuse.Server
	logger     *slog.Logger
}

// NewMountManager creates a mount manager for the bridge.
func NewMountManager(bridge *Bridge, mountPoint string, options *MountOptions) *MountManager {
	if options == nil {
		options = DefaultMountOptions()
	}
	return &MountManager{
		bridge:     bridge,
		mountPoint: mountPoint,
		options:    options,
		logger:     slog.Default().With("component", "fuse-mount", "mount_point", mountPoint),
	}
}

// Mount attaches the filesystem to the kernel.
func (m *MountManager) Mount() error {
	if m.server != nil {
		return fmt.Errorf("filesystem is already mounted")
	}

	info, err := os.Stat(m.mountPoint)
	if err != nil {
		return fmt.Errorf("invalid mount point: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount point %s is not a directory", m.mountPoint)
	}

	attrTimeout := m.options.AttrTimeout
	entryTimeout := m.options.EntryTimeout
	server, err := fs.Mount(m.mountPoint, m.bridge.Root(), &fs.Options{
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     m.options.FSName,
			Name:       "asyncfs",
			AllowOther: m.options.AllowOther,
			Debug:      m.options.Debug,
			Options:    mountFlagList(m.options),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to mount: %w", err)
	}

	m.server = server
	m.logger.Info("filesystem mounted")
	return nil
}

func mountFlagList(options *MountOptions) []string {
	var flags []string
	if options.ReadOnly {
		flags = append(flags, "ro")
	}
	return flags
}

// Wait blocks until the filesystem is unmounted.
func (m *MountManager) Wait() {
	if m.server != nil {
		m.server.Wait()
	}
}

// Unmount detaches the filesystem.
func (m *MountManager) Unmount() error {
	if m.server == nil {
		return nil
	}
	if err := m.server.Unmount(); err != nil {
		return fmt.Errorf("failed to unmount: %w", err)
	}
	m.logger.Info("filesystem unmounted")
	m.server = nil
	return nil
}
