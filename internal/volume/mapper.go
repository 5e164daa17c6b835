package volume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/anvil/internal/logging"
	"github.com/jbweber/anvil/internal/shell"
)

// exitBusy is the rbd exit code for EBUSY.
const exitBusy = 16

// LocalMapper maps a network volume onto a local block device.
type LocalMapper interface {
	// Connect maps the volume and returns the local device path.
	Connect(ctx context.Context, data NetConnectionData) (string, error)

	// Disconnect unmaps the volume. It wraps ErrDeviceNotFound when no
	// mapping exists.
	Disconnect(ctx context.Context, data NetConnectionData) error
}

// RBDMapper maps RBD images with the rbd CLI.
type RBDMapper struct {
	Runner shell.Runner

	User     string
	Cluster  string
	ConfPath string
	MonHosts []string

	// UseMultipath is accepted for parity with other block transports.
	// RBD mappings are single-path.
	UseMultipath bool

	// UnmapAttempts bounds the retries of a busy unmap.
	UnmapAttempts uint
	// UnmapBackoff is the base of the Fibonacci backoff between retries.
	UnmapBackoff time.Duration

	Log logrus.FieldLogger
}

// NewRBDMapper returns a mapper that runs rbd through runner.
func NewRBDMapper(runner shell.Runner, log logrus.FieldLogger) *RBDMapper {
	return &RBDMapper{
		Runner:        runner,
		Cluster:       "ceph",
		UnmapAttempts: 5,
		UnmapBackoff:  500 * time.Millisecond,
		Log:           logging.Ensure(log),
	}
}

func (m *RBDMapper) commonArgs(data NetConnectionData) []string {
	var args []string
	user := m.User
	if data.AuthUsername != "" {
		user = data.AuthUsername
	}
	if user != "" {
		args = append(args, "--id", user)
	}
	cluster := m.Cluster
	if data.ClusterName != "" {
		cluster = data.ClusterName
	}
	if cluster != "" {
		args = append(args, "--cluster", cluster)
	}
	if m.ConfPath != "" {
		args = append(args, "--conf", m.ConfPath)
	}

	monHosts := m.MonHosts
	if len(monHosts) == 0 {
		for i, host := range data.Hosts {
			if i < len(data.Ports) {
				host = host + ":" + data.Ports[i]
			}
			monHosts = append(monHosts, host)
		}
	}
	if len(monHosts) > 0 {
		args = append(args, "--mon_host", strings.Join(monHosts, ","))
	}
	return args
}

// Connect implements LocalMapper.
func (m *RBDMapper) Connect(ctx context.Context, data NetConnectionData) (string, error) {
	log := logging.ForVolume(m.Log, data.VolumeID)
	log.WithField("image", data.Name).WithField("multipath", m.UseMultipath).Info("Mapping RBD image on the host...")

	args := append([]string{"map", data.Name}, m.commonArgs(data)...)
	out, err := m.Runner.Run(ctx, nil, "rbd", args...)
	if err != nil {
		return "", fmt.Errorf("failed to map %s: %w", data.Name, err)
	}

	if device := strings.TrimSpace(out); strings.HasPrefix(device, "/dev/") {
		return device, nil
	}

	// Older rbd releases print nothing on map.
	return m.findDevice(ctx, data)
}

// Disconnect implements LocalMapper.
func (m *RBDMapper) Disconnect(ctx context.Context, data NetConnectionData) error {
	device, err := m.findDevice(ctx, data)
	if err != nil {
		return err
	}

	log := logging.ForVolume(m.Log, data.VolumeID).WithField(logging.FieldDevice, device)
	log.Info("Unmapping RBD device...")

	var unmapErr error
	attempts := m.UnmapAttempts
	if attempts == 0 {
		attempts = 1
	}
	_ = retry.Retry(func(attempt uint) error {
		args := append([]string{"unmap", device}, m.commonArgs(data)...)
		_, unmapErr = m.Runner.Run(ctx, nil, "rbd", args...)
		if unmapErr != nil && shell.ExitStatus(unmapErr) == exitBusy {
			log.WithField("attempt", attempt).Debug("RBD device busy, retrying unmap")
			return unmapErr
		}
		return nil
	}, strategy.Limit(attempts), strategy.Backoff(backoff.Fibonacci(m.UnmapBackoff)))

	if unmapErr != nil {
		return fmt.Errorf("failed to unmap %s: %w", device, unmapErr)
	}
	return nil
}

// mappedImage is one entry of `rbd showmapped --format json`.
type mappedImage struct {
	ID        string `json:"id"`
	Pool      string `json:"pool"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Snap      string `json:"snap"`
	Device    string `json:"device"`
}

// findDevice returns the local device mapping data.Name.
func (m *RBDMapper) findDevice(ctx context.Context, data NetConnectionData) (string, error) {
	args := append([]string{"showmapped", "--format", "json"}, m.commonArgs(data)...)
	out, err := m.Runner.Run(ctx, nil, "rbd", args...)
	if err != nil {
		return "", fmt.Errorf("failed to list mapped rbd devices: %w", err)
	}

	images, err := parseShowmapped(out)
	if err != nil {
		return "", err
	}

	for _, image := range images {
		if image.Pool == data.Pool() && image.Name == data.Image() && (image.Snap == "" || image.Snap == "-") {
			return image.Device, nil
		}
	}
	return "", fmt.Errorf("%s: %w", data.Name, ErrDeviceNotFound)
}

// parseShowmapped accepts both the list form (Nautilus and later) and the
// object-keyed-by-id form of older releases.
func parseShowmapped(out string) ([]mappedImage, error) {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}

	var images []mappedImage
	listErr := json.Unmarshal([]byte(out), &images)
	if listErr == nil {
		return images, nil
	}

	var byID map[string]mappedImage
	if err := json.Unmarshal([]byte(out), &byID); err != nil {
		return nil, fmt.Errorf("failed to parse rbd showmapped output: %w", errors.Join(listErr, err))
	}
	for id, image := range byID {
		image.ID = id
		images = append(images, image)
	}
	return images, nil
}
