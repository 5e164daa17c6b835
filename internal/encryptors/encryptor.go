// Package encryptors resolves per-volume encryption metadata and drives the
// host-side encryptors (LUKS, plain dm-crypt) that sit between a mapped
// block device and the guest.
//
// Attach reports a tagged AttachResult instead of an error so callers can
// tell "already encrypted" apart from a real failure without inspecting
// exit codes themselves. AttachVolume applies the start-path policy.
package encryptors

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/logging"
	"github.com/jbweber/anvil/internal/shell"
)

// cryptsetup exit codes.
const (
	// ExitAlreadyEncrypted means the mapping already exists.
	ExitAlreadyEncrypted = 5

	// exitNoSuchDevice means the mapping to close is gone.
	exitNoSuchDevice = 4
)

// AttachStatus tags the outcome of an attach.
type AttachStatus int

const (
	AttachOK AttachStatus = iota
	AttachAlreadyEncrypted
	AttachFatal
)

func (s AttachStatus) String() string {
	switch s {
	case AttachOK:
		return "ok"
	case AttachAlreadyEncrypted:
		return "already-encrypted"
	default:
		return "fatal"
	}
}

// AttachResult is the outcome of Encryptor.Attach.
type AttachResult struct {
	Status AttachStatus

	// ExitCode is the encryptor process exit code, -1 when none ran.
	ExitCode int

	// Err is set when Status is AttachFatal.
	Err error
}

// resultFromError classifies a cryptsetup failure.
func resultFromError(err error) AttachResult {
	if err == nil {
		return AttachResult{Status: AttachOK}
	}
	code := shell.ExitStatus(err)
	if code == ExitAlreadyEncrypted {
		return AttachResult{Status: AttachAlreadyEncrypted, ExitCode: code}
	}
	return AttachResult{Status: AttachFatal, ExitCode: code, Err: err}
}

// Encryptor attaches and detaches the encryption layer of one volume.
type Encryptor interface {
	Attach(ctx context.Context, meta *Metadata) AttachResult

	// Detach must succeed when the mapping is already gone.
	Detach(ctx context.Context, meta *Metadata) error
}

// EncryptionError is returned when an encryptor fails fatally.
type EncryptionError struct {
	VolumeID string
	Provider string
	ExitCode int
	Err      error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("encryptor %s failed for volume %s (exit code %d): %v",
		e.Provider, e.VolumeID, e.ExitCode, e.Err)
}

func (e *EncryptionError) Unwrap() error {
	return e.Err
}

// AttachVolume attaches enc and applies the exit-code policy: an already
// encrypted volume is logged and treated as success, anything else fatal
// becomes an EncryptionError.
func AttachVolume(ctx context.Context, enc Encryptor, volumeID string, meta *Metadata, log logrus.FieldLogger) error {
	result := enc.Attach(ctx, meta)

	switch result.Status {
	case AttachOK:
		return nil
	case AttachAlreadyEncrypted:
		logging.ForVolume(log, volumeID).Infof("Volume %s is already encrypted", volumeID)
		return nil
	default:
		provider := ""
		if meta != nil {
			provider = meta.Provider
		}
		return &EncryptionError{
			VolumeID: volumeID,
			Provider: provider,
			ExitCode: result.ExitCode,
			Err:      result.Err,
		}
	}
}

// Factory builds encryptors for volumes.
type Factory struct {
	Runner shell.Runner
	Keys   KeyManager
	Log    logrus.FieldLogger
}

// NewFactory returns an encryptor factory.
func NewFactory(runner shell.Runner, keys KeyManager, log logrus.FieldLogger) *Factory {
	return &Factory{Runner: runner, Keys: keys, Log: logging.Ensure(log)}
}

// Get returns the encryptor for a volume. The encryptor operates on the
// volume's current device_path, which for encrypted network volumes is the
// per-volume symlink.
func (f *Factory) Get(info *v1alpha1.ConnectionInfo, meta *Metadata) (Encryptor, error) {
	if meta == nil {
		return Nop{}, nil
	}

	provider := strings.ToLower(meta.Provider)
	switch provider {
	case "", "nop", "noop":
		return Nop{}, nil
	}

	devicePath := info.DevicePath()
	if devicePath == "" {
		return nil, fmt.Errorf("volume has no device_path for encryptor %s", meta.Provider)
	}

	switch provider {
	case "luks", "luksencryptor":
		return &LUKS{DevicePath: devicePath, Runner: f.Runner, Keys: f.Keys, Log: f.Log}, nil
	case "plain", "cryptsetup", "cryptsetupencryptor":
		return &Plain{DevicePath: devicePath, Runner: f.Runner, Keys: f.Keys, Log: f.Log}, nil
	default:
		return nil, fmt.Errorf("unknown encryption provider %q", meta.Provider)
	}
}

// Nop performs no encryption.
type Nop struct{}

// Attach implements Encryptor.
func (Nop) Attach(context.Context, *Metadata) AttachResult {
	return AttachResult{Status: AttachOK}
}

// Detach implements Encryptor.
func (Nop) Detach(context.Context, *Metadata) error {
	return nil
}
