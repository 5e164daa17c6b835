package encryptors

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/anvil/internal/logging"
	"github.com/jbweber/anvil/internal/naming"
	"github.com/jbweber/anvil/internal/shell"
)

// mapperPath locates device-mapper nodes. Tests point it elsewhere.
var mapperPath = naming.MapperPath

// LUKS opens a LUKS container on the volume's device path and re-points the
// device path at the mapped device.
type LUKS struct {
	// DevicePath is the symlink the volume connector created.
	DevicePath string

	Runner shell.Runner
	Keys   KeyManager
	Log    logrus.FieldLogger
}

// Attach runs cryptsetup luksOpen with the volume key on stdin.
func (l *LUKS) Attach(ctx context.Context, meta *Metadata) AttachResult {
	passphrase, err := passphraseFor(ctx, l.Keys, meta)
	if err != nil {
		return AttachResult{Status: AttachFatal, ExitCode: -1, Err: err}
	}

	name := naming.CryptName(l.DevicePath)
	_, err = l.Runner.Run(ctx, strings.NewReader(passphrase),
		"cryptsetup", "luksOpen", "--key-file=-", l.DevicePath, name)
	if result := resultFromError(err); result.Status != AttachOK {
		return adoptMapping(l.DevicePath, name, result)
	}

	if err := repoint(l.DevicePath, mapperPath(name)); err != nil {
		return AttachResult{Status: AttachFatal, ExitCode: -1, Err: err}
	}

	logging.Ensure(l.Log).WithField(logging.FieldDevice, l.DevicePath).Debug("Opened LUKS mapping")
	return AttachResult{Status: AttachOK}
}

// Detach closes the LUKS mapping. A mapping that no longer exists is not an error.
func (l *LUKS) Detach(ctx context.Context, _ *Metadata) error {
	return closeMapping(ctx, l.Runner, l.Log, "luksClose", naming.CryptName(l.DevicePath))
}

// Plain opens a plain dm-crypt mapping on the volume's device path.
type Plain struct {
	DevicePath string

	Runner shell.Runner
	Keys   KeyManager
	Log    logrus.FieldLogger
}

// Attach runs cryptsetup create with the configured cipher and key size.
func (p *Plain) Attach(ctx context.Context, meta *Metadata) AttachResult {
	passphrase, err := passphraseFor(ctx, p.Keys, meta)
	if err != nil {
		return AttachResult{Status: AttachFatal, ExitCode: -1, Err: err}
	}

	name := naming.CryptName(p.DevicePath)
	args := []string{"create", "--key-file=-"}
	if meta.Cipher != "" {
		args = append(args, "--cipher", meta.Cipher)
	}
	if meta.KeySize > 0 {
		args = append(args, "--key-size", strconv.Itoa(meta.KeySize))
	}
	args = append(args, name, p.DevicePath)

	_, err = p.Runner.Run(ctx, strings.NewReader(passphrase), "cryptsetup", args...)
	if result := resultFromError(err); result.Status != AttachOK {
		return adoptMapping(p.DevicePath, name, result)
	}

	if err := repoint(p.DevicePath, mapperPath(name)); err != nil {
		return AttachResult{Status: AttachFatal, ExitCode: -1, Err: err}
	}
	return AttachResult{Status: AttachOK}
}

// Detach removes the plain mapping.
func (p *Plain) Detach(ctx context.Context, _ *Metadata) error {
	return closeMapping(ctx, p.Runner, p.Log, "remove", naming.CryptName(p.DevicePath))
}

func passphraseFor(ctx context.Context, keys KeyManager, meta *Metadata) (string, error) {
	if keys == nil {
		return "", fmt.Errorf("no key manager configured")
	}
	key, err := keys.Key(ctx, meta.KeyID)
	if err != nil {
		return "", fmt.Errorf("failed to get key %s: %w", meta.KeyID, err)
	}
	return hex.EncodeToString(key), nil
}

func closeMapping(ctx context.Context, runner shell.Runner, log logrus.FieldLogger, verb, name string) error {
	_, err := runner.Run(ctx, nil, "cryptsetup", verb, name)
	if err == nil {
		return nil
	}
	if shell.ExitStatus(err) == exitNoSuchDevice {
		logging.Ensure(log).WithField(logging.FieldDevice, name).Debug("Crypt mapping already removed")
		return nil
	}
	return fmt.Errorf("failed to close crypt mapping %s: %w", name, err)
}

// adoptMapping points devicePath at a mapping that survived from an
// earlier attach, since the volume connector has just re-pointed it at the
// raw device. Other results pass through unchanged.
func adoptMapping(devicePath, name string, result AttachResult) AttachResult {
	if result.Status != AttachAlreadyEncrypted {
		return result
	}
	mapped := mapperPath(name)
	if _, err := os.Stat(mapped); err != nil {
		return result
	}
	if err := repoint(devicePath, mapped); err != nil {
		return AttachResult{Status: AttachFatal, ExitCode: -1, Err: err}
	}
	return result
}

// repoint replaces the symlink at link so it targets target.
func repoint(link, target string) error {
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", link, err)
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("failed to link %s to %s: %w", link, target, err)
	}
	return nil
}
