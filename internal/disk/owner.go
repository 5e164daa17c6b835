package disk

import (
	"bufio"
	"fmt"
	"os"
	"os/user"
	"strings"
	"sync"
)

// QEMUConfPath is where libvirt's qemu driver configures its process user.
var QEMUConfPath = "/etc/libvirt/qemu.conf"

var (
	qemuUID  string
	qemuGID  string
	qemuOnce sync.Once
	qemuErr  error
)

// QEMUUserGroup returns the UID and GID qemu processes run as, cached after
// the first call. It tries the user/group in qemu.conf, then the common
// "qemu" and "libvirt-qemu" accounts, and finally falls back to 107 with a
// non-nil error alongside the values.
func QEMUUserGroup() (uid, gid string, err error) {
	qemuOnce.Do(func() {
		qemuUID, qemuGID, qemuErr = lookupQEMUUser(QEMUConfPath)
	})
	return qemuUID, qemuGID, qemuErr
}

func lookupQEMUUser(confPath string) (string, string, error) {
	username, groupname := parseQEMUConf(confPath)

	if username != "" {
		if u, err := user.Lookup(username); err == nil {
			gid := u.Gid
			if groupname != "" {
				if g, err := user.LookupGroup(groupname); err == nil {
					gid = g.Gid
				}
			}
			return u.Uid, gid, nil
		}
	}

	for _, name := range []string{"qemu", "libvirt-qemu"} {
		if u, err := user.Lookup(name); err == nil {
			return u.Uid, u.Gid, nil
		}
	}

	return "107", "107", fmt.Errorf("could not determine QEMU user/group, using fallback UID/GID 107")
}

// parseQEMUConf extracts the user and group settings from qemu.conf.
// Returns empty strings if the file doesn't exist or the settings aren't found.
func parseQEMUConf(path string) (username, groupname string) {
	file, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		switch strings.TrimSpace(key) {
		case "user":
			username = value
		case "group":
			groupname = value
		}
	}

	return username, groupname
}
