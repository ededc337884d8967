//go:build linux

package devices

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/smazurov/v4l2queue/pkg/linuxav/v4l2"
)

var (
	linkDirs = []string{"/dev/v4l/by-id", "/dev/v4l/by-path"}
	lookupID = v4l2.GetDevicePathByID
)

// Resolve turns a device argument into a node path. Paths are returned as
// given; anything else is a stable device ID, looked up under /dev/v4l and
// then among the synthetic IDs FindDevices reports.
func Resolve(device string) (string, error) {
	if device == "" {
		return "", errors.New("empty device")
	}
	if strings.HasPrefix(device, "/") {
		return device, nil
	}

	for _, dir := range linkDirs {
		link := filepath.Join(dir, device)
		if _, err := os.Stat(link); err == nil {
			return link, nil
		}
	}

	path, err := lookupID(device)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", device, err)
	}
	return path, nil
}
