package app

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
)

// GetDefaults resolves the CLI's default locations and identity. Each value
// comes from the first source that is set:
//
//	config_path  STASH_CONFIG_PATH, $XDG_CONFIG_HOME/stash.toml, ~/.config/stash.toml
//	base_dir     STASH_HOME, $XDG_DATA_HOME/stash, ~/.local/share/stash
//	owner        STASH_OWNER, the login name of the current user
//
// log_dir is always base_dir/log.
func GetDefaults() (map[string]string, error) {
	home, homeErr := os.UserHomeDir()
	resolve := func(override, xdg, rel string, fallback ...string) (string, error) {
		if v := os.Getenv(override); v != "" {
			return v, nil
		}
		if v := os.Getenv(xdg); v != "" {
			return filepath.Join(v, rel), nil
		}
		if homeErr != nil {
			return "", fmt.Errorf("%s unset and no home directory: %w", override, homeErr)
		}
		return filepath.Join(append([]string{home}, append(fallback, rel)...)...), nil
	}

	configPath, err := resolve("STASH_CONFIG_PATH", "XDG_CONFIG_HOME", "stash.toml", ".config")
	if err != nil {
		return nil, err
	}
	baseDir, err := resolve("STASH_HOME", "XDG_DATA_HOME", "stash", ".local", "share")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"owner":       currentOwner(),
	}, nil
}

func currentOwner() string {
	if owner := os.Getenv("STASH_OWNER"); owner != "" {
		return owner
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}
