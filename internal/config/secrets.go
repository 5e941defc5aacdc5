package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecret returns the value of the secret name. NAME_FILE, when set,
// names a file holding the value (as mounted by docker or kubernetes
// secrets) and wins over NAME. Surrounding whitespace in the file is
// dropped. An unset secret yields "".
func ResolveSecret(name string) (string, error) {
	if path, ok := os.LookupEnv(name + "_FILE"); ok && path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("secret %s: %w", name, err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return os.Getenv(name), nil
}

// ResolveCredentials resolves a user/password pair. Both are empty when
// neither is configured.
func ResolveCredentials(userEnv, passEnv string) (user, pass string, err error) {
	if user, err = ResolveSecret(userEnv); err != nil {
		return "", "", err
	}
	if pass, err = ResolveSecret(passEnv); err != nil {
		return "", "", err
	}
	return user, pass, nil
}
