// Package envfile manages the dotenv files that drive deployments:
// example fallback, required-variable validation, in-place edits, and
// timestamped backups used for rollback.
package envfile

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/subosito/gotenv"
)

// ErrMissingEnvFile is returned when neither the env file nor its
// .example counterpart exists.
var ErrMissingEnvFile = errors.New("env file not found")

// ExampleSuffix is appended to an env file path to locate its template.
const ExampleSuffix = ".example"

// Ensure guarantees that path exists. If it is missing but an example
// file sits next to it, the example is copied into place and its path
// returned alongside created=true so callers can warn the operator.
func Ensure(path string) (created bool, err error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat env file %s: %w", path, err)
	}

	example := path + ExampleSuffix
	data, err := os.ReadFile(example)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Errorf("%w: %s (no %s either)", ErrMissingEnvFile, path, example)
		}
		return false, fmt.Errorf("read example env file %s: %w", example, err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return false, fmt.Errorf("copy example env file to %s: %w", path, err)
	}
	return true, nil
}

// Load parses the env file into a key/value map using dotenv semantics
// (comments, quoting, export prefixes).
func Load(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingEnvFile, path)
		}
		return nil, fmt.Errorf("open env file %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	vars, err := gotenv.StrictParse(f)
	if err != nil {
		return nil, fmt.Errorf("parse env file %s: %w", path, err)
	}
	return vars, nil
}

// Validate checks that every required key is present and non-empty.
// The returned error names all missing keys at once so the operator
// fixes them in a single pass.
func Validate(path string, required []string) error {
	vars, err := Load(path)
	if err != nil {
		return err
	}

	var missing []string
	for _, key := range required {
		if strings.TrimSpace(vars[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("env file %s is missing required variables: %s", path, strings.Join(missing, ", "))
	}
	return nil
}

// Set rewrites a single KEY=VALUE assignment in place, preserving all
// other lines, comments and ordering. A key that does not exist yet is
// appended at the end of the file.
func Set(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read env file %s: %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	replaced := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		trimmed = strings.TrimPrefix(trimmed, "export ")
		if strings.HasPrefix(trimmed, key+"=") {
			lines[i] = key + "=" + value
			replaced = true
			break
		}
	}
	if !replaced {
		// Keep a trailing newline at the end of the file.
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines[len(lines)-1] = key + "=" + value
			lines = append(lines, "")
		} else {
			lines = append(lines, key+"="+value)
		}
	}

	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		return fmt.Errorf("write env file %s: %w", path, err)
	}
	return nil
}
