package envfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestEnsure_ExistingFileUntouched(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env.staging")
	writeFile(t, path, "DSN=postgres://live\n")

	created, err := Ensure(path)
	require.NoError(t, err)
	require.False(t, created)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "DSN=postgres://live\n", string(data))
}

func TestEnsure_CopiesExample(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, ".env.staging")
	writeFile(t, path+ExampleSuffix, "DSN=\nCLERK_API_KEY=\n")

	created, err := Ensure(path)
	require.NoError(t, err)
	require.True(t, created)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "DSN=\nCLERK_API_KEY=\n", string(data))
}

func TestEnsure_MissingBothFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env.staging")
	_, err := Ensure(path)
	require.ErrorIs(t, err, ErrMissingEnvFile)
}

func TestLoad_ParsesDotenvSyntax(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	writeFile(t, path, "# comment\nDSN=\"postgres://u:p@db/app\"\nexport CONCURRENCY=4\n")

	vars, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://u:p@db/app", vars["DSN"])
	require.Equal(t, "4", vars["CONCURRENCY"])
}

func TestValidate_ReportsAllMissingKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	writeFile(t, path, "DSN=postgres://db\nCLERK_API_KEY=\n")

	err := Validate(path, []string{"DSN", "CLERK_API_KEY", "STRIPE_SECRET_KEY"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "CLERK_API_KEY")
	require.Contains(t, err.Error(), "STRIPE_SECRET_KEY")
	require.NotContains(t, err.Error(), "DSN,")
}

func TestValidate_AllPresent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	writeFile(t, path, "DSN=postgres://db\nCLERK_API_KEY=ck_live\n")

	require.NoError(t, Validate(path, []string{"DSN", "CLERK_API_KEY"}))
}

func TestSet_ReplacesInPlace(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	writeFile(t, path, "# scraper settings\nCONCURRENCY=2\nDSN=postgres://db\n")

	require.NoError(t, Set(path, "CONCURRENCY", "8"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "# scraper settings\nCONCURRENCY=8\nDSN=postgres://db\n", string(data))
}

func TestSet_AppendsNewKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	writeFile(t, path, "DSN=postgres://db\n")

	require.NoError(t, Set(path, "NO_CACHE", "1"))

	vars, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "1", vars["NO_CACHE"])
	require.Equal(t, "postgres://db", vars["DSN"])
}

func TestSet_HandlesExportPrefix(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	writeFile(t, path, "export CONCURRENCY=2\n")

	require.NoError(t, Set(path, "CONCURRENCY", "16"))

	vars, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "16", vars["CONCURRENCY"])
}
