package ctl

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clubhouse/cmd/identity"
	"clubhouse/cmd/internal/auth/session"
)

type run struct {
	code   int
	stdout string
	stderr string
}

func invoke(t *testing.T, stdin string, args ...string) run {
	t.Helper()
	var out, errOut bytes.Buffer
	code := Run(context.Background(), args, strings.NewReader(stdin), &out, &errOut)
	return run{code: code, stdout: out.String(), stderr: errOut.String()}
}

// memoryAccounts swaps the Postgres seam for in-memory stores shared
// across invocations within one test.
func memoryAccounts(t *testing.T) *identity.MemoryStore {
	t.Helper()
	t.Setenv("CLUB_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("CLUB_ARGON2_ITERATIONS", "1")

	users := identity.NewMemoryStore()
	svc, err := newAccounts(users, session.NewMemoryStore())
	require.NoError(t, err)

	prev := openAccounts
	openAccounts = func(context.Context, string, string) (bootstrapper, func(), error) {
		return svc, func() {}, nil
	}
	t.Cleanup(func() { openAccounts = prev })
	return users
}

func TestRun_Usage(t *testing.T) {
	r := invoke(t, "")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.stderr, "usage: clubctl")

	r = invoke(t, "", "help")
	assert.Equal(t, 0, r.code)
	assert.Contains(t, r.stdout, "add-admin")

	r = invoke(t, "", "frobnicate")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.stderr, `unknown command "frobnicate"`)
}

func TestRun_MigrateArguments(t *testing.T) {
	t.Setenv("CLUB_DATABASE_URL", "")

	r := invoke(t, "", "migrate")
	assert.Equal(t, 2, r.code)

	r = invoke(t, "", "migrate", "sideways", "-database-url", "postgres://unused")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.stderr, `unknown migrate action "sideways"`)

	r = invoke(t, "", "migrate", "up")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.stderr, "CLUB_DATABASE_URL")
}

func TestAddAdmin_RequiresUsername(t *testing.T) {
	r := invoke(t, "secret-pass\n", "add-admin", "-password-stdin", "-database-url", "postgres://unused")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.stderr, "-username is required")
}

func TestAddAdmin_CreatesThenPromotes(t *testing.T) {
	users := memoryAccounts(t)

	r := invoke(t, "s3cret-pass\n", "add-admin", "-username", "root_admin", "-password-stdin", "-database-url", "postgres://unused")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "created administrator root_admin")
	assert.True(t, users.HasEmail("root_admin@localhost"))

	u, err := users.GetUserByUsername(context.Background(), "root_admin")
	require.NoError(t, err)
	assert.True(t, u.IsAdmin)

	r = invoke(t, "ignored\n", "add-admin", "-username", "root_admin", "-password-stdin", "-database-url", "postgres://unused")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "promoted root_admin")

	r = invoke(t, "ignored\n", "add-admin", "-username", "root_admin", "-password-stdin", "-fail-if-exists", "-database-url", "postgres://unused")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "error:")
}

func TestAddAdmin_CustomEmailAndValidation(t *testing.T) {
	users := memoryAccounts(t)

	r := invoke(t, "s3cret-pass\n", "add-admin", "-username", "ops", "-email", "ops@example.org", "-password-stdin", "-database-url", "postgres://unused")
	require.Equal(t, 0, r.code, r.stderr)
	assert.True(t, users.HasEmail("ops@example.org"))

	r = invoke(t, "short\n", "add-admin", "-username", "ops2", "-password-stdin", "-database-url", "postgres://unused")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "password")
}

type fakeTTY struct{ *strings.Reader }

func (fakeTTY) Fd() uintptr { return 0 }

func stubTerminal(t *testing.T, tty bool, answers ...string) {
	t.Helper()
	prevRead, prevTerm := readPassword, isTerminal
	isTerminal = func(int) bool { return tty }
	readPassword = func(int) ([]byte, error) {
		if len(answers) == 0 {
			return nil, assert.AnError
		}
		a := answers[0]
		answers = answers[1:]
		return []byte(a), nil
	}
	t.Cleanup(func() { readPassword, isTerminal = prevRead, prevTerm })
}

func TestReadAdminPassword_Terminal(t *testing.T) {
	stubTerminal(t, true, "s3cret-pass", "s3cret-pass")

	var w bytes.Buffer
	pw, err := readAdminPassword(fakeTTY{strings.NewReader("")}, &w, false)
	require.NoError(t, err)
	assert.Equal(t, "s3cret-pass", pw)
	assert.Contains(t, w.String(), "Confirm password: ")
}

func TestReadAdminPassword_Mismatch(t *testing.T) {
	stubTerminal(t, true, "one-password", "another-one")

	_, err := readAdminPassword(fakeTTY{strings.NewReader("")}, &bytes.Buffer{}, false)
	assert.ErrorIs(t, err, errPasswordMismatch)
}

func TestReadAdminPassword_NotATerminal(t *testing.T) {
	stubTerminal(t, false)

	_, err := readAdminPassword(fakeTTY{strings.NewReader("")}, &bytes.Buffer{}, false)
	assert.ErrorIs(t, err, errUsage)

	_, err = readAdminPassword(strings.NewReader(""), &bytes.Buffer{}, false)
	assert.ErrorIs(t, err, errUsage)
}

func TestReadAdminPassword_StdinWithoutNewline(t *testing.T) {
	pw, err := readAdminPassword(strings.NewReader("no-newline"), &bytes.Buffer{}, true)
	require.NoError(t, err)
	assert.Equal(t, "no-newline", pw)

	_, err = readAdminPassword(strings.NewReader(""), &bytes.Buffer{}, true)
	assert.Error(t, err)
}
