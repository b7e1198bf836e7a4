// Package ctl implements clubctl, the operator CLI: schema migrations and
// administrator bootstrap against the configured database.
package ctl

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"clubhouse/cmd/identity"
	"clubhouse/cmd/internal/account"
	"clubhouse/cmd/internal/app"
	"clubhouse/cmd/internal/auth/session"
	"clubhouse/cmd/internal/migrations"
	"clubhouse/cmd/security/password"
)

const usageText = `usage: clubctl <command> [flags]

commands:
  migrate up|down|status|version   manage the database schema
  add-admin -username NAME         create an administrator or promote an existing user

Database flags default to CLUB_DATABASE_URL and CLUB_DB_SCHEMA.
`

// errUsage marks argument errors; Run exits 2 for them.
var errUsage = errors.New("usage")

// Run executes one command and returns the process exit code.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return 2
	}

	var err error
	switch args[0] {
	case "migrate":
		err = runMigrate(ctx, args[1:], stdout, stderr)
	case "add-admin":
		err = runAddAdmin(ctx, args[1:], stdin, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usageText)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usageText)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintln(stderr, "error:", err)
		return 2
	default:
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
}

type dbFlags struct {
	url    string
	schema string
}

func (d *dbFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&d.url, "database-url", app.EnvString("CLUB_DATABASE_URL", ""), "Postgres connection string")
	fs.StringVar(&d.schema, "schema", app.EnvString("CLUB_DB_SCHEMA", identity.DefaultSchema), "Postgres schema")
}

func (d dbFlags) check() error {
	if strings.TrimSpace(d.url) == "" {
		return fmt.Errorf("%w: CLUB_DATABASE_URL or -database-url is required", errUsage)
	}
	return nil
}

func runMigrate(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var db dbFlags
	db.register(fs)

	if len(args) == 0 {
		return fmt.Errorf("%w: migrate needs one of up, down, status, version", errUsage)
	}
	action := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	switch action {
	case "up", "down", "status", "version":
	default:
		return fmt.Errorf("%w: unknown migrate action %q", errUsage, action)
	}
	if err := db.check(); err != nil {
		return err
	}

	sqlDB, err := migrations.Open(ctx, db.url, db.schema)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()

	switch action {
	case "up":
		err = migrations.Up(ctx, sqlDB)
	case "down":
		err = migrations.Down(ctx, sqlDB)
	case "status":
		err = migrations.Status(ctx, sqlDB)
	case "version":
		var v int64
		if v, err = migrations.Version(ctx, sqlDB); err == nil {
			fmt.Fprintf(stdout, "schema %s at version %d\n", db.schema, v)
		}
	}
	return err
}

// bootstrapper is the slice of account.Service add-admin drives.
type bootstrapper interface {
	BootstrapAdmin(ctx context.Context, username, pw string, opts ...account.BootstrapOption) (identity.User, bool, error)
}

// openAccounts is a test seam; the default talks to Postgres.
var openAccounts = func(ctx context.Context, dsn, schema string) (bootstrapper, func(), error) {
	pool, err := app.NewDBPool(ctx, app.Config{DatabaseURL: dsn, DBSchema: schema, DBMaxConns: 2})
	if err != nil {
		return nil, nil, err
	}

	svc, err := postgresAccounts(pool, schema)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return svc, pool.Close, nil
}

func runAddAdmin(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("add-admin", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var db dbFlags
	db.register(fs)
	username := fs.String("username", "", "administrator username")
	email := fs.String("email", "", "email address (default <username>@localhost)")
	fromStdin := fs.Bool("password-stdin", false, "read the password from the first line of stdin")
	failIfExists := fs.Bool("fail-if-exists", false, "refuse to promote an existing user")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*username) == "" {
		return fmt.Errorf("%w: -username is required", errUsage)
	}
	if err := db.check(); err != nil {
		return err
	}

	pw, err := readAdminPassword(stdin, stdout, *fromStdin)
	if err != nil {
		return err
	}

	accounts, closeFn, err := openAccounts(ctx, db.url, db.schema)
	if err != nil {
		return err
	}
	defer closeFn()

	var opts []account.BootstrapOption
	if *email != "" {
		opts = append(opts, account.WithEmail(*email))
	}
	if *failIfExists {
		opts = append(opts, account.FailIfExists())
	}

	u, created, err := accounts.BootstrapAdmin(ctx, *username, pw, opts...)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(stdout, "created administrator %s (%s)\n", u.Username, u.ID)
	} else {
		fmt.Fprintf(stdout, "promoted %s (%s) to administrator\n", u.Username, u.ID)
	}
	return nil
}

func newAccounts(users identity.Store, store session.Store) (*account.Service, error) {
	passwords, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	mgr, err := session.NewManager(session.DefaultConfig(), store, users)
	if err != nil {
		return nil, err
	}
	return account.NewService(users, mgr, passwords)
}
