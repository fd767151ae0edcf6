package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
)

// Migrator applies schema migrations. *migrations.Migrator satisfies it.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
}

// MigrateOptions defines the arguments of the migrate command.
type MigrateOptions struct {
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

// MigrateCommand runs `migrate up|down|steps N|version` and returns the exit code.
func MigrateCommand(m Migrator, opts MigrateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	action := "up"
	if len(opts.Args) > 0 {
		action = opts.Args[0]
	}
	var err error
	switch action {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		if len(opts.Args) != 2 {
			_, _ = fmt.Fprintln(opts.Stderr, "migrate steps: expected a step count")
			return 2
		}
		n, convErr := strconv.Atoi(opts.Args[1])
		if convErr != nil || n == 0 {
			_, _ = fmt.Fprintf(opts.Stderr, "migrate steps: invalid count %q\n", opts.Args[1])
			return 2
		}
		err = m.Steps(n)
	case "version":
	default:
		_, _ = fmt.Fprintf(opts.Stderr, "migrate: unknown action %q\n", action)
		return 2
	}
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "migrate %s: %v\n", action, err)
		return 1
	}
	version, dirty, err := m.Version()
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "migrate version: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "schema version=%d dirty=%t\n", version, dirty)
	if dirty {
		return 10
	}
	return 0
}
