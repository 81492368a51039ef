package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/aihub/corpus-go/internal/config"
	"github.com/aihub/corpus-go/internal/database"
)

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run 解析参数并执行一次迁移动作，返回退出码
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	corpusDir := fs.String("corpus", ".", "Corpus directory")
	dsn := fs.String("dsn", "", "State database DSN, overrides the corpus configuration")
	action := fs.String("action", "up", "Migration action: up, down, version, status, goto, force")
	version := fs.Uint("version", 0, "Target version for goto and force")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *dsn == "" {
		cfg, err := config.Load(*corpusDir)
		if err != nil {
			fmt.Fprintf(stderr, "load config: %v\n", err)
			return 1
		}
		*dsn = cfg.StateDSN()
	}

	log := logrus.New()
	log.SetOutput(stderr)
	log.SetLevel(logrus.InfoLevel)

	mm, err := database.NewMigrationManager(*dsn, log)
	if err != nil {
		fmt.Fprintf(stderr, "open migrations: %v\n", err)
		return 1
	}
	defer mm.Close()

	if err := apply(mm, *action, *version, stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "unknown action %q, expected one of: up, down, version, status, goto, force\n", *action)
			return 2
		}
		fmt.Fprintf(stderr, "%s: %v\n", *action, err)
		return 1
	}
	return 0
}

func apply(mm *database.MigrationManager, action string, version uint, out io.Writer) error {
	switch action {
	case "up":
		if err := mm.Up(); err != nil {
			return err
		}
		return printVersion(mm, out)
	case "down":
		if err := mm.Down(); err != nil {
			return err
		}
		return printVersion(mm, out)
	case "version":
		return printVersion(mm, out)
	case "status":
		if err := printVersion(mm, out); err != nil {
			return err
		}
		latest, err := mm.Latest()
		if err != nil {
			return err
		}
		pending, err := mm.Pending()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "latest: %d\npending: %t\n", latest, pending)
		return nil
	case "goto", "force":
		if version == 0 {
			return fmt.Errorf("-version is required")
		}
		var err error
		if action == "goto" {
			err = mm.UpTo(version)
		} else {
			err = mm.ForceVersion(version)
		}
		if err != nil {
			return err
		}
		return printVersion(mm, out)
	default:
		return errUsage
	}
}

func printVersion(mm *database.MigrationManager, out io.Writer) error {
	v, dirty, err := mm.Version()
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(out, "version: %d (dirty)\n", v)
		return nil
	}
	fmt.Fprintf(out, "version: %d\n", v)
	return nil
}
