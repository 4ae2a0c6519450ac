// Command capture-queue inspects the durable capture queue of an
// expense-capture database. Stop the server first: the database file is
// locked while it runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/expense-capture/internal/capture"
	"github.com/zombor/expense-capture/internal/store"
)

func main() {
	_ = godotenv.Load()

	root := newRootCommand(os.Stdout)
	if err := root.ParseAndRun(context.Background(), os.Args[1:], ff.WithEnvVarPrefix("EXPENSE_CAPTURE")); err != nil {
		if errors.Is(err, ff.ErrHelp) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(stdout io.Writer) *ff.Command {
	rootFlags := ff.NewFlagSet("capture-queue")
	dbPath := rootFlags.StringLong("db", "expense-capture.db", "Database file path")

	withDB := func(readOnly bool, fn func(db *store.BoltDB) error) error {
		open := store.NewBoltDB
		if readOnly {
			open = store.NewReadOnlyBoltDB
		}
		db, err := open(*dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(db)
	}

	list := &ff.Command{
		Name:      "list",
		Usage:     "capture-queue list",
		ShortHelp: "list queued captures, newest first",
		Flags:     ff.NewFlagSet("list").SetParent(rootFlags),
		Exec: func(ctx context.Context, args []string) error {
			return withDB(true, func(db *store.BoltDB) error {
				items, err := db.ListAll()
				if err != nil {
					return fmt.Errorf("listing queue: %w", err)
				}
				if len(items) == 0 {
					fmt.Fprintln(stdout, "Queue is empty.")
					return nil
				}
				sort.SliceStable(items, func(i, j int) bool {
					return items[i].Timestamp > items[j].Timestamp
				})
				fmt.Fprintln(stdout, queueTable(items, time.Now()))
				return nil
			})
		},
	}

	showFlags := ff.NewFlagSet("show").SetParent(rootFlags)
	out := showFlags.StringLong("out", "", "write the capture payload to this file")
	show := &ff.Command{
		Name:      "show",
		Usage:     "capture-queue show [--out FILE] ID",
		ShortHelp: "describe one queued capture",
		Flags:     showFlags,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("show requires exactly one capture ID")
			}
			return withDB(true, func(db *store.BoltDB) error {
				item, err := db.Get(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(stdout, itemTable(item, time.Now()))
				if *out == "" {
					return nil
				}
				return writePayload(item, *out)
			})
		},
	}

	rm := &ff.Command{
		Name:      "rm",
		Usage:     "capture-queue rm ID...",
		ShortHelp: "delete queued captures",
		Flags:     ff.NewFlagSet("rm").SetParent(rootFlags),
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return errors.New("rm requires at least one capture ID")
			}
			return withDB(false, func(db *store.BoltDB) error {
				for _, id := range args {
					if err := db.Remove(id); err != nil {
						return fmt.Errorf("removing %s: %w", id, err)
					}
					fmt.Fprintf(stdout, "removed %s\n", id)
				}
				return nil
			})
		},
	}

	return &ff.Command{
		Name:        "capture-queue",
		Usage:       "capture-queue [FLAGS] <SUBCOMMAND> ...",
		ShortHelp:   "inspect the offline capture queue",
		Flags:       rootFlags,
		Subcommands: []*ff.Command{list, show, rm},
		Exec: func(ctx context.Context, args []string) error {
			return ff.ErrHelp
		},
	}
}

func writePayload(item *capture.Item, path string) error {
	data, err := item.Bytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing payload: %w", err)
	}
	return nil
}
