package main

import (
	"fmt"

	"github.com/aalhour/embedkv"
	"github.com/aalhour/embedkv/errs"
	"github.com/spf13/cobra"
)

func newLDBCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "ldb",
		Short: "run one get/put/scan call against a database directory",
	}
	root.AddCommand(&cobra.Command{
		Use:   "get <dir> <key>",
		Short: "print the value for key, or report not found",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLDBGet(cmd, args[0], args[1])
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "put <dir> <key> <value>",
		Short: "write key=value, creating the database if it does not exist",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLDBPut(cmd, args[0], args[1], args[2])
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "scan <dir> [start] [end]",
		Short: "print every key in [start, end), or the whole keyspace with no bounds",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var start, end []byte
			if len(args) > 1 {
				start = []byte(args[1])
			}
			if len(args) > 2 {
				end = []byte(args[2])
			}
			return runLDBScan(cmd, args[0], start, end)
		},
	})
	return root
}

func runLDBGet(cmd *cobra.Command, dir, key string) error {
	db, err := embedkv.Open(dir, &embedkv.Options{})
	if err != nil {
		return err
	}
	defer db.Close()

	val, err := db.Get(nil, []byte(key))
	if errs.IsNotFound(err) {
		fmt.Fprintf(cmd.OutOrStdout(), "%q: not found\n", key)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%q -> %q\n", key, val)
	return nil
}

func runLDBPut(cmd *cobra.Command, dir, key, value string) error {
	db, err := embedkv.Open(dir, &embedkv.Options{CreateIfMissing: true})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Put(nil, []byte(key), []byte(value)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%q -> %q\n", key, value)
	return nil
}

func runLDBScan(cmd *cobra.Command, dir string, start, end []byte) error {
	db, err := embedkv.Open(dir, &embedkv.Options{})
	if err != nil {
		return err
	}
	defer db.Close()

	it := db.NewIterator(nil)
	defer it.Close()

	if start != nil {
		it.Seek(start)
	} else {
		it.SeekToFirst()
	}

	out := cmd.OutOrStdout()
	n := 0
	for ; it.Valid(); it.Next() {
		if end != nil && string(it.Key()) >= string(end) {
			break
		}
		fmt.Fprintf(out, "%q -> %q\n", it.Key(), it.Value())
		n++
	}
	if err := it.Err(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d entries\n", n)
	return nil
}
