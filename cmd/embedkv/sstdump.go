package main

import (
	"fmt"

	"github.com/aalhour/embedkv"
	"github.com/aalhour/embedkv/internal/block"
	"github.com/aalhour/embedkv/internal/dbformat"
	"github.com/aalhour/embedkv/internal/table"
	"github.com/aalhour/embedkv/internal/vfs"
	"github.com/spf13/cobra"
)

func newSSTDumpCommand() *cobra.Command {
	var showValues bool
	cmd := &cobra.Command{
		Use:   "sstdump <file>",
		Short: "print the footer, index entries, and data block entries of one SST",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSSTDump(cmd, args[0], showValues)
		},
	}
	cmd.Flags().BoolVar(&showValues, "values", false, "print decoded values, not just keys")
	return cmd
}

func runSSTDump(cmd *cobra.Command, path string, showValues bool) error {
	out := cmd.OutOrStdout()
	fs := vfs.NewDisk()

	size, err := fs.FileSize(path)
	if err != nil {
		return err
	}

	raw, err := fs.NewRandomAccessFile(path)
	if err != nil {
		return err
	}
	defer raw.Close()

	footerBuf := make([]byte, block.FooterEncodedLength)
	if _, err := raw.ReadAt(footerBuf, size-int64(block.FooterEncodedLength)); err != nil {
		return err
	}
	footer, err := block.DecodeFooter(footerBuf)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "file %s (%d bytes)\n", path, size)
	fmt.Fprintf(out, "  index block:      offset=%d size=%d\n", footer.IndexHandle.Offset, footer.IndexHandle.Size)
	fmt.Fprintf(out, "  meta-index block: offset=%d size=%d\n", footer.MetaIndexHandle.Offset, footer.MetaIndexHandle.Size)

	icmp := dbformat.NewInternalKeyComparator(embedkv.BytewiseComparator)
	reader, err := table.Open(table.OpenOptions{Comparator: icmp, VerifyChecksums: true}, 0, raw, size)
	if err != nil {
		return err
	}

	indexIt := reader.NewIndexIterator()
	blockNum := 0
	for indexIt.SeekToFirst(); indexIt.Valid(); indexIt.Next() {
		handle, _, err := block.DecodeHandle(indexIt.Value())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "data block %d: offset=%d size=%d last_key=%s\n",
			blockNum, handle.Offset, handle.Size, formatInternalKey(indexIt.Key()))
		blockNum++

		dataIt, err := reader.NewDataIterator(indexIt.Value())
		if err != nil {
			return err
		}
		for dataIt.SeekToFirst(); dataIt.Valid(); dataIt.Next() {
			if showValues {
				fmt.Fprintf(out, "    %s -> %q\n", formatInternalKey(dataIt.Key()), dataIt.Value())
			} else {
				fmt.Fprintf(out, "    %s\n", formatInternalKey(dataIt.Key()))
			}
		}
		if err := dataIt.Err(); err != nil {
			return err
		}
	}
	return indexIt.Err()
}

func formatInternalKey(ikey []byte) string {
	parsed, err := dbformat.ParseInternalKey(ikey)
	if err != nil {
		return fmt.Sprintf("<corrupt: %v>", err)
	}
	kind := "SET"
	if parsed.Type == dbformat.TypeDeletion {
		kind = "DEL"
	}
	return fmt.Sprintf("%q#%d,%s", parsed.UserKey, parsed.Seq, kind)
}
