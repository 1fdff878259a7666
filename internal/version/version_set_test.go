package version

import (
	"testing"

	"github.com/aalhour/embedkv/internal/dbformat"
	"github.com/aalhour/embedkv/internal/manifest"
	"github.com/aalhour/embedkv/internal/vfs"
	"github.com/stretchr/testify/require"
)

func newTestVersionSet(t *testing.T) *VersionSet {
	t.Helper()
	icmp := dbformat.NewInternalKeyComparator(dbformat.BytewiseComparator)
	return NewVersionSet(Options{DBName: "/db", FS: vfs.NewMem(), Icmp: icmp})
}

func TestVersionSetNextFileNumberIsMonotonic(t *testing.T) {
	vs := newTestVersionSet(t)

	fn1 := vs.NextFileNumber()
	fn2 := vs.NextFileNumber()
	fn3 := vs.NextFileNumber()

	require.Equal(t, fn1+1, fn2)
	require.Equal(t, fn2+1, fn3)
}

func TestVersionSetLastSequence(t *testing.T) {
	vs := newTestVersionSet(t)

	require.Zero(t, vs.LastSequence())

	vs.SetLastSequence(100)
	require.EqualValues(t, 100, vs.LastSequence())
}

func TestVersionSetCreateThenRecoverRoundTrips(t *testing.T) {
	icmp := dbformat.NewInternalKeyComparator(dbformat.BytewiseComparator)
	fs := vfs.NewMem()
	require.NoError(t, fs.MkdirAll("/db"))

	vs := NewVersionSet(Options{DBName: "/db", FS: fs, Icmp: icmp})
	require.NoError(t, vs.Create())
	require.NoError(t, vs.Close())

	vs2 := NewVersionSet(Options{DBName: "/db", FS: fs, Icmp: icmp})
	require.NoError(t, vs2.Recover())
	require.Zero(t, vs2.LastSequence())
	require.Zero(t, vs2.LogNumber())
}

func TestVersionSetLogAndApplyAddsFileAndPersistsAcrossRecover(t *testing.T) {
	icmp := dbformat.NewInternalKeyComparator(dbformat.BytewiseComparator)
	fs := vfs.NewMem()
	require.NoError(t, fs.MkdirAll("/db"))

	vs := NewVersionSet(Options{DBName: "/db", FS: fs, Icmp: icmp})
	require.NoError(t, vs.Create())

	meta := manifest.FileMetaData{
		FileNumber: vs.NextFileNumber(),
		FileSize:   1024,
		Smallest:   dbformat.MakeInternalKey(dbformat.ParsedInternalKey{UserKey: []byte("a"), Seq: 1, Type: dbformat.TypeValue}),
		Largest:    dbformat.MakeInternalKey(dbformat.ParsedInternalKey{UserKey: []byte("m"), Seq: 1, Type: dbformat.TypeValue}),
	}
	edit := &manifest.VersionEdit{}
	edit.AddFile(0, meta)
	edit.SetLogNumber(7)
	edit.SetLastSequence(1)
	require.NoError(t, vs.LogAndApply(edit))
	require.NoError(t, vs.Close())

	vs2 := NewVersionSet(Options{DBName: "/db", FS: fs, Icmp: icmp})
	require.NoError(t, vs2.Recover())

	files := vs2.Current().Files(0)
	require.Len(t, files, 1)
	require.Equal(t, meta.FileNumber, files[0].FileNumber)
	require.EqualValues(t, 7, vs2.LogNumber())
	require.EqualValues(t, 1, vs2.LastSequence())
	// NextFileNumber must never reissue a number already used on disk.
	require.Greater(t, vs2.NextFileNumber(), meta.FileNumber)
}

func TestVersionSetRecoverWithoutCurrentFails(t *testing.T) {
	icmp := dbformat.NewInternalKeyComparator(dbformat.BytewiseComparator)
	fs := vfs.NewMem()
	require.NoError(t, fs.MkdirAll("/db"))

	vs := NewVersionSet(Options{DBName: "/db", FS: fs, Icmp: icmp})
	require.Error(t, vs.Recover())
}
