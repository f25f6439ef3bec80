// Package fs abstracts the filesystem used for index backing files.
//
// The package defines two interfaces:
//
//   - [File]: an open backing file with positional read/write and sync
//   - [FileSystem]: open, remove, rename, stat and truncate
//
// # Implementations
//
//   - [LocalFS]: production implementation on top of the os package
//   - [FaultyFS]: fault injection for tests (write limits, sync, close and
//     remove failures)
//
// Production code uses fs.Default:
//
//	f, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
//
// Tests wrap it:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("index.db", fs.Fault{FailOnSync: true})
//
// Operations carry no context.Context. Local file calls are not
// interruptible at the syscall level.
package fs
