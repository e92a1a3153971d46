// Package fs abstracts the file operations behind triad saves so tests can
// inject failures.
//
// Production code uses [Default]. Tests wrap it in a [FaultyFS] and attach
// rules to file name fragments:
//
//	faulty := fs.NewFaultyFS(nil)
//	faulty.AddRule(".poly", fs.Fault{FailAfterBytes: 8})
//	faulty.AddRule("top.db", fs.Fault{FailOnRename: true})
//
// A rule applies to every file whose path contains its pattern. The
// operations take no context; slow remote IO goes through blobstore instead.
package fs
