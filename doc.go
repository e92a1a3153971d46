// Package pagedb is a persistent object store for physical-design data.
//
// Every object lives in a slot of a page arena and is referenced by a stable
// 64-bit handle (core.ObjectID) instead of a pointer. A handle encodes the
// pool number, the page and the offset of its slot, so it stays valid across
// save and load.
//
// # Containers
//
// A DB owns the pool registry and maps containers (design cells and the
// technology and timing libraries) to pools:
//
//	db, err := pagedb.Open("./design")
//	top, err := db.Create(pagedb.KindDesign, "top")
//
//	cell, id, err := pagedb.Allocate[Cell](top, TagCell)
//	cell.Name, err = top.Symbols().GetOrCreate("INV_X1")
//	top.SetRoot(id)
//
//	_, err = db.Save(ctx, top)
//
// Allocate, Resolve and Free are typed: each slot records the tag it was
// allocated with, and resolving with another tag or a larger type fails with
// an addressing error. Stored types must not contain Go pointers; store
// handles instead.
//
// # Files
//
// Each container is saved as a triad of files:
//
//	<dir>/<name>.db          pool image with header checksum
//	<dir>/<name>.sym.lz4     symbol table
//	<dir>/<name>.poly.lz4    polygon table
//	<dir>/Libs/tech.*        technology library
//	<dir>/Libs/timing.*      timing library
//
// The three files are replaced together: a failed save puts the previous
// files back, and a load rejects files that were not written by the same
// save. Loading verifies the header checksum before anything is decoded; see
// the persistence package for the image format.
//
// # Remote storage
//
// With WithStore, Publish uploads a saved triad as a new generation and
// commits it through a blobstore.CommitLog; Fetch downloads the committed
// generation and loads it.
//
// # Errors
//
// IsCapacity, IsAddressing and IsIntegrity classify errors from every layer.
// Failures concerning a container are wrapped in *ContainerError.
package pagedb
