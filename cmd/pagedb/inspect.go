package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/pagedb/persistence"
)

type inspectReport struct {
	File          string `json:"file"`
	Size          int64  `json:"size"`
	Version       string `json:"version"`
	Pool          uint8  `json:"pool"`
	Root          string `json:"root"`
	Compression   string `json:"compression"`
	Checksum      uint32 `json:"checksum"`
	SaveToken     string `json:"save_token"`
	PageSize      uint32 `json:"page_size"`
	PagesPerChunk uint32 `json:"pages_per_chunk"`
	Chunks        int    `json:"chunks"`
	Pages         int    `json:"pages"`
	CurrentPage   uint32 `json:"current_page"`
	ContentBytes  uint64 `json:"content_bytes"`
	UsedBytes     uint64 `json:"used_bytes"`
	Allocs        uint64 `json:"allocs"`
	FreeBytes     uint64 `json:"free_bytes"`
	FreeClasses   int    `json:"free_classes"`
	FreeSlots     int    `json:"free_slots"`
}

func newInspectReport(file string, im *persistence.Image) inspectReport {
	h := im.Header
	r := inspectReport{
		File:          file,
		Size:          im.Size,
		Version:       im.Version.String(),
		Pool:          im.PoolNo(),
		Root:          im.Root.String(),
		Compression:   im.Compression.String(),
		Checksum:      im.Checksum,
		SaveToken:     fmt.Sprintf("%016x", im.Token),
		PageSize:      h.PageSize,
		PagesPerChunk: h.PagesPerChunk,
		Chunks:        len(h.ChunkSizes),
		Pages:         len(h.Pages),
		CurrentPage:   h.CurrentPage,
		ContentBytes:  im.ContentBytes(),
		FreeBytes:     h.FreeBytes,
		FreeClasses:   len(h.FreeLists),
	}
	for _, pg := range h.Pages {
		r.UsedBytes += uint64(pg.Size - pg.Avail)
		r.Allocs += uint64(pg.Allocs)
	}
	for _, fc := range h.FreeLists {
		r.FreeSlots += len(fc.IDs)
	}
	return r
}

func newInspectCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file.db>...",
		Short: "Print the header of container images",
		Long: `The inspect command verifies the header checksum of each image and prints
its format version, pool number, page geometry and free-list summary without
decompressing the pages.

Example:
  pagedb inspect top.db
  pagedb inspect Libs/tech.db --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			reports := make([]inspectReport, 0, len(args))
			for _, file := range args {
				im, err := persistence.InspectImageFile(file)
				if err != nil {
					return err
				}
				reports = append(reports, newInspectReport(file, im))
			}
			if c.jsonOut {
				return c.printJSON(reports)
			}
			for _, r := range reports {
				c.printReport(r)
			}
			return nil
		},
	}
}

func (c *cli) printReport(r inspectReport) {
	c.printf("%s\n", r.File)
	c.printf("  Size:         %d bytes\n", r.Size)
	c.printf("  Version:      %s\n", r.Version)
	c.printf("  Pool:         %d\n", r.Pool)
	c.printf("  Root:         %s\n", r.Root)
	c.printf("  Compression:  %s\n", r.Compression)
	c.printf("  Checksum:     %08x\n", r.Checksum)
	c.printf("  Save token:   %s\n", r.SaveToken)
	c.printf("  Page size:    %d\n", r.PageSize)
	c.printf("  Chunks:       %d (%d pages each)\n", r.Chunks, r.PagesPerChunk)
	c.printf("  Pages:        %d (current %d)\n", r.Pages, r.CurrentPage)
	c.printf("  Content:      %d bytes, %d used\n", r.ContentBytes, r.UsedBytes)
	c.printf("  Allocations:  %d\n", r.Allocs)
	c.printf("  Free lists:   %d classes, %d slots, %d bytes\n", r.FreeClasses, r.FreeSlots, r.FreeBytes)
}
