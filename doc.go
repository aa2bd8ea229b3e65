// Package chunkbench benchmarks chunked-array storage configurations for
// large scientific recordings (two-photon imaging stacks, high-density
// ephys) where file layout dominates analysis throughput.
//
// A recording lives in a single-file array container. Chunkbench answers one
// question about it: which chunk shape and compression codec should the
// series be stored with, given how it will be read back?
//
// # Architecture
//
// The benchmark splits into two halves:
//
// 1. Configured writes (pkg/writebench): each row of a plain-text
// configuration table names a chunk layout and codec. The reference series
// is streamed through a bounded-memory chunk source into a fresh container
// per row, and a stats line records elapsed time and file size.
//
// 2. Cold-cache reads (pkg/readbench): each written configuration is
// benchmarked against a fixed suite of access patterns modeling real
// analysis: sequential batch scans, random single frames, random spatial
// patches and random temporal windows. Every timed unit drops the OS page
// cache first (pkg/cachecontrol), so timings reflect disk layout rather
// than memory bandwidth. Results land in one container per configuration
// with summary statistics and host provenance attached (pkg/resultsink).
//
// Supporting packages: pkg/arraystore implements the chunked container
// format, pkg/codec the compression filters, pkg/configtable the table
// parser, pkg/check a corruption scanner, and pkg/export converters to flat
// binary and per-frame TIFF.
//
// # Quick Start
//
// Write configuration 3 of a table, then benchmark it:
//
//	chunkbench write --table configs.txt --config-number 3 \
//	    --input ref.nwbc --series TwoPhotonSeries --label ophys --outdir out/
//	chunkbench read --config-number 3 --indir out/ \
//	    --series TwoPhotonSeries --label ophys --outdir out/
package chunkbench
