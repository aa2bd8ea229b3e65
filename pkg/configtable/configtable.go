// Package configtable parses storage-configuration tables.
//
// A table is line-oriented text; the 0-based line number is the
// configuration's identity. Each line holds five whitespace-separated
// fields, optionally preceded by an explicit index field that must match the
// line number:
//
//	[index] <chunk-shape> <codec-name> <codec-id-or-NA> <param1> <param2>
//
// The chunk-shape field is "none" (contiguous), "true"/"auto" (store picks),
// or a comma-separated tuple. When the codec-id field is "NA" the codec name
// is the store's built-in identifier; otherwise the numeric id is the
// authoritative external-filter identifier and the name is advisory.
//
// Which parameter field feeds which codec slot differs by family: gzip, lz4
// and zstd take their level from param2; zfp takes its precision from
// param1; blosc takes its level from param1 and its shuffle mode from
// param2. The param1/param2 split between the zfp and blosc branches is a
// convention of the production tables and is preserved exactly.
package configtable

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/chunklab/chunkbench/pkg/arraystore"
	"github.com/chunklab/chunkbench/pkg/codec"
	"github.com/chunklab/chunkbench/pkg/errors"
)

// StorageConfig is one validated configuration row. It is immutable after
// parsing and consumed exactly once by the configured writer.
type StorageConfig struct {
	// Line is the 0-based line number the row was parsed from.
	Line int

	// Mode and Chunks describe the target chunk layout.
	Mode   arraystore.ChunkMode
	Chunks []int

	// CodecName is the raw codec name field ("NA" when absent).
	CodecName string

	// FilterID is the explicit external filter id, 0 when the row says "NA".
	FilterID int

	// Codec is the resolved codec variant.
	Codec codec.Spec
}

// Descriptor builds an array-store descriptor for this configuration over
// the given shape and element type.
func (sc *StorageConfig) Descriptor(shape []int, dtype arraystore.DType) arraystore.Descriptor {
	return arraystore.Descriptor{
		Shape:    shape,
		DType:    dtype,
		Mode:     sc.Mode,
		Chunks:   sc.Chunks,
		Codec:    sc.Codec,
		FilterID: sc.FilterID,
	}
}

// Parse parses one configuration-table line. lineno is the 0-based line
// number, used both for error reporting and to verify an explicit leading
// index field.
func Parse(line string, lineno int) (*StorageConfig, error) {
	fields := strings.Fields(line)

	// An optional leading index field carries the row's own number. It is
	// recognized as a bare integer; a six-field row without one is an arity
	// problem, reported below.
	if len(fields) == 6 {
		if idx, err := strconv.Atoi(fields[0]); err == nil {
			if idx != lineno {
				return nil, errors.Newf(errors.ErrorTypeConfig,
					"config line %d: leading index %d does not match line number", lineno, idx)
			}
			fields = fields[1:]
		}
	}
	if len(fields) != 5 {
		return nil, errors.Newf(errors.ErrorTypeConfig,
			"config line %d requires exactly 5 parameters, got %d", lineno, len(fields))
	}

	sc := &StorageConfig{Line: lineno, CodecName: fields[1]}

	if err := parseChunkSpec(sc, fields[0], lineno); err != nil {
		return nil, err
	}

	if !strings.EqualFold(fields[2], "na") {
		id, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, errors.Newf(errors.ErrorTypeConfig,
				"config line %d: codec id %q is not an integer", lineno, fields[2])
		}
		sc.FilterID = id
	}

	spec, err := parseCodec(fields, lineno)
	if err != nil {
		return nil, err
	}
	sc.Codec = spec

	return sc, nil
}

func parseChunkSpec(sc *StorageConfig, field string, lineno int) error {
	switch strings.ToLower(field) {
	case "none":
		sc.Mode = arraystore.ChunkNone
		return nil
	case "true", "auto":
		sc.Mode = arraystore.ChunkAuto
		return nil
	}

	parts := strings.Split(field, ",")
	chunks := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return errors.Newf(errors.ErrorTypeConfig,
				"config line %d: invalid chunk dimension %q", lineno, p)
		}
		chunks[i] = n
	}
	sc.Mode = arraystore.ChunkExplicit
	sc.Chunks = chunks
	return nil
}

// parseCodec assembles the codec variant. Parameter fields are only parsed
// by the branches that consume them, so rows for parameterless codecs may
// carry placeholders.
func parseCodec(fields []string, lineno int) (codec.Spec, error) {
	name := fields[1]

	param := func(i int) (int, error) {
		n, err := strconv.Atoi(fields[i])
		if err != nil {
			return 0, errors.Newf(errors.ErrorTypeConfig,
				"config line %d: codec parameter %q is not an integer", lineno, fields[i])
		}
		return n, nil
	}

	switch {
	case name == "NA":
		return codec.Raw{}, nil

	case name == "gzip":
		level, err := param(4)
		if err != nil {
			return nil, err
		}
		return codec.Gzip{Level: level}, nil

	case name == "lz4":
		level, err := param(4)
		if err != nil {
			return nil, err
		}
		return codec.LZ4{Level: level}, nil

	case name == "zstd":
		level, err := param(4)
		if err != nil {
			return nil, err
		}
		return codec.Zstd{Level: level}, nil

	case name == "zfp":
		precision, err := param(3)
		if err != nil {
			return nil, err
		}
		return codec.ZFP{Precision: precision}, nil

	case codec.IsBloscVariant(name):
		level, err := param(3)
		if err != nil {
			return nil, err
		}
		shuffle, err := param(4)
		if err != nil {
			return nil, err
		}
		return codec.Blosc{Variant: name, Level: level, Shuffle: shuffle}, nil
	}

	// Unrecognized codec: applied with default settings, no parameters.
	var id int
	if !strings.EqualFold(fields[2], "na") {
		id, _ = strconv.Atoi(fields[2])
	}
	return codec.External{CodecName: name, ID: id}, nil
}

// Lookup reads the configuration at the given 0-based line number of a table
// file. A number past the end of the table is an ErrorTypeNotFound error.
func Lookup(path string, number int) (*StorageConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "config table not found")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		if lineno == number {
			return Parse(scanner.Text(), lineno)
		}
		lineno++
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read config table")
	}
	return nil, errors.Newf(errors.ErrorTypeNotFound,
		"config number %d not found in %s", number, path)
}
