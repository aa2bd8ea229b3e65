// Package codec models the chunk compression codecs used by the array store.
//
// A codec is identified through one of two channels: built-in codecs by a
// store-native name (e.g. "gzip"), external plugin codecs by a numeric filter
// id (e.g. 32015 for zstd). Each codec family carries its own parameter
// layout, and the layouts are intentionally asymmetric: the zfp precision
// occupies the first parameter slot while the blosc level occupies the last.
// Both layouts come from the production configuration tables and are
// reproduced here exactly.
//
// Spec is a closed variant type with one concrete struct per family. A Spec
// translates to the Stored identity+parameter encoding the container records,
// and to a Compressor that realizes the codec for the in-repo backend.
package codec

import (
	"github.com/chunklab/chunkbench/pkg/errors"
)

// Well-known external filter ids, as assigned by the HDF5 filter registry.
const (
	FilterIDBlosc = 32001
	FilterIDLZ4   = 32004
	FilterIDZFP   = 32013
	FilterIDZstd  = 32015
)

// Blosc sub-codec variants, named as they appear in configuration tables.
const (
	BloscZstd    = "blosc-zstd"
	BloscLZ4     = "blosc-lz4"
	BloscLZ4HC   = "blosc-lz4hc"
	BloscBloscLZ = "blosc-blosclz"
)

// Spec describes one compression codec with exactly the parameters its family
// needs. The set of implementations is closed: Raw, Gzip, LZ4, Zstd, ZFP,
// Blosc and External.
type Spec interface {
	// Name returns the codec name as it appears in configuration tables.
	Name() string

	// Stored returns the identity and parameter tuple recorded in the
	// container. filterID overrides the default external filter id when the
	// configuration row carries an explicit one; pass 0 to use the default
	// identification channel for the family.
	Stored(filterID int) Stored

	isSpec()
}

// Stored is the codec identity as persisted in an array descriptor. Exactly
// one of Name (built-in channel) or FilterID (external plugin channel) is
// authoritative; Name is kept alongside external ids as an advisory hint.
type Stored struct {
	Name     string `json:"name,omitempty"`
	FilterID int    `json:"filter_id,omitempty"`
	Params   []int  `json:"params,omitempty"`
	// Scalar records that the parameter is a bare integer rather than a
	// single-element tuple. Only gzip uses the scalar form.
	Scalar bool `json:"scalar,omitempty"`
}

// Raw applies no compression.
type Raw struct{}

func (Raw) Name() string        { return "raw" }
func (Raw) Stored(_ int) Stored { return Stored{} }
func (Raw) isSpec()             {}

// Gzip is the store's built-in deflate codec. Its single parameter is the
// compression level, stored as a bare integer.
type Gzip struct {
	Level int
}

func (Gzip) Name() string { return "gzip" }

func (g Gzip) Stored(filterID int) Stored {
	return Stored{Name: "gzip", FilterID: filterID, Params: []int{g.Level}, Scalar: true}
}

func (Gzip) isSpec() {}

// LZ4 is the external lz4 plugin codec. Its single parameter is the
// compression level, stored as a one-element tuple.
type LZ4 struct {
	Level int
}

func (LZ4) Name() string { return "lz4" }

func (l LZ4) Stored(filterID int) Stored {
	if filterID == 0 {
		filterID = FilterIDLZ4
	}
	return Stored{Name: "lz4", FilterID: filterID, Params: []int{l.Level}}
}

func (LZ4) isSpec() {}

// Zstd is the external zstandard plugin codec. Its single parameter is the
// compression level, stored as a one-element tuple.
type Zstd struct {
	Level int
}

func (Zstd) Name() string { return "zstd" }

func (z Zstd) Stored(filterID int) Stored {
	if filterID == 0 {
		filterID = FilterIDZstd
	}
	return Stored{Name: "zstd", FilterID: filterID, Params: []int{z.Level}}
}

func (Zstd) isSpec() {}

// ZFP is the external zfp plugin codec in fixed-precision mode. The precision
// occupies the first of six parameter slots; the rest are reserved.
type ZFP struct {
	Precision int
}

func (ZFP) Name() string { return "zfp" }

func (z ZFP) Stored(filterID int) Stored {
	if filterID == 0 {
		filterID = FilterIDZFP
	}
	return Stored{Name: "zfp", FilterID: filterID, Params: []int{z.Precision, 0, 0, 0, 0, 0}}
}

func (ZFP) isSpec() {}

// Blosc is the external blosc meta-codec. Variant selects the inner
// compressor. The seven-slot parameter layout is fixed by the plugin: slot 4
// holds the shuffle mode and slot 6 holds the compression level.
type Blosc struct {
	Variant string
	Level   int
	Shuffle int
}

func (b Blosc) Name() string { return b.Variant }

func (b Blosc) Stored(filterID int) Stored {
	if filterID == 0 {
		filterID = FilterIDBlosc
	}
	return Stored{
		Name:     b.Variant,
		FilterID: filterID,
		Params:   []int{0, 0, 0, 0, b.Shuffle, 0, b.Level},
	}
}

func (Blosc) isSpec() {}

// External is a codec this build knows only by identity. It can be recorded
// in a descriptor but never encoded or decoded.
type External struct {
	CodecName string
	ID        int
	Params    []int
}

func (e External) Name() string { return e.CodecName }

func (e External) Stored(filterID int) Stored {
	if filterID == 0 {
		filterID = e.ID
	}
	return Stored{Name: e.CodecName, FilterID: filterID, Params: e.Params}
}

func (External) isSpec() {}

// IsBloscVariant reports whether name selects one of the blosc sub-codecs.
func IsBloscVariant(name string) bool {
	switch name {
	case BloscZstd, BloscLZ4, BloscLZ4HC, BloscBloscLZ:
		return true
	}
	return false
}

// Resolve reconstructs a Spec from its stored form, for decoding chunks of an
// existing array. Resolution prefers the advisory name; descriptors written
// without one fall back to the numeric filter id.
func Resolve(st Stored) (Spec, error) {
	if st.Name != "" {
		return resolveByName(st)
	}
	if st.FilterID == 0 {
		return Raw{}, nil
	}
	switch st.FilterID {
	case FilterIDLZ4:
		return LZ4{Level: paramAt(st.Params, 0)}, nil
	case FilterIDZstd:
		return Zstd{Level: paramAt(st.Params, 0)}, nil
	case FilterIDZFP:
		return ZFP{Precision: paramAt(st.Params, 0)}, nil
	case FilterIDBlosc:
		return Blosc{
			Variant: BloscBloscLZ,
			Level:   paramAt(st.Params, 6),
			Shuffle: paramAt(st.Params, 4),
		}, nil
	}
	return nil, errors.Newf(errors.ErrorTypeCodec, "unknown external filter id %d", st.FilterID)
}

func resolveByName(st Stored) (Spec, error) {
	switch {
	case st.Name == "raw" || st.Name == "none":
		return Raw{}, nil
	case st.Name == "gzip":
		return Gzip{Level: paramAt(st.Params, 0)}, nil
	case st.Name == "lz4":
		return LZ4{Level: paramAt(st.Params, 0)}, nil
	case st.Name == "zstd":
		return Zstd{Level: paramAt(st.Params, 0)}, nil
	case st.Name == "zfp":
		return ZFP{Precision: paramAt(st.Params, 0)}, nil
	case IsBloscVariant(st.Name):
		return Blosc{
			Variant: st.Name,
			Level:   paramAt(st.Params, 6),
			Shuffle: paramAt(st.Params, 4),
		}, nil
	}
	if st.FilterID != 0 {
		return External{CodecName: st.Name, ID: st.FilterID, Params: st.Params}, nil
	}
	return nil, errors.Newf(errors.ErrorTypeCodec, "unknown codec name %q", st.Name)
}

func paramAt(params []int, i int) int {
	if i < len(params) {
		return params[i]
	}
	return 0
}
