// Package zarr implements a reader for Zarr v2 and v3 arrays held in an
// object store. It covers what the CHESS-SCAPE stores and their local
// mirrors use: regular chunk grids, numeric dtypes, C or F chunk order,
// zstd/gzip/zlib/blosc compression and CF-style scale/offset attributes.
package zarr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"chessscape/internal/types"
)

// Zarr metadata document names.
const (
	v2ArrayKey        = ".zarray"
	v2AttrsKey        = ".zattrs"
	v2GroupKey        = ".zgroup"
	v2ConsolidatedKey = ".zmetadata"
	v3MetaKey         = "zarr.json"

	// dimensionsAttr is the xarray convention for naming dimensions in v2.
	dimensionsAttr = "_ARRAY_DIMENSIONS"
)

// DType describes the element encoding of a chunk.
type DType struct {
	Kind  byte // 'f', 'i' or 'u'
	Size  int  // bytes per element
	Order binary.ByteOrder
}

func (d DType) String() string {
	endian := "<"
	if d.Order == binary.BigEndian {
		endian = ">"
	}
	return fmt.Sprintf("%s%c%d", endian, d.Kind, d.Size)
}

func (d DType) valid() bool {
	switch d.Kind {
	case 'f':
		return d.Size == 4 || d.Size == 8
	case 'i', 'u':
		return d.Size == 1 || d.Size == 2 || d.Size == 4 || d.Size == 8
	}
	return false
}

// parseV2DType parses numpy type strings such as "<f4" or "|u1".
func parseV2DType(raw json.RawMessage) (DType, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return DType{}, fmt.Errorf("structured dtype %s is not supported", string(raw))
	}
	if len(s) < 3 {
		return DType{}, fmt.Errorf("malformed dtype %q", s)
	}
	var d DType
	switch s[0] {
	case '<', '|':
		d.Order = binary.LittleEndian
	case '>':
		d.Order = binary.BigEndian
	default:
		return DType{}, fmt.Errorf("malformed dtype %q", s)
	}
	d.Kind = s[1]
	if _, err := fmt.Sscanf(s[2:], "%d", &d.Size); err != nil || !d.valid() {
		return DType{}, fmt.Errorf("dtype %q is not supported", s)
	}
	return d, nil
}

// parseV3DType parses v3 data type names. Endianness comes from the bytes
// codec and is filled in later.
func parseV3DType(raw json.RawMessage) (DType, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return DType{}, fmt.Errorf("data type %s is not supported", string(raw))
	}
	d := DType{Order: binary.LittleEndian}
	switch {
	case strings.HasPrefix(s, "float"):
		d.Kind = 'f'
	case strings.HasPrefix(s, "uint"):
		d.Kind = 'u'
	case strings.HasPrefix(s, "int"):
		d.Kind = 'i'
	default:
		return DType{}, fmt.Errorf("data type %q is not supported", s)
	}
	var bits int
	if _, err := fmt.Sscanf(strings.TrimLeft(s, "floatuin"), "%d", &bits); err != nil {
		return DType{}, fmt.Errorf("data type %q is not supported", s)
	}
	d.Size = bits / 8
	if !d.valid() {
		return DType{}, fmt.Errorf("data type %q is not supported", s)
	}
	return d, nil
}

// Metadata is the parsed, version-independent description of an array.
type Metadata struct {
	ZarrFormat int
	Shape      []int
	Chunks     []int
	DType      DType
	// FOrder is true when chunk elements are stored column-major.
	FOrder bool
	// Fill is the value of elements in unwritten chunks. NaN when the
	// array declares none.
	Fill    float64
	HasFill bool
	// Dimensions names each axis; empty when the store does not say.
	Dimensions []string
	Attrs      map[string]any

	codecs    []codec // bytes-to-bytes, in encode order
	keyPrefix string
	separator string
}

// chunkLen returns the element count of one chunk.
func (m *Metadata) chunkLen() int {
	n := 1
	for _, c := range m.Chunks {
		n *= c
	}
	return n
}

// ChunkKey returns the key of the chunk at grid position idx, relative to
// the array root.
func (m *Metadata) ChunkKey(idx []int) string {
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = fmt.Sprint(v)
	}
	if len(parts) == 0 {
		parts = []string{"0"}
	}
	return m.keyPrefix + strings.Join(parts, m.separator)
}

// AttrString returns a string attribute, or "" when absent.
func (m *Metadata) AttrString(name string) string {
	s, _ := m.Attrs[name].(string)
	return s
}

// AttrFloat returns a numeric attribute.
func (m *Metadata) AttrFloat(name string) (float64, bool) {
	switch v := m.Attrs[name].(type) {
	case float64:
		return v, true
	case []any:
		// netCDF-derived attributes are sometimes single-element lists.
		if len(v) == 1 {
			f, ok := v[0].(float64)
			return f, ok
		}
	}
	return 0, false
}

type v2ArrayMeta struct {
	ZarrFormat         int             `json:"zarr_format"`
	Shape              []int           `json:"shape"`
	Chunks             []int           `json:"chunks"`
	DType              json.RawMessage `json:"dtype"`
	Compressor         map[string]any  `json:"compressor"`
	FillValue          json.RawMessage `json:"fill_value"`
	Order              string          `json:"order"`
	Filters            []any           `json:"filters"`
	DimensionSeparator string          `json:"dimension_separator"`
}

type namedConfig struct {
	Name          string         `json:"name"`
	Configuration map[string]any `json:"configuration"`
}

type v3Meta struct {
	ZarrFormat       int             `json:"zarr_format"`
	NodeType         string          `json:"node_type"`
	Shape            []int           `json:"shape"`
	DataType         json.RawMessage `json:"data_type"`
	ChunkGrid        namedConfig     `json:"chunk_grid"`
	ChunkKeyEncoding namedConfig     `json:"chunk_key_encoding"`
	FillValue        json.RawMessage `json:"fill_value"`
	Codecs           []namedConfig   `json:"codecs"`
	Attributes       map[string]any  `json:"attributes"`
	DimensionNames   []*string       `json:"dimension_names"`

	ConsolidatedMetadata *struct {
		Metadata map[string]json.RawMessage `json:"metadata"`
	} `json:"consolidated_metadata"`
}

func unsupported(path, format string, args ...any) error {
	return types.NewAppError(
		types.ErrCodeUnsupportedFormat,
		fmt.Sprintf("array %s: %s", path, fmt.Sprintf(format, args...)),
		nil,
	)
}

// parseV2 builds Metadata from a .zarray document and optional .zattrs.
func parseV2(path string, arrayDoc, attrsDoc []byte) (*Metadata, error) {
	var raw v2ArrayMeta
	if err := json.Unmarshal(arrayDoc, &raw); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeSchemaMismatch,
			fmt.Sprintf("failed to parse %s/.zarray", path),
			err,
		)
	}
	if raw.ZarrFormat != 2 {
		return nil, unsupported(path, "zarr_format %d in .zarray", raw.ZarrFormat)
	}
	if len(raw.Shape) != len(raw.Chunks) {
		return nil, unsupported(path, "shape %v and chunks %v disagree", raw.Shape, raw.Chunks)
	}

	dt, err := parseV2DType(raw.DType)
	if err != nil {
		return nil, unsupported(path, "%v", err)
	}
	for _, f := range raw.Filters {
		if f != nil {
			return nil, unsupported(path, "filters are not supported")
		}
	}

	meta := &Metadata{
		ZarrFormat: 2,
		Shape:      raw.Shape,
		Chunks:     raw.Chunks,
		DType:      dt,
		FOrder:     raw.Order == "F",
		separator:  ".",
		Attrs:      map[string]any{},
	}
	if raw.DimensionSeparator != "" {
		meta.separator = raw.DimensionSeparator
	}
	if meta.Fill, meta.HasFill, err = parseFill(raw.FillValue); err != nil {
		return nil, unsupported(path, "%v", err)
	}
	if raw.Compressor != nil {
		c, err := codecFromV2(raw.Compressor)
		if err != nil {
			return nil, unsupported(path, "%v", err)
		}
		meta.codecs = []codec{c}
	}

	if len(attrsDoc) > 0 {
		if err := json.Unmarshal(attrsDoc, &meta.Attrs); err != nil {
			return nil, types.NewAppError(
				types.ErrCodeSchemaMismatch,
				fmt.Sprintf("failed to parse %s/.zattrs", path),
				err,
			)
		}
	}
	if dims, ok := meta.Attrs[dimensionsAttr].([]any); ok && len(dims) == len(meta.Shape) {
		for _, d := range dims {
			name, _ := d.(string)
			meta.Dimensions = append(meta.Dimensions, name)
		}
	}
	return meta, nil
}

// parseV3 builds Metadata from an array's zarr.json document.
func parseV3(path string, doc []byte) (*Metadata, error) {
	var raw v3Meta
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeSchemaMismatch,
			fmt.Sprintf("failed to parse %s/zarr.json", path),
			err,
		)
	}
	return metadataFromV3(path, &raw)
}

func metadataFromV3(path string, raw *v3Meta) (*Metadata, error) {
	if raw.ZarrFormat != 3 || raw.NodeType != "array" {
		return nil, unsupported(path, "not a v3 array (zarr_format %d, node_type %q)", raw.ZarrFormat, raw.NodeType)
	}
	if raw.ChunkGrid.Name != "regular" {
		return nil, unsupported(path, "chunk grid %q", raw.ChunkGrid.Name)
	}
	chunks, err := intList(raw.ChunkGrid.Configuration["chunk_shape"])
	if err != nil || len(chunks) != len(raw.Shape) {
		return nil, unsupported(path, "chunk_shape does not match shape %v", raw.Shape)
	}
	dt, err := parseV3DType(raw.DataType)
	if err != nil {
		return nil, unsupported(path, "%v", err)
	}

	meta := &Metadata{
		ZarrFormat: 3,
		Shape:      raw.Shape,
		Chunks:     chunks,
		DType:      dt,
		Attrs:      raw.Attributes,
	}
	if meta.Attrs == nil {
		meta.Attrs = map[string]any{}
	}

	switch raw.ChunkKeyEncoding.Name {
	case "default", "":
		meta.keyPrefix, meta.separator = "c/", "/"
		if sep, ok := raw.ChunkKeyEncoding.Configuration["separator"].(string); ok {
			meta.keyPrefix, meta.separator = "c"+sep, sep
		}
	case "v2":
		meta.separator = "."
		if sep, ok := raw.ChunkKeyEncoding.Configuration["separator"].(string); ok {
			meta.separator = sep
		}
	default:
		return nil, unsupported(path, "chunk key encoding %q", raw.ChunkKeyEncoding.Name)
	}

	if meta.Fill, meta.HasFill, err = parseFill(raw.FillValue); err != nil {
		return nil, unsupported(path, "%v", err)
	}

	seenBytes := false
	for _, c := range raw.Codecs {
		switch c.Name {
		case "transpose":
			order, err := intList(c.Configuration["order"])
			if err != nil {
				return nil, unsupported(path, "transpose order: %v", err)
			}
			switch {
			case isIdentity(order):
			case isReversed(order):
				meta.FOrder = !meta.FOrder
			default:
				return nil, unsupported(path, "transpose order %v", order)
			}
		case "bytes":
			seenBytes = true
			if endian, _ := c.Configuration["endian"].(string); endian == "big" {
				meta.DType.Order = binary.BigEndian
			}
		case "sharding_indexed":
			return nil, unsupported(path, "sharded arrays are not supported")
		default:
			codec, err := codecFromV3(c)
			if err != nil {
				return nil, unsupported(path, "%v", err)
			}
			meta.codecs = append(meta.codecs, codec)
		}
	}
	if !seenBytes {
		return nil, unsupported(path, "codec chain has no bytes codec")
	}

	for _, name := range raw.DimensionNames {
		if name == nil {
			meta.Dimensions = nil
			break
		}
		meta.Dimensions = append(meta.Dimensions, *name)
	}
	return meta, nil
}

// parseFill decodes a JSON fill value. Non-finite floats are spelled as
// strings in both format versions.
func parseFill(raw json.RawMessage) (float64, bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return math.NaN(), false, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false, fmt.Errorf("fill_value %s is not supported", string(raw))
	}
	switch s {
	case "NaN":
		return math.NaN(), true, nil
	case "Infinity":
		return math.Inf(1), true, nil
	case "-Infinity":
		return math.Inf(-1), true, nil
	}
	return 0, false, fmt.Errorf("fill_value %q is not supported", s)
}

func intList(v any) ([]int, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]int, len(list))
	for i, e := range list {
		f, ok := e.(float64)
		if !ok {
			return nil, fmt.Errorf("expected integers, got %T", e)
		}
		out[i] = int(f)
	}
	return out, nil
}

func isIdentity(order []int) bool {
	for i, v := range order {
		if v != i {
			return false
		}
	}
	return true
}

func isReversed(order []int) bool {
	for i, v := range order {
		if v != len(order)-1-i {
			return false
		}
	}
	return true
}
