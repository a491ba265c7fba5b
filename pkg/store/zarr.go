package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"synapseqc/internal/models"
)

const (
	arrayMetaFile = ".zarray"
	groupMetaFile = ".zgroup"
)

// ErrUnsupportedCompressor is returned for codecs other than zlib, gzip and
// zstd. blosc, the zarr default, is not supported.
var ErrUnsupportedCompressor = errors.New("unsupported compressor")

var supportedCompressors = []string{"zlib", "gzip", "zstd"}

func unsupportedCompressor(id string) error {
	return fmt.Errorf("%w %q (supported: %s)", ErrUnsupportedCompressor, id, strings.Join(supportedCompressors, ", "))
}

// Compressor is the codec entry of a zarr array's metadata.
type Compressor struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

// arrayMeta mirrors the fields of a zarr v2 .zarray document that we use
type arrayMeta struct {
	ZarrFormat         int             `json:"zarr_format"`
	Shape              []int           `json:"shape"`
	Chunks             []int           `json:"chunks"`
	DType              string          `json:"dtype"`
	Compressor         *Compressor     `json:"compressor"`
	FillValue          json.RawMessage `json:"fill_value"`
	Order              string          `json:"order"`
	Filters            json.RawMessage `json:"filters"`
	DimensionSeparator string          `json:"dimension_separator,omitempty"`
}

// Zarr is a directory store of zarr v2 arrays. Groups are directories and
// arrays are directories holding a .zarray document plus one file per chunk.
// Only 3D, C-ordered, integer arrays are supported.
type Zarr struct {
	root string

	// Compressor is used by Put; nil writes raw chunks
	Compressor *Compressor
}

// Open opens the zarr container rooted at path.
func Open(path string) (*Zarr, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open zarr container: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("zarr container %s is not a directory", path)
	}
	return &Zarr{root: path}, nil
}

// Create makes an empty zarr container at path.
func Create(path string) (*Zarr, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create zarr container: %w", err)
	}
	if err := writeGroupMeta(path); err != nil {
		return nil, err
	}
	return &Zarr{root: path, Compressor: &Compressor{ID: "zlib", Level: 1}}, nil
}

// Root returns the directory of the container.
func (z *Zarr) Root() string {
	return z.root
}

func (z *Zarr) dir(path string) string {
	return filepath.Join(z.root, filepath.FromSlash(strings.Trim(path, "/")))
}

// Has reports whether path names an array or a group.
func (z *Zarr) Has(path string) bool {
	dir := z.dir(path)
	for _, meta := range []string{arrayMetaFile, groupMetaFile} {
		if _, err := os.Stat(filepath.Join(dir, meta)); err == nil {
			return true
		}
	}
	return false
}

// Get reads and decompresses the array at path.
func (z *Zarr) Get(path string) (*models.Volume, error) {
	dir := z.dir(path)
	raw, err := os.ReadFile(filepath.Join(dir, arrayMetaFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read array metadata of %s: %w", path, err)
	}

	var meta arrayMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("invalid array metadata of %s: %w", path, err)
	}
	if err := meta.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	itemSize, decode, err := parseDType(meta.DType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	fill, err := meta.fillValue()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	shape := models.Shape{Z: meta.Shape[0], Y: meta.Shape[1], X: meta.Shape[2]}
	chunk := models.Shape{Z: meta.Chunks[0], Y: meta.Chunks[1], X: meta.Chunks[2]}
	data := make([]uint64, shape.Len())
	if fill != 0 {
		for i := range data {
			data[i] = fill
		}
	}

	sep := meta.DimensionSeparator
	if sep == "" {
		sep = "."
	}
	grid := models.Shape{
		Z: ceilDiv(shape.Z, chunk.Z),
		Y: ceilDiv(shape.Y, chunk.Y),
		X: ceilDiv(shape.X, chunk.X),
	}

	for cz := 0; cz < grid.Z; cz++ {
		for cy := 0; cy < grid.Y; cy++ {
			for cx := 0; cx < grid.X; cx++ {
				name := strings.Join([]string{strconv.Itoa(cz), strconv.Itoa(cy), strconv.Itoa(cx)}, sep)
				compressed, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
				if errors.Is(err, os.ErrNotExist) {
					// missing chunks hold the fill value
					continue
				}
				if err != nil {
					return nil, fmt.Errorf("failed to read chunk %s of %s: %w", name, path, err)
				}
				buf, err := decompress(meta.Compressor, compressed)
				if err != nil {
					return nil, fmt.Errorf("failed to decompress chunk %s of %s: %w", name, path, err)
				}
				if len(buf) != chunk.Len()*itemSize {
					return nil, fmt.Errorf("chunk %s of %s has %d bytes, expected %d", name, path, len(buf), chunk.Len()*itemSize)
				}
				if err := copyChunk(data, shape, buf, chunk, cz, cy, cx, itemSize, decode); err != nil {
					return nil, fmt.Errorf("chunk %s of %s: %w", name, path, err)
				}
			}
		}
	}

	return models.NewVolume(data, shape)
}

// Put writes vol as a single-chunk little-endian uint64 array at path,
// creating intermediate groups.
func (z *Zarr) Put(path string, vol *models.Volume) error {
	dir := z.dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create array directory: %w", err)
	}
	// mark every intermediate directory as a group
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if err := writeGroupMeta(z.dir(strings.Join(parts[:i], "/"))); err != nil {
			return err
		}
	}

	s := vol.Shape()
	meta := arrayMeta{
		ZarrFormat: 2,
		Shape:      []int{s.Z, s.Y, s.X},
		Chunks:     []int{max(s.Z, 1), max(s.Y, 1), max(s.X, 1)},
		DType:      "<u8",
		Compressor: z.Compressor,
		FillValue:  json.RawMessage("0"),
		Order:      "C",
		Filters:    json.RawMessage("null"),
	}
	metaJSON, err := json.MarshalIndent(meta, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode array metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, arrayMetaFile), metaJSON, 0644); err != nil {
		return fmt.Errorf("failed to write array metadata: %w", err)
	}

	chunkLen := meta.Chunks[0] * meta.Chunks[1] * meta.Chunks[2]
	buf := make([]byte, chunkLen*8)
	for i := 0; i < vol.Len(); i++ {
		binary.LittleEndian.PutUint64(buf[i*8:], vol.Value(i))
	}
	compressed, err := compress(z.Compressor, buf)
	if err != nil {
		return fmt.Errorf("failed to compress %s: %w", path, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "0.0.0"), compressed, 0644); err != nil {
		return fmt.Errorf("failed to write chunk of %s: %w", path, err)
	}
	return nil
}

func writeGroupMeta(dir string) error {
	path := filepath.Join(dir, groupMetaFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create group directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(`{"zarr_format": 2}`), 0644); err != nil {
		return fmt.Errorf("failed to write group metadata: %w", err)
	}
	return nil
}

func (m *arrayMeta) validate() error {
	if m.ZarrFormat != 2 {
		return fmt.Errorf("unsupported zarr format %d", m.ZarrFormat)
	}
	if len(m.Shape) != 3 || len(m.Chunks) != 3 {
		return fmt.Errorf("expected a 3D array, got shape %v with chunks %v", m.Shape, m.Chunks)
	}
	for _, c := range m.Chunks {
		if c <= 0 {
			return fmt.Errorf("invalid chunk shape %v", m.Chunks)
		}
	}
	if m.Compressor != nil && !slices.Contains(supportedCompressors, m.Compressor.ID) {
		return unsupportedCompressor(m.Compressor.ID)
	}
	if m.Order != "" && m.Order != "C" {
		return fmt.Errorf("unsupported memory order %q", m.Order)
	}
	if len(m.Filters) > 0 && string(m.Filters) != "null" && string(m.Filters) != "[]" {
		return fmt.Errorf("array filters are not supported")
	}
	return nil
}

func (m *arrayMeta) fillValue() (uint64, error) {
	if len(m.FillValue) == 0 || string(m.FillValue) == "null" {
		return 0, nil
	}
	var f float64
	if err := json.Unmarshal(m.FillValue, &f); err != nil {
		return 0, fmt.Errorf("unsupported fill value %s", m.FillValue)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative fill value %v", f)
	}
	return uint64(f), nil
}

type decodeFunc func(b []byte) (uint64, error)

// parseDType understands numpy type strings such as "|u1", "<u8" and "<i4".
func parseDType(dtype string) (int, decodeFunc, error) {
	if len(dtype) < 3 {
		return 0, nil, fmt.Errorf("unsupported dtype %q", dtype)
	}
	var order binary.ByteOrder = binary.LittleEndian
	switch dtype[0] {
	case '<', '|':
	case '>':
		order = binary.BigEndian
	default:
		return 0, nil, fmt.Errorf("unsupported dtype %q", dtype)
	}
	size, err := strconv.Atoi(dtype[2:])
	if err != nil {
		return 0, nil, fmt.Errorf("unsupported dtype %q", dtype)
	}
	kind := dtype[1]

	var unsigned func(b []byte) uint64
	switch size {
	case 1:
		unsigned = func(b []byte) uint64 { return uint64(b[0]) }
	case 2:
		unsigned = func(b []byte) uint64 { return uint64(order.Uint16(b)) }
	case 4:
		unsigned = func(b []byte) uint64 { return uint64(order.Uint32(b)) }
	case 8:
		unsigned = func(b []byte) uint64 { return order.Uint64(b) }
	default:
		return 0, nil, fmt.Errorf("unsupported dtype %q", dtype)
	}

	switch kind {
	case 'u':
		return size, func(b []byte) (uint64, error) { return unsigned(b), nil }, nil
	case 'i':
		signBit := uint64(1) << (uint(size)*8 - 1)
		return size, func(b []byte) (uint64, error) {
			v := unsigned(b)
			if v&signBit != 0 {
				return 0, fmt.Errorf("negative value in %s array", dtype)
			}
			return v, nil
		}, nil
	}
	return 0, nil, fmt.Errorf("unsupported dtype %q", dtype)
}

func copyChunk(dst []uint64, shape models.Shape, buf []byte, chunk models.Shape, cz, cy, cx, itemSize int, decode decodeFunc) error {
	z0, y0, x0 := cz*chunk.Z, cy*chunk.Y, cx*chunk.X
	for z := 0; z < chunk.Z && z0+z < shape.Z; z++ {
		for y := 0; y < chunk.Y && y0+y < shape.Y; y++ {
			for x := 0; x < chunk.X && x0+x < shape.X; x++ {
				src := (z*chunk.Y*chunk.X + y*chunk.X + x) * itemSize
				v, err := decode(buf[src : src+itemSize])
				if err != nil {
					return err
				}
				dst[(z0+z)*shape.Y*shape.X+(y0+y)*shape.X+(x0+x)] = v
			}
		}
	}
	return nil
}

func decompress(c *Compressor, data []byte) ([]byte, error) {
	if c == nil {
		return data, nil
	}
	switch c.ID {
	case "zlib":
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "zstd":
		d, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer d.Close()
		return d.DecodeAll(data, nil)
	}
	return nil, unsupportedCompressor(c.ID)
}

func compress(c *Compressor, data []byte) ([]byte, error) {
	if c == nil {
		return data, nil
	}
	var buf bytes.Buffer
	switch c.ID {
	case "zlib":
		w, err := zlib.NewWriterLevel(&buf, zlibLevel(c.Level))
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case "gzip":
		w, err := gzip.NewWriterLevel(&buf, zlibLevel(c.Level))
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case "zstd":
		e, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer e.Close()
		return e.EncodeAll(data, nil), nil
	default:
		return nil, unsupportedCompressor(c.ID)
	}
	return buf.Bytes(), nil
}

func zlibLevel(level int) int {
	if level <= 0 {
		return zlib.DefaultCompression
	}
	return level
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
