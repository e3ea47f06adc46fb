package substrings

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/stream"
	apperrors "github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/errors"
)

// MagicBytes identifies a phrase snapshot file ("LMPX").
const (
	MagicBytes    uint32 = 0x4C4D5058
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 16
)

// SnapshotHeader is the 64-byte header written at the start of every
// snapshot.
type SnapshotHeader struct {
	Magic      uint32
	Version    uint32
	KeyCount   uint32
	Sentences  uint32
	CreatedAt  int64
	DictOffset int64
	DictSize   int64
	PostOffset int64
	PostSize   int64
}

// DictEntry locates one key's encoded relation inside the postings region.
type DictEntry struct {
	Key     uint64 `json:"k"`
	PostOff int64  `json:"o"`
	PostLen int    `json:"l"`
}

func (h SnapshotHeader) encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.KeyCount)
	binary.LittleEndian.PutUint32(b[12:16], h.Sentences)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.PostSize))
	return b
}

func decodeHeader(b []byte) SnapshotHeader {
	return SnapshotHeader{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		KeyCount:   binary.LittleEndian.Uint32(b[8:12]),
		Sentences:  binary.LittleEndian.Uint32(b[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(b[16:24])),
		DictOffset: int64(binary.LittleEndian.Uint64(b[24:32])),
		DictSize:   int64(binary.LittleEndian.Uint64(b[32:40])),
		PostOffset: int64(binary.LittleEndian.Uint64(b[40:48])),
		PostSize:   int64(binary.LittleEndian.Uint64(b[48:56])),
	}
}

// checkRegions validates the header's region layout before anything is
// allocated from it. Postings follow the header and the dictionary follows
// the postings. A layout that is sound but runs past the end of a file of
// fileSize bytes is reported as a short read.
func (h SnapshotHeader) checkRegions(fileSize int64) error {
	if h.PostOffset != int64(HeaderSize) || h.PostSize < 0 || h.DictSize < 0 {
		return apperrors.Newf(apperrors.ErrCorruptSnapshot, apperrors.ExitBadInput,
			"bad region layout: postings %d+%d, dictionary %d+%d", h.PostOffset, h.PostSize, h.DictOffset, h.DictSize)
	}
	if h.PostSize > math.MaxInt64-h.PostOffset || h.DictOffset != h.PostOffset+h.PostSize {
		return apperrors.Newf(apperrors.ErrCorruptSnapshot, apperrors.ExitBadInput,
			"dictionary offset %d does not follow postings %d+%d", h.DictOffset, h.PostOffset, h.PostSize)
	}
	if h.DictSize > math.MaxInt64-int64(FooterSize)-h.DictOffset {
		return apperrors.Newf(apperrors.ErrCorruptSnapshot, apperrors.ExitBadInput, "dictionary size %d overflows", h.DictSize)
	}
	if end := h.DictOffset + h.DictSize + int64(FooterSize); end > fileSize {
		return fmt.Errorf("snapshot needs %d bytes, file has %d: %w", end, fileSize, stream.ErrReadSize)
	}
	return nil
}

// WriteSnapshot atomically writes idx to path. It writes to a .tmp file
// first and renames on success.
func WriteSnapshot(path string, idx *Index) error {
	entries := idx.Snapshot()
	if len(entries) == 0 {
		return fmt.Errorf("cannot write empty snapshot: %w", apperrors.ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp snapshot file: %w", err)
	}
	defer f.Close()

	postings := make([]byte, 0, len(entries)*16)
	dict := make([]DictEntry, 0, len(entries))
	for _, e := range entries {
		start := len(postings)
		postings = appendRelation(postings, e.Relation)
		dict = append(dict, DictEntry{
			Key:     e.Key,
			PostOff: int64(start),
			PostLen: len(postings) - start,
		})
	}
	dictData, err := json.Marshal(dict)
	if err != nil {
		return fmt.Errorf("marshaling dictionary: %w", err)
	}

	header := SnapshotHeader{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		KeyCount:   uint32(len(entries)),
		Sentences:  idx.Sentences(),
		CreatedAt:  time.Now().Unix(),
		PostOffset: int64(HeaderSize),
		PostSize:   int64(len(postings)),
	}
	header.DictOffset = header.PostOffset + header.PostSize
	header.DictSize = int64(len(dictData))

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(postings))
	binary.LittleEndian.PutUint32(footer[4:8], crc32.ChecksumIEEE(dictData))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(header.DictOffset+header.DictSize))

	for _, part := range []struct {
		name string
		data []byte
	}{
		{"header", header.encode()},
		{"postings", postings},
		{"dictionary", dictData},
		{"footer", footer},
	} {
		if _, err := f.Write(part.data); err != nil {
			return fmt.Errorf("writing %s: %w", part.name, err)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing snapshot file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming snapshot file: %w", err)
	}
	return nil
}

// OpenSnapshot loads a snapshot into a frozen Index. Regions are read with
// positioned reads; a truncated file fails with stream.ErrReadSize and an
// inconsistent header with ErrCorruptSnapshot.
func OpenSnapshot(ctx context.Context, path string, cfg stream.ChainConfig) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot file: %w", err)
	}
	defer f.Close()

	headerBytes, err := stream.ReadAll(ctx, stream.NewPRead(f, 0, int64(HeaderSize)), cfg)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot header: %w", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, apperrors.Newf(apperrors.ErrCorruptSnapshot, apperrors.ExitBadInput, "bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, apperrors.Newf(apperrors.ErrCorruptSnapshot, apperrors.ExitBadInput, "unsupported version %d", header.Version)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat snapshot file: %w", err)
	}
	if err := header.checkRegions(info.Size()); err != nil {
		return nil, err
	}

	footer, err := stream.ReadAll(ctx, stream.NewPRead(f, header.DictOffset+header.DictSize, int64(FooterSize)), cfg)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot footer: %w", err)
	}
	dictData, err := stream.ReadAll(ctx, stream.NewPRead(f, header.DictOffset, header.DictSize), cfg)
	if err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	if crc32.ChecksumIEEE(dictData) != binary.LittleEndian.Uint32(footer[4:8]) {
		return nil, apperrors.New(apperrors.ErrCorruptSnapshot, apperrors.ExitBadInput, "dictionary checksum mismatch")
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictData, &dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}
	if len(dict) != int(header.KeyCount) {
		return nil, apperrors.Newf(apperrors.ErrCorruptSnapshot, apperrors.ExitBadInput, "dictionary has %d keys, header says %d", len(dict), header.KeyCount)
	}

	postings, err := stream.ReadAll(ctx, stream.NewPRead(f, header.PostOffset, header.PostSize), cfg)
	if err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	if crc32.ChecksumIEEE(postings) != binary.LittleEndian.Uint32(footer[0:4]) {
		return nil, apperrors.New(apperrors.ErrCorruptSnapshot, apperrors.ExitBadInput, "postings checksum mismatch")
	}

	idx := New()
	for _, d := range dict {
		end := d.PostOff + int64(d.PostLen)
		if d.PostOff < 0 || end > int64(len(postings)) {
			return nil, apperrors.Newf(apperrors.ErrCorruptSnapshot, apperrors.ExitBadInput, "key %x points outside postings", d.Key)
		}
		rel, err := decodeRelation(postings[d.PostOff:end])
		if err != nil {
			return nil, fmt.Errorf("decoding key %x: %w", d.Key, err)
		}
		idx.restore(Entry{Key: d.Key, Relation: rel}, header.Sentences)
	}
	idx.Freeze()
	return idx, nil
}

func appendRelation(buf []byte, rel Relation) []byte {
	for _, list := range [][]uint32{rel.Substring, rel.Left, rel.Right, rel.Phrase} {
		buf = binary.AppendUvarint(buf, uint64(len(list)))
		var prev uint32
		for _, s := range list {
			buf = binary.AppendUvarint(buf, uint64(s-prev))
			prev = s
		}
	}
	return buf
}

func decodeRelation(buf []byte) (Relation, error) {
	var lists [4][]uint32
	for i := range lists {
		n, w := binary.Uvarint(buf)
		if w <= 0 || n > uint64(len(buf)) {
			return Relation{}, apperrors.ErrCorruptSnapshot
		}
		buf = buf[w:]
		var list []uint32
		if n > 0 {
			list = make([]uint32, 0, n)
		}
		var prev uint32
		for j := uint64(0); j < n; j++ {
			delta, w := binary.Uvarint(buf)
			if w <= 0 {
				return Relation{}, apperrors.ErrCorruptSnapshot
			}
			buf = buf[w:]
			prev += uint32(delta)
			list = append(list, prev)
		}
		lists[i] = list
	}
	return Relation{Substring: lists[0], Left: lists[1], Right: lists[2], Phrase: lists[3]}, nil
}
