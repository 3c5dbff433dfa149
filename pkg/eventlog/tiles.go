package eventlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/transparency-dev/merkle/compact"

	"github.com/relves/vulnlog/internal/storage"
)

// Tile geometry of the C2SP tlog-tiles layout.
const (
	TileHeight = 8
	TileWidth  = 1 << TileHeight
)

// ErrTileNotFound is returned for tiles and bundles the tree cannot fill yet.
var ErrTileNotFound = errors.New("tile not found")

// tileSpan returns the first node index of a tile and its width. A zero
// partial width means a full tile.
func tileSpan(index uint64, partial uint8) (first, width uint64, err error) {
	width = TileWidth
	if partial > 0 {
		width = uint64(partial)
	}
	if index > (math.MaxUint64-width)/TileWidth {
		return 0, 0, ErrTileNotFound
	}
	return index * TileWidth, width, nil
}

// Tile returns the concatenated node hashes of tile (level, index).
func (l *Log) Tile(ctx context.Context, level, index uint64, partial uint8) ([]byte, error) {
	nodeLevel := level * TileHeight
	if level > 7 {
		return nil, ErrTileNotFound
	}
	first, width, err := tileSpan(index, partial)
	if err != nil {
		return nil, err
	}

	var leaves [][]byte
	begin := first << nodeLevel
	err = l.store.View(ctx, func(tx storage.Tx) error {
		st, err := tx.GetTreeState(ctx)
		if err != nil {
			return err
		}
		if first+width > st.Size>>nodeLevel {
			return ErrTileNotFound
		}
		leaves, err = tx.LeafHashes(ctx, begin, (first+width)<<nodeLevel)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, width*32)
	for i := uint64(0); i < width; i++ {
		h, err := l.subtreeHash(leaves, begin, compact.NewNodeID(uint(nodeLevel), first+i))
		if err != nil {
			return nil, err
		}
		out = append(out, h...)
	}
	return out, nil
}

// EntryBundle returns entries of bundle index, each prefixed with its
// big-endian uint16 length.
func (l *Log) EntryBundle(ctx context.Context, index uint64, partial uint8) ([]byte, error) {
	first, width, err := tileSpan(index, partial)
	if err != nil {
		return nil, err
	}

	var bundle []byte
	err = l.store.View(ctx, func(tx storage.Tx) error {
		st, err := tx.GetTreeState(ctx)
		if err != nil {
			return err
		}
		if first+width > st.Size {
			return ErrTileNotFound
		}
		for i := first; i < first+width; i++ {
			_, data, err := tx.GetLeaf(ctx, i)
			if err != nil {
				return fmt.Errorf("read leaf %d: %w", i, err)
			}
			if len(data) > math.MaxUint16 {
				return fmt.Errorf("leaf %d is %d bytes, too large for a bundle", i, len(data))
			}
			bundle = binary.BigEndian.AppendUint16(bundle, uint16(len(data)))
			bundle = append(bundle, data...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bundle, nil
}
