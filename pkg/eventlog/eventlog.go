// Package eventlog keeps a tamper-evident Merkle log of ledger events.
//
// Leaves are JSON encoded events hashed per RFC 6962. The compact range of
// the tree is stored next to the records, so an append happens in the same
// transaction as the mutation it describes. Checkpoints are signed notes in
// the transparency-dev checkpoint format.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/transparency-dev/formats/log"
	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"
	"golang.org/x/mod/sumdb/note"

	"github.com/relves/vulnlog/internal/storage"
	"github.com/relves/vulnlog/pkg/types"
)

// DefaultOrigin is the checkpoint origin line used when none is configured.
const DefaultOrigin = "vulnlog"

// ErrIndexOutOfRange is returned for proofs of leaves the tree does not hold.
var ErrIndexOutOfRange = errors.New("index out of range")

// Event describes one successful ledger mutation.
type Event struct {
	Index  uint64          `json:"index"`
	Type   string          `json:"type"`
	Record string          `json:"record"`
	Actor  types.Identity  `json:"actor"`
	Time   int64           `json:"time"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Proof is an RFC 6962 inclusion proof of one leaf in a tree of Size leaves.
type Proof struct {
	Index    uint64   `json:"index"`
	Size     uint64   `json:"size"`
	LeafHash []byte   `json:"leaf_hash"`
	Hashes   [][]byte `json:"hashes"`
	Root     []byte   `json:"root"`
}

// Log appends events and serves checkpoints and proofs.
type Log struct {
	store   storage.Store
	origin  string
	signer  note.Signer
	factory *compact.RangeFactory
	logger  *slog.Logger
}

// New creates a Log over store. Checkpoint fails when signer is nil.
func New(store storage.Store, origin string, signer note.Signer, logger *slog.Logger) *Log {
	if origin == "" {
		origin = DefaultOrigin
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		store:   store,
		origin:  origin,
		signer:  signer,
		factory: &compact.RangeFactory{Hash: rfc6962.DefaultHasher.HashChildren},
		logger:  logger,
	}
}

// Origin returns the checkpoint origin line.
func (l *Log) Origin() string {
	return l.origin
}

// Append adds e as the next leaf using tx. e.Index is set to the assigned
// index. The caller's transaction commits or discards the leaf together with
// the records it describes.
func (l *Log) Append(ctx context.Context, tx storage.Tx, e *Event) error {
	st, err := tx.GetTreeState(ctx)
	if err != nil {
		return fmt.Errorf("read tree state: %w", err)
	}
	rng, err := l.factory.NewRange(0, st.Size, st.Hashes)
	if err != nil {
		return fmt.Errorf("restore compact range: %w", err)
	}

	e.Index = st.Size
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	leaf := rfc6962.DefaultHasher.HashLeaf(data)

	if err := tx.AppendLeaf(ctx, e.Index, leaf, data); err != nil {
		return fmt.Errorf("append leaf %d: %w", e.Index, err)
	}
	if err := rng.Append(leaf, nil); err != nil {
		return fmt.Errorf("extend compact range: %w", err)
	}
	root, err := rng.GetRootHash(nil)
	if err != nil {
		return fmt.Errorf("compute root: %w", err)
	}

	if err := tx.SetTreeState(ctx, &storage.TreeState{
		Size:   rng.End(),
		Root:   root,
		Hashes: rng.Hashes(),
	}); err != nil {
		return fmt.Errorf("write tree state: %w", err)
	}

	l.logger.Debug("event appended", "index", e.Index, "type", e.Type, "record", e.Record)
	return nil
}

// Size returns the current number of leaves and the root hash.
func (l *Log) Size(ctx context.Context) (uint64, []byte, error) {
	var st *storage.TreeState
	err := l.store.View(ctx, func(tx storage.Tx) error {
		var err error
		st, err = tx.GetTreeState(ctx)
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	if st.Size == 0 {
		return 0, rfc6962.DefaultHasher.EmptyRoot(), nil
	}
	return st.Size, st.Root, nil
}

// Checkpoint returns the current tree head as a signed note.
func (l *Log) Checkpoint(ctx context.Context) ([]byte, error) {
	if l.signer == nil {
		return nil, errors.New("no checkpoint signer configured")
	}
	size, root, err := l.Size(ctx)
	if err != nil {
		return nil, err
	}

	cp := log.Checkpoint{Origin: l.origin, Size: size, Hash: root}
	signed, err := note.Sign(&note.Note{Text: string(cp.Marshal())}, l.signer)
	if err != nil {
		return nil, fmt.Errorf("sign checkpoint: %w", err)
	}
	return signed, nil
}

// Entry returns the event stored at index.
func (l *Log) Entry(ctx context.Context, index uint64) (*Event, error) {
	var data []byte
	err := l.store.View(ctx, func(tx storage.Tx) error {
		var err error
		_, data, err = tx.GetLeaf(ctx, index)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrIndexOutOfRange
	}
	if err != nil {
		return nil, err
	}

	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode event %d: %w", index, err)
	}
	return &e, nil
}

// InclusionProof proves leaf index in the tree of the given size. A zero
// size means the current tree.
func (l *Log) InclusionProof(ctx context.Context, index, size uint64) (*Proof, error) {
	var leaves [][]byte
	err := l.store.View(ctx, func(tx storage.Tx) error {
		st, err := tx.GetTreeState(ctx)
		if err != nil {
			return err
		}
		if size == 0 {
			size = st.Size
		}
		if size > st.Size || index >= size {
			return ErrIndexOutOfRange
		}
		leaves, err = tx.LeafHashes(ctx, 0, size)
		return err
	})
	if err != nil {
		return nil, err
	}

	nodes, err := proof.Inclusion(index, size)
	if err != nil {
		return nil, fmt.Errorf("plan inclusion proof: %w", err)
	}
	hashes := make([][]byte, 0, len(nodes.IDs))
	for _, id := range nodes.IDs {
		h, err := l.subtreeHash(leaves, 0, id)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	hashes, err = nodes.Rehash(hashes, rfc6962.DefaultHasher.HashChildren)
	if err != nil {
		return nil, fmt.Errorf("rehash proof: %w", err)
	}

	root, err := l.rootOf(leaves)
	if err != nil {
		return nil, err
	}

	return &Proof{
		Index:    index,
		Size:     size,
		LeafHash: leaves[index],
		Hashes:   hashes,
		Root:     root,
	}, nil
}

// subtreeHash computes the hash of the perfect subtree id. leaves holds the
// leaf hashes starting at leaf offset.
func (l *Log) subtreeHash(leaves [][]byte, offset uint64, id compact.NodeID) ([]byte, error) {
	begin := id.Index << id.Level
	end := (id.Index + 1) << id.Level
	if begin < offset || end-offset > uint64(len(leaves)) {
		return nil, fmt.Errorf("node %d/%d outside leaves [%d, %d)", id.Level, id.Index, offset, offset+uint64(len(leaves)))
	}
	// An aligned perfect subtree compacts to a single node.
	rng := l.factory.NewEmptyRange(begin)
	for _, leaf := range leaves[begin-offset : end-offset] {
		if err := rng.Append(leaf, nil); err != nil {
			return nil, err
		}
	}
	hashes := rng.Hashes()
	if len(hashes) != 1 {
		return nil, fmt.Errorf("node %d/%d compacted to %d hashes", id.Level, id.Index, len(hashes))
	}
	return hashes[0], nil
}

func (l *Log) rootOf(leaves [][]byte) ([]byte, error) {
	rng := l.factory.NewEmptyRange(0)
	for _, leaf := range leaves {
		if err := rng.Append(leaf, nil); err != nil {
			return nil, err
		}
	}
	return rng.GetRootHash(nil)
}

// LeafHash returns the RFC 6962 leaf hash of an encoded event.
func LeafHash(data []byte) []byte {
	return rfc6962.DefaultHasher.HashLeaf(data)
}

// VerifyInclusion checks p against its root.
func VerifyInclusion(p *Proof) error {
	return proof.VerifyInclusion(rfc6962.DefaultHasher, p.Index, p.Size, p.LeafHash, p.Hashes, p.Root)
}

// OpenCheckpoint verifies a signed checkpoint against the verifier key
// vkey and returns the parsed tree head.
func OpenCheckpoint(signed []byte, origin, vkey string) (*log.Checkpoint, error) {
	v, err := note.NewVerifier(vkey)
	if err != nil {
		return nil, fmt.Errorf("parse verifier key: %w", err)
	}
	cp, _, _, err := log.ParseCheckpoint(signed, origin, v)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	return cp, nil
}
