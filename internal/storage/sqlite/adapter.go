package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/relves/vulnlog/internal/storage"
	"github.com/relves/vulnlog/pkg/types"
)

// Ensure tx implements storage.Tx at compile time.
var _ storage.Tx = (*tx)(nil)

type tx struct {
	tx       *sql.Tx
	readOnly bool
}

func (t *tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if t.readOnly {
		return nil, errors.New("write in read-only transaction")
	}
	return t.tx.ExecContext(ctx, query, args...)
}

// insert runs an INSERT and maps key collisions to storage.ErrExists.
func (t *tx) insert(ctx context.Context, query string, args ...any) error {
	_, err := t.exec(ctx, query, args...)
	if isConstraintErr(err) {
		return storage.ErrExists
	}
	return err
}

// update runs an UPDATE that must touch exactly one row.
func (t *tx) update(ctx context.Context, query string, args ...any) error {
	res, err := t.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func encodeAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func decodeAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("decode amount %q: %w", s, err)
	}
	return v, nil
}

func copy32(dst *[32]byte, src []byte, field string) error {
	if len(src) != 32 {
		return fmt.Errorf("%s: expected 32 bytes, got %d", field, len(src))
	}
	copy(dst[:], src)
	return nil
}

// Protocols

const protocolColumns = `address, authority, artifact, name, encryption_key, registered_at, pending_authority`

func scanProtocol(row interface{ Scan(...any) error }) (*types.Protocol, error) {
	var p types.Protocol
	var key []byte
	if err := row.Scan(&p.Address, &p.Authority, &p.Artifact, &p.Name, &key, &p.RegisteredAt, &p.PendingAuthority); err != nil {
		return nil, err
	}
	if err := copy32((*[32]byte)(&p.EncryptionKey), key, "encryption_key"); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *tx) GetProtocol(ctx context.Context, addr string) (*types.Protocol, error) {
	p, err := scanProtocol(t.tx.QueryRowContext(ctx,
		`SELECT `+protocolColumns+` FROM protocols WHERE address = ?`, addr))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	return p, err
}

func (t *tx) InsertProtocol(ctx context.Context, p *types.Protocol) error {
	return t.insert(ctx,
		`INSERT INTO protocols (`+protocolColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Address, p.Authority, p.Artifact, p.Name, p.EncryptionKey[:], p.RegisteredAt, p.PendingAuthority)
}

func (t *tx) UpdateProtocol(ctx context.Context, p *types.Protocol) error {
	return t.update(ctx,
		`UPDATE protocols SET authority = ?, name = ?, encryption_key = ?, pending_authority = ?
		 WHERE address = ?`,
		p.Authority, p.Name, p.EncryptionKey[:], p.PendingAuthority, p.Address)
}

func (t *tx) ListProtocols(ctx context.Context) ([]*types.Protocol, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+protocolColumns+` FROM protocols ORDER BY registered_at, address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Protocol
	for rows.Next() {
		p, err := scanProtocol(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Policies

func (t *tx) GetPolicy(ctx context.Context, addr string) (*types.ProtocolPolicy, error) {
	var p types.ProtocolPolicy
	err := t.tx.QueryRowContext(ctx,
		`SELECT address, protocol, min_grace_period FROM policies WHERE address = ?`,
		addr).Scan(&p.Address, &p.Protocol, &p.MinGracePeriod)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *tx) InsertPolicy(ctx context.Context, p *types.ProtocolPolicy) error {
	return t.insert(ctx,
		`INSERT INTO policies (address, protocol, min_grace_period) VALUES (?, ?, ?)`,
		p.Address, p.Protocol, p.MinGracePeriod)
}

func (t *tx) UpdatePolicy(ctx context.Context, p *types.ProtocolPolicy) error {
	return t.update(ctx,
		`UPDATE policies SET min_grace_period = ? WHERE address = ?`,
		p.MinGracePeriod, p.Address)
}

// Disclosures

const disclosureColumns = `address, hacker, protocol, target, proof_hash, payload, sender_key, severity,
	status, resolution, payment_ref, submitted_at, acknowledged_at, resolved_at, grace_period, nonce`

func scanDisclosure(row interface{ Scan(...any) error }) (*types.Disclosure, error) {
	var d types.Disclosure
	var proofHash, senderKey, paymentRef []byte
	var nonce int64
	err := row.Scan(&d.Address, &d.Hacker, &d.Protocol, &d.Target, &proofHash, &d.EncryptedPayload,
		&senderKey, &d.Severity, &d.Status, &d.Resolution, &paymentRef,
		&d.SubmittedAt, &d.AcknowledgedAt, &d.ResolvedAt, &d.GracePeriod, &nonce)
	if err != nil {
		return nil, err
	}
	if err := copy32((*[32]byte)(&d.ProofHash), proofHash, "proof_hash"); err != nil {
		return nil, err
	}
	if err := copy32((*[32]byte)(&d.SenderKey), senderKey, "sender_key"); err != nil {
		return nil, err
	}
	if err := copy32((*[32]byte)(&d.PaymentRef), paymentRef, "payment_ref"); err != nil {
		return nil, err
	}
	// SQLite integers are signed; the nonce keeps its bit pattern.
	d.Nonce = uint64(nonce)
	return &d, nil
}

func (t *tx) GetDisclosure(ctx context.Context, addr string) (*types.Disclosure, error) {
	d, err := scanDisclosure(t.tx.QueryRowContext(ctx,
		`SELECT `+disclosureColumns+` FROM disclosures WHERE address = ?`, addr))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	return d, err
}

func (t *tx) InsertDisclosure(ctx context.Context, d *types.Disclosure) error {
	payload := d.EncryptedPayload
	if payload == nil {
		payload = []byte{}
	}
	return t.insert(ctx,
		`INSERT INTO disclosures (`+disclosureColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Address, d.Hacker, d.Protocol, d.Target, d.ProofHash[:], payload, d.SenderKey[:],
		uint8(d.Severity), uint8(d.Status), uint8(d.Resolution), d.PaymentRef[:],
		d.SubmittedAt, d.AcknowledgedAt, d.ResolvedAt, d.GracePeriod, int64(d.Nonce))
}

// UpdateDisclosure writes the mutable fields. proof_hash, hacker, target,
// severity, grace_period and nonce are fixed at submission.
func (t *tx) UpdateDisclosure(ctx context.Context, d *types.Disclosure) error {
	payload := d.EncryptedPayload
	if payload == nil {
		payload = []byte{}
	}
	return t.update(ctx,
		`UPDATE disclosures SET protocol = ?, payload = ?, status = ?, resolution = ?, payment_ref = ?,
		   acknowledged_at = ?, resolved_at = ?
		 WHERE address = ?`,
		d.Protocol, payload, uint8(d.Status), uint8(d.Resolution), d.PaymentRef[:],
		d.AcknowledgedAt, d.ResolvedAt, d.Address)
}

func (t *tx) ListDisclosures(ctx context.Context, f storage.DisclosureFilter) ([]*types.Disclosure, error) {
	var where []string
	var args []any
	if f.Hacker != "" {
		where = append(where, "hacker = ?")
		args = append(args, f.Hacker)
	}
	if f.Protocol != "" {
		where = append(where, "protocol = ?")
		args = append(args, f.Protocol)
	}
	if f.Target != "" {
		where = append(where, "target = ?")
		args = append(args, f.Target)
	}
	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, uint8(*f.Status))
	}

	query := `SELECT ` + disclosureColumns + ` FROM disclosures`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY submitted_at, address"

	limit := f.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(f.Offset, 0))

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Disclosure
	for rows.Next() {
		d, err := scanDisclosure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Vaults

const vaultColumns = `address, protocol, rate_low, rate_medium, rate_high, rate_critical,
	total_deposited, total_paid, active, created_at`

func (t *tx) GetVault(ctx context.Context, addr string) (*types.BountyVault, error) {
	var v types.BountyVault
	var low, medium, high, critical, deposited, paid string
	err := t.tx.QueryRowContext(ctx,
		`SELECT `+vaultColumns+` FROM vaults WHERE address = ?`, addr).
		Scan(&v.Address, &v.Protocol, &low, &medium, &high, &critical, &deposited, &paid, &v.Active, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	for _, f := range []struct {
		dst **uint256.Int
		src string
	}{
		{&v.Rates.Low, low},
		{&v.Rates.Medium, medium},
		{&v.Rates.High, high},
		{&v.Rates.Critical, critical},
		{&v.TotalDeposited, deposited},
		{&v.TotalPaid, paid},
	} {
		if *f.dst, err = decodeAmount(f.src); err != nil {
			return nil, err
		}
	}
	return &v, nil
}

func (t *tx) InsertVault(ctx context.Context, v *types.BountyVault) error {
	return t.insert(ctx,
		`INSERT INTO vaults (`+vaultColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.Address, v.Protocol,
		encodeAmount(v.Rates.Low), encodeAmount(v.Rates.Medium), encodeAmount(v.Rates.High), encodeAmount(v.Rates.Critical),
		encodeAmount(v.TotalDeposited), encodeAmount(v.TotalPaid), v.Active, v.CreatedAt)
}

func (t *tx) UpdateVault(ctx context.Context, v *types.BountyVault) error {
	return t.update(ctx,
		`UPDATE vaults SET total_deposited = ?, total_paid = ?, active = ? WHERE address = ?`,
		encodeAmount(v.TotalDeposited), encodeAmount(v.TotalPaid), v.Active, v.Address)
}

// Receipts

func (t *tx) GetReceipt(ctx context.Context, addr string) (*types.ClaimReceipt, error) {
	var r types.ClaimReceipt
	var amount string
	err := t.tx.QueryRowContext(ctx,
		`SELECT address, disclosure, vault, amount, claimed_at FROM receipts WHERE address = ?`,
		addr).Scan(&r.Address, &r.Disclosure, &r.Vault, &amount, &r.ClaimedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.Amount, err = decodeAmount(amount); err != nil {
		return nil, err
	}
	return &r, nil
}

// InsertReceipt creates a receipt; the primary key makes a second insert
// for the same address fail with storage.ErrExists.
func (t *tx) InsertReceipt(ctx context.Context, r *types.ClaimReceipt) error {
	return t.insert(ctx,
		`INSERT INTO receipts (address, disclosure, vault, amount, claimed_at) VALUES (?, ?, ?, ?, ?)`,
		r.Address, r.Disclosure, r.Vault, encodeAmount(r.Amount), r.ClaimedAt)
}

// Transfers

// Transfer records a movement of value and credits the recipient.
func (t *tx) Transfer(ctx context.Context, tr types.Transfer) error {
	if _, err := t.exec(ctx,
		`INSERT INTO transfers (from_account, to_account, amount, reason, at) VALUES (?, ?, ?, ?, ?)`,
		tr.From, tr.To, encodeAmount(tr.Amount), tr.Reason, tr.At); err != nil {
		return fmt.Errorf("record transfer: %w", err)
	}

	balance, err := t.Balance(ctx, tr.To)
	if err != nil {
		return err
	}
	if _, overflow := balance.AddOverflow(balance, tr.Amount); overflow {
		return fmt.Errorf("balance overflow for %s", tr.To)
	}
	_, err = t.exec(ctx,
		`INSERT INTO balances (account, amount) VALUES (?, ?)
		 ON CONFLICT(account) DO UPDATE SET amount = excluded.amount`,
		tr.To, encodeAmount(balance))
	return err
}

// Balance returns the credited balance of account, zero if none.
func (t *tx) Balance(ctx context.Context, account string) (*uint256.Int, error) {
	var amount string
	err := t.tx.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE account = ?`, account).Scan(&amount)
	if err == sql.ErrNoRows {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return decodeAmount(amount)
}

// Deployments

func (t *tx) GetDeployment(ctx context.Context, artifact types.Identity) (*types.Deployment, error) {
	var d types.Deployment
	err := t.tx.QueryRowContext(ctx,
		`SELECT artifact, admin, executable, updated_at FROM deployments WHERE artifact = ?`,
		artifact).Scan(&d.Artifact, &d.Admin, &d.Executable, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *tx) PutDeployment(ctx context.Context, d *types.Deployment) error {
	_, err := t.exec(ctx,
		`INSERT INTO deployments (artifact, admin, executable, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(artifact) DO UPDATE SET
		   admin = excluded.admin,
		   executable = excluded.executable,
		   updated_at = excluded.updated_at`,
		d.Artifact, d.Admin, d.Executable, d.UpdatedAt)
	return err
}

// Event log

func (t *tx) AppendLeaf(ctx context.Context, index uint64, leafHash, data []byte) error {
	return t.insert(ctx,
		`INSERT INTO events (idx, leaf_hash, data) VALUES (?, ?, ?)`,
		int64(index), leafHash, data)
}

func (t *tx) GetLeaf(ctx context.Context, index uint64) ([]byte, []byte, error) {
	var leafHash, data []byte
	err := t.tx.QueryRowContext(ctx,
		`SELECT leaf_hash, data FROM events WHERE idx = ?`, int64(index)).Scan(&leafHash, &data)
	if err == sql.ErrNoRows {
		return nil, nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return leafHash, data, nil
}

// LeafHashes returns the leaf hashes in [from, to).
func (t *tx) LeafHashes(ctx context.Context, from, to uint64) ([][]byte, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT leaf_hash FROM events WHERE idx >= ? AND idx < ? ORDER BY idx`,
		int64(from), int64(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make([][]byte, 0, to-from)
	for rows.Next() {
		var h []byte
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if uint64(len(hashes)) != to-from {
		return nil, fmt.Errorf("event log has %d leaves in [%d, %d)", len(hashes), from, to)
	}
	return hashes, nil
}

// GetTreeState returns the persisted tree state, or an empty state if the
// log has no entries yet.
func (t *tx) GetTreeState(ctx context.Context) (*storage.TreeState, error) {
	var size int64
	var root, packed []byte
	err := t.tx.QueryRowContext(ctx,
		`SELECT size, root, hashes FROM tree_state WHERE id = 0`).Scan(&size, &root, &packed)
	if err == sql.ErrNoRows {
		return &storage.TreeState{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(packed)%32 != 0 {
		return nil, fmt.Errorf("tree_state hashes has invalid length %d", len(packed))
	}
	hashes := make([][]byte, 0, len(packed)/32)
	for i := 0; i < len(packed); i += 32 {
		hashes = append(hashes, packed[i:i+32])
	}
	return &storage.TreeState{Size: uint64(size), Root: root, Hashes: hashes}, nil
}

// SetTreeState sets the tree state (upsert).
func (t *tx) SetTreeState(ctx context.Context, s *storage.TreeState) error {
	packed := make([]byte, 0, 32*len(s.Hashes))
	for _, h := range s.Hashes {
		if len(h) != 32 {
			return fmt.Errorf("range hash has length %d", len(h))
		}
		packed = append(packed, h...)
	}
	_, err := t.exec(ctx,
		`INSERT INTO tree_state (id, size, root, hashes) VALUES (0, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET size = excluded.size, root = excluded.root, hashes = excluded.hashes`,
		int64(s.Size), s.Root, packed)
	return err
}
