package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/relves/vulnlog/internal/storage"
	"github.com/relves/vulnlog/pkg/eventlog"
	"github.com/relves/vulnlog/pkg/ledger"
	"github.com/relves/vulnlog/pkg/types"
)

// MaxListLimit caps the page size of list endpoints.
const MaxListLimit = 500

// HTTPHandler serves the public read API over the ledger and its event log.
type HTTPHandler struct {
	ledger *ledger.Service
	events *eventlog.Log
	logger *slog.Logger
}

// NewHTTPHandler creates a new HTTP handler. events may be nil, in which
// case the /log endpoints answer 404.
func NewHTTPHandler(l *ledger.Service, events *eventlog.Log, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{ledger: l, events: events, logger: logger}
}

// Register adds the read routes to mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /protocols", h.HandleListProtocols)
	mux.HandleFunc("GET /protocols/{addr}", h.HandleGetProtocol)
	mux.HandleFunc("GET /protocols/{addr}/policy", h.HandleGetPolicy)
	mux.HandleFunc("GET /disclosures", h.HandleListDisclosures)
	mux.HandleFunc("GET /disclosures/{addr}", h.HandleGetDisclosure)
	mux.HandleFunc("GET /vaults/{addr}", h.HandleGetVault)
	mux.HandleFunc("GET /vaults/{addr}/receipts/{disclosure}", h.HandleGetReceipt)
	mux.HandleFunc("GET /balances/{identity}", h.HandleGetBalance)
	mux.HandleFunc("GET /artifacts/{artifact}/status", h.HandleArtifactStatus)
	mux.HandleFunc("GET /log/checkpoint", h.HandleCheckpoint)
	mux.HandleFunc("GET /log/entries/{index}", h.HandleEntry)
	mux.HandleFunc("GET /log/proof/{index}", h.HandleProof)
}

// DisclosureResponse is a disclosure as served over HTTP. The payload is
// exposed only once revealed; before that only its length is.
type DisclosureResponse struct {
	*types.Disclosure
	RevealDeadline int64  `json:"reveal_deadline"`
	PayloadSize    int    `json:"payload_size"`
	Plaintext      string `json:"plaintext,omitempty"`
}

func disclosureResponse(d *types.Disclosure) DisclosureResponse {
	resp := DisclosureResponse{
		Disclosure:     d,
		RevealDeadline: d.RevealDeadline(),
		PayloadSize:    len(d.EncryptedPayload),
	}
	if d.Status == types.StatusRevealed {
		resp.Plaintext = base64.StdEncoding.EncodeToString(d.EncryptedPayload)
	}
	return resp
}

// VaultResponse is a bounty vault with decimal amounts.
type VaultResponse struct {
	Address        string            `json:"address"`
	Protocol       string            `json:"protocol"`
	Rates          map[string]string `json:"rates"`
	TotalDeposited string            `json:"total_deposited"`
	TotalPaid      string            `json:"total_paid"`
	Available      string            `json:"available"`
	Active         bool              `json:"active"`
	CreatedAt      int64             `json:"created_at"`
}

func vaultResponse(v *types.BountyVault) VaultResponse {
	rates := make(map[string]string, 4)
	for _, sev := range []types.Severity{types.SeverityLow, types.SeverityMedium, types.SeverityHigh, types.SeverityCritical} {
		if r := v.Rates.For(sev); r != nil {
			rates[sev.String()] = r.Dec()
		}
	}
	return VaultResponse{
		Address:        v.Address,
		Protocol:       v.Protocol,
		Rates:          rates,
		TotalDeposited: v.TotalDeposited.Dec(),
		TotalPaid:      v.TotalPaid.Dec(),
		Available:      v.Available().Dec(),
		Active:         v.Active,
		CreatedAt:      v.CreatedAt,
	}
}

// ReceiptResponse is a claim receipt with a decimal amount.
type ReceiptResponse struct {
	Address    string `json:"address"`
	Disclosure string `json:"disclosure"`
	Vault      string `json:"vault"`
	Amount     string `json:"amount"`
	ClaimedAt  int64  `json:"claimed_at"`
}

// BalanceResponse is the total paid out to an identity.
type BalanceResponse struct {
	Identity string `json:"identity"`
	Balance  string `json:"balance"`
}

// ArtifactStatusResponse is the ledger's view of one artifact.
type ArtifactStatusResponse struct {
	Artifact    string                `json:"artifact"`
	Registered  bool                  `json:"registered"`
	Protocol    *types.Protocol       `json:"protocol"`
	Policy      *types.ProtocolPolicy `json:"policy"`
	Vault       *VaultResponse        `json:"vault"`
	ByStatus    map[string]int        `json:"by_status"`
	BySeverity  map[string]int        `json:"by_severity"`
	Disclosures []DisclosureResponse  `json:"disclosures"`
}

// HandleListProtocols handles GET /protocols.
func (h *HTTPHandler) HandleListProtocols(w http.ResponseWriter, r *http.Request) {
	protocols, err := h.ledger.ListProtocols(r.Context())
	if err != nil {
		h.writeError(w, "failed to list protocols", err)
		return
	}
	if protocols == nil {
		protocols = []*types.Protocol{}
	}
	writeJSON(w, protocols)
}

// HandleGetProtocol handles GET /protocols/{addr}.
func (h *HTTPHandler) HandleGetProtocol(w http.ResponseWriter, r *http.Request) {
	p, err := h.ledger.GetProtocol(r.Context(), r.PathValue("addr"))
	if err != nil {
		h.writeError(w, "failed to get protocol", err)
		return
	}
	writeJSON(w, p)
}

// HandleGetPolicy handles GET /protocols/{addr}/policy.
func (h *HTTPHandler) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.ledger.GetPolicy(r.Context(), r.PathValue("addr"))
	if err != nil {
		h.writeError(w, "failed to get policy", err)
		return
	}
	writeJSON(w, p)
}

// HandleListDisclosures handles GET /disclosures. Query parameters hacker,
// protocol, target and status filter; limit and offset page.
func (h *HTTPHandler) HandleListDisclosures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.DisclosureFilter{
		Hacker:   types.Identity(q.Get("hacker")),
		Protocol: q.Get("protocol"),
		Target:   types.Identity(q.Get("target")),
		Limit:    MaxListLimit,
	}
	if s := q.Get("status"); s != "" {
		status, err := types.ParseStatus(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.Status = &status
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit"), MaxListLimit); err != nil || f.Limit < 1 || f.Limit > MaxListLimit {
		http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
		return
	}
	if f.Offset, err = intParam(q.Get("offset"), 0); err != nil || f.Offset < 0 {
		http.Error(w, "offset must be a non-negative integer", http.StatusBadRequest)
		return
	}

	list, err := h.ledger.ListDisclosures(r.Context(), f)
	if err != nil {
		h.writeError(w, "failed to list disclosures", err)
		return
	}
	resp := make([]DisclosureResponse, 0, len(list))
	for _, d := range list {
		resp = append(resp, disclosureResponse(d))
	}
	writeJSON(w, resp)
}

// HandleGetDisclosure handles GET /disclosures/{addr}.
func (h *HTTPHandler) HandleGetDisclosure(w http.ResponseWriter, r *http.Request) {
	d, err := h.ledger.GetDisclosure(r.Context(), r.PathValue("addr"))
	if err != nil {
		h.writeError(w, "failed to get disclosure", err)
		return
	}
	writeJSON(w, disclosureResponse(d))
}

// HandleGetVault handles GET /vaults/{addr}.
func (h *HTTPHandler) HandleGetVault(w http.ResponseWriter, r *http.Request) {
	v, err := h.ledger.GetVault(r.Context(), r.PathValue("addr"))
	if err != nil {
		h.writeError(w, "failed to get vault", err)
		return
	}
	writeJSON(w, vaultResponse(v))
}

// HandleGetReceipt handles GET /vaults/{addr}/receipts/{disclosure}.
func (h *HTTPHandler) HandleGetReceipt(w http.ResponseWriter, r *http.Request) {
	rc, err := h.ledger.GetReceipt(r.Context(), r.PathValue("disclosure"), r.PathValue("addr"))
	if err != nil {
		h.writeError(w, "failed to get receipt", err)
		return
	}
	writeJSON(w, ReceiptResponse{
		Address:    rc.Address,
		Disclosure: rc.Disclosure,
		Vault:      rc.Vault,
		Amount:     rc.Amount.Dec(),
		ClaimedAt:  rc.ClaimedAt,
	})
}

// HandleGetBalance handles GET /balances/{identity}.
func (h *HTTPHandler) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	b, err := h.ledger.Balance(r.Context(), types.Identity(identity))
	if err != nil {
		h.writeError(w, "failed to get balance", err)
		return
	}
	writeJSON(w, BalanceResponse{Identity: identity, Balance: b.Dec()})
}

// HandleArtifactStatus handles GET /artifacts/{artifact}/status. Unknown
// artifacts answer 200 with registered=false.
func (h *HTTPHandler) HandleArtifactStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.ledger.ArtifactStatus(r.Context(), types.Identity(r.PathValue("artifact")))
	if err != nil {
		h.writeError(w, "failed to get artifact status", err)
		return
	}

	resp := ArtifactStatusResponse{
		Artifact:    st.Artifact.String(),
		Registered:  st.Registered(),
		Protocol:    st.Protocol,
		Policy:      st.Policy,
		ByStatus:    map[string]int{},
		BySeverity:  map[string]int{},
		Disclosures: make([]DisclosureResponse, 0, len(st.Disclosures)),
	}
	if st.Vault != nil {
		v := vaultResponse(st.Vault)
		resp.Vault = &v
	}
	for status, n := range st.ByStatus {
		resp.ByStatus[status.String()] = n
	}
	for sev, n := range st.BySeverity {
		resp.BySeverity[sev.String()] = n
	}
	for _, d := range st.Disclosures {
		resp.Disclosures = append(resp.Disclosures, disclosureResponse(d))
	}
	writeJSON(w, resp)
}

// HandleCheckpoint handles GET /log/checkpoint. The body is the signed note.
func (h *HTTPHandler) HandleCheckpoint(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		http.Error(w, "event log not configured", http.StatusNotFound)
		return
	}
	signed, err := h.events.Checkpoint(r.Context())
	if err != nil {
		h.writeError(w, "failed to build checkpoint", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(signed)
}

// HandleEntry handles GET /log/entries/{index}.
func (h *HTTPHandler) HandleEntry(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		http.Error(w, "event log not configured", http.StatusNotFound)
		return
	}
	index, err := strconv.ParseUint(r.PathValue("index"), 10, 64)
	if err != nil {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return
	}
	e, err := h.events.Entry(r.Context(), index)
	if err != nil {
		h.writeError(w, "failed to get entry", err)
		return
	}
	writeJSON(w, e)
}

// HandleProof handles GET /log/proof/{index}?size=N. Without size the proof
// is against the current tree.
func (h *HTTPHandler) HandleProof(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		http.Error(w, "event log not configured", http.StatusNotFound)
		return
	}
	index, err := strconv.ParseUint(r.PathValue("index"), 10, 64)
	if err != nil {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return
	}
	var size uint64
	if s := r.URL.Query().Get("size"); s != "" {
		if size, err = strconv.ParseUint(s, 10, 64); err != nil {
			http.Error(w, "invalid size", http.StatusBadRequest)
			return
		}
	}
	p, err := h.events.InclusionProof(r.Context(), index, size)
	if err != nil {
		h.writeError(w, "failed to build proof", err)
		return
	}
	writeJSON(w, p)
}

// writeError answers 404 for missing records and 500 otherwise.
func (h *HTTPHandler) writeError(w http.ResponseWriter, msg string, err error) {
	if ledger.KindOf(err) == ledger.KindNotFound || errors.Is(err, eventlog.ErrIndexOutOfRange) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.logger.Error(msg, "error", err)
	http.Error(w, msg, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
