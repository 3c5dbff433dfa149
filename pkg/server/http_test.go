package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/vulnlog/pkg/capabilities"
	"github.com/relves/vulnlog/pkg/commitment"
	"github.com/relves/vulnlog/pkg/eventlog"
	"github.com/relves/vulnlog/pkg/ledger"
)

func (e *testEnv) mux() *http.ServeMux {
	mux := http.NewServeMux()
	NewHTTPHandler(e.ledger, e.events, nil).Register(mux)
	return mux
}

func get(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

func TestHTTP_Protocols(t *testing.T) {
	e := newTestEnv(t)
	mux := e.mux()

	w := get(t, mux, "/protocols")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	p, authority := e.registered(t)

	w = get(t, mux, "/protocols/"+p.Address)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, authority, resp["authority"])
	assert.Equal(t, "Example", resp["name"])

	w = get(t, mux, "/protocols")
	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusNotFound, get(t, mux, "/protocols/bafkmissing").Code)
	assert.Equal(t, http.StatusNotFound, get(t, mux, "/protocols/"+p.Address+"/policy").Code)
}

func TestHTTP_Disclosures(t *testing.T) {
	e := newTestEnv(t)
	mux := e.mux()
	p, authority := e.registered(t)
	hacker := newDID(t)
	plaintext := []byte("price oracle can be manipulated in one block")

	grace := ledger.MinGracePeriod
	submitted, f := invoke(t, e.h, capabilities.AbilityDisclosureSubmit, e.h.submit, hacker, capabilities.SubmitCaveats{
		Target:      p.Artifact,
		ProofHash:   commitment.Commit(plaintext).String(),
		Severity:    "high",
		GracePeriod: &grace,
		Protocol:    &p.Address,
	})
	require.Empty(t, f.Name())

	w := get(t, mux, "/disclosures/"+submitted.Address)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "submitted", resp["status"])
	assert.Equal(t, "high", resp["severity"])
	assert.Equal(t, float64(submitted.RevealDeadline), resp["reveal_deadline"])
	assert.NotContains(t, resp, "plaintext")

	for _, tc := range []struct {
		query string
		want  int
	}{
		{"", 1},
		{"?hacker=" + hacker, 1},
		{"?hacker=" + authority, 0},
		{"?protocol=" + p.Address + "&status=submitted", 1},
		{"?status=resolved", 0},
		{"?limit=1&offset=1", 0},
	} {
		w := get(t, mux, "/disclosures"+tc.query)
		require.Equal(t, http.StatusOK, w.Code, tc.query)
		var list []map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		assert.Len(t, list, tc.want, tc.query)
	}

	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/disclosures?status=lost").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/disclosures?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/disclosures?offset=-1").Code)

	// The payload only becomes public once revealed.
	e.clock.Advance(time.Duration(grace) * time.Second)
	_, f = invoke(t, e.h, capabilities.AbilityDisclosureReveal, e.h.reveal, hacker, capabilities.RevealCaveats{
		Disclosure: submitted.Address,
		Plaintext:  base64.StdEncoding.EncodeToString(plaintext),
	})
	require.Empty(t, f.Name())

	w = get(t, mux, "/disclosures/"+submitted.Address)
	require.Equal(t, http.StatusOK, w.Code)
	resp = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "revealed", resp["status"])
	assert.Equal(t, base64.StdEncoding.EncodeToString(plaintext), resp["plaintext"])
}

func TestHTTP_VaultAndBalance(t *testing.T) {
	e := newTestEnv(t)
	mux := e.mux()
	p, authority := e.registered(t)
	hacker := newDID(t)

	deposit := "100"
	v, f := invoke(t, e.h, capabilities.AbilityVaultCreate, e.h.createVault, authority, capabilities.VaultCreateCaveats{
		Protocol:     p.Address,
		RateLow:      "5",
		RateCritical: "90",
		Deposit:      &deposit,
	})
	require.Empty(t, f.Name(), f.Error())

	grace := ledger.MinGracePeriod
	submitted, f := invoke(t, e.h, capabilities.AbilityDisclosureSubmit, e.h.submit, hacker, capabilities.SubmitCaveats{
		Target:      p.Artifact,
		ProofHash:   commitment.Commit([]byte("x")).String(),
		Severity:    "low",
		GracePeriod: &grace,
		Protocol:    &p.Address,
	})
	require.Empty(t, f.Name())
	_, f = invoke(t, e.h, capabilities.AbilityDisclosureAcknowledge, e.h.acknowledge, authority, capabilities.DisclosureCaveats{Disclosure: submitted.Address})
	require.Empty(t, f.Name())
	_, f = invoke(t, e.h, capabilities.AbilityDisclosureResolve, e.h.resolve, authority, capabilities.ResolveCaveats{
		Disclosure: submitted.Address,
		Resolution: "onchain-bounty",
	})
	require.Empty(t, f.Name())
	_, f = invoke(t, e.h, capabilities.AbilityVaultClaim, e.h.claimBounty, hacker, capabilities.VaultClaimCaveats{
		Disclosure: submitted.Address,
		Vault:      v.Address,
	})
	require.Empty(t, f.Name())

	w := get(t, mux, "/vaults/"+v.Address)
	require.Equal(t, http.StatusOK, w.Code)
	var vault VaultResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &vault))
	assert.Equal(t, "100", vault.TotalDeposited)
	assert.Equal(t, "5", vault.TotalPaid)
	assert.Equal(t, "95", vault.Available)
	assert.Equal(t, "90", vault.Rates["critical"])
	assert.Equal(t, "0", vault.Rates["medium"])

	w = get(t, mux, fmt.Sprintf("/vaults/%s/receipts/%s", v.Address, submitted.Address))
	require.Equal(t, http.StatusOK, w.Code)
	var receipt ReceiptResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
	assert.Equal(t, "5", receipt.Amount)

	w = get(t, mux, "/balances/"+hacker)
	require.Equal(t, http.StatusOK, w.Code)
	var balance BalanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
	assert.Equal(t, "5", balance.Balance)

	w = get(t, mux, "/balances/"+newDID(t))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
	assert.Equal(t, "0", balance.Balance)

	assert.Equal(t, http.StatusNotFound, get(t, mux, "/vaults/bafkmissing").Code)
}

func TestHTTP_EventLog(t *testing.T) {
	e := newTestEnv(t)
	mux := e.mux()
	e.registered(t)
	e.registered(t)

	w := get(t, mux, "/log/checkpoint")
	require.Equal(t, http.StatusOK, w.Code)
	cp, err := eventlog.OpenCheckpoint(w.Body.Bytes(), "vulnlog/test", e.vkey)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cp.Size)

	w = get(t, mux, "/log/entries/1")
	require.Equal(t, http.StatusOK, w.Code)
	var entry eventlog.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	assert.Equal(t, uint64(1), entry.Index)
	assert.Equal(t, "protocol/register", entry.Type)

	w = get(t, mux, "/log/proof/0")
	require.Equal(t, http.StatusOK, w.Code)
	var proof eventlog.Proof
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &proof))
	assert.Equal(t, uint64(2), proof.Size)
	assert.Equal(t, cp.Hash, proof.Root)
	assert.NoError(t, eventlog.VerifyInclusion(&proof))

	assert.Equal(t, http.StatusNotFound, get(t, mux, "/log/entries/2").Code)
	assert.Equal(t, http.StatusNotFound, get(t, mux, "/log/proof/5").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/log/proof/x").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/log/proof/0?size=abc").Code)
}

func TestHTTP_EventLogNotConfigured(t *testing.T) {
	e := newTestEnv(t)
	mux := http.NewServeMux()
	NewHTTPHandler(e.ledger, nil, nil).Register(mux)
	assert.Equal(t, http.StatusNotFound, get(t, mux, "/log/checkpoint").Code)
}

func TestHTTP_ArtifactStatus(t *testing.T) {
	e := newTestEnv(t)
	mux := e.mux()

	w := get(t, mux, "/artifacts/"+newDID(t)+"/status")
	require.Equal(t, http.StatusOK, w.Code)
	var empty map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &empty))
	assert.Equal(t, false, empty["registered"])
	assert.Nil(t, empty["protocol"])
	assert.Nil(t, empty["vault"])
	assert.Equal(t, []any{}, empty["disclosures"])

	p, authority := e.registered(t)
	hacker := newDID(t)
	_, f := invoke(t, e.h, capabilities.AbilityVaultCreate, e.h.createVault, authority, capabilities.VaultCreateCaveats{
		Protocol: p.Address,
		RateHigh: "500",
	})
	require.Empty(t, f.Name(), f.Error())

	grace := ledger.MinGracePeriod
	for i, sev := range []string{"high", "high", "critical"} {
		_, f = invoke(t, e.h, capabilities.AbilityDisclosureSubmit, e.h.submit, hacker, capabilities.SubmitCaveats{
			Target:      p.Artifact,
			ProofHash:   commitment.Commit([]byte("x")).String(),
			Severity:    sev,
			GracePeriod: &grace,
			Nonce:       int64(i),
		})
		require.Empty(t, f.Name(), f.Error())
	}

	w = get(t, mux, "/artifacts/"+p.Artifact+"/status")
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["registered"])
	assert.Equal(t, p.Address, resp["protocol"].(map[string]any)["address"])
	assert.Nil(t, resp["policy"])
	assert.Equal(t, "0", resp["vault"].(map[string]any)["available"])
	assert.Equal(t, map[string]any{"submitted": float64(3)}, resp["by_status"])
	assert.Equal(t, map[string]any{"high": float64(2), "critical": float64(1)}, resp["by_severity"])
	assert.Len(t, resp["disclosures"], 3)
}
