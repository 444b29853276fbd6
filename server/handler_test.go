package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	x402pay "github.com/vitwit/x402pay"
	"github.com/vitwit/x402pay/ledger"
	"github.com/vitwit/x402pay/server"
	"github.com/vitwit/x402pay/testutil"
	"github.com/vitwit/x402pay/types"
)

const recipientWallet = "seFkxFkXEY9JGEpCyPfCWTuPZG9WK6ucf95zvKCfsRX"

func newTestServer(t *testing.T) (*httptest.Server, *testutil.FakeClient, solana.PublicKey) {
	t.Helper()

	ata, _, err := solana.FindAssociatedTokenAddress(
		solana.MustPublicKeyFromBase58(recipientWallet),
		solana.MustPublicKeyFromBase58(types.USDCMintDevnet),
	)
	require.NoError(t, err)

	client := &testutil.FakeClient{
		Network:   types.NetworkSolanaDevnet,
		Recipient: ata,
		Mint:      types.USDCMintDevnet,
	}
	engine, err := x402pay.New(&types.Config{
		Network:         types.NetworkSolanaDevnet,
		RecipientWallet: recipientWallet,
		ConfirmTimeout:  time.Second,
		PollInterval:    5 * time.Millisecond,
	}, client, ledger.NewMemoryStore())
	require.NoError(t, err)

	srv := httptest.NewServer(server.NewHandler(engine, nil).Router())
	t.Cleanup(srv.Close)
	return srv, client, ata
}

func postJSON(t *testing.T, url, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestQuoteAndProcess(t *testing.T) {
	srv, client, ata := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/payment/quote", `{"userId":"alice","plan":"lite"}`, nil)
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	reqs := decode[types.PaymentRequirements](t, resp)
	assert.Equal(t, uint64(490000), reqs.Amount)
	assert.Equal(t, ata.String(), reqs.TokenAccount)
	assert.Equal(t, "devnet", reqs.Cluster)

	client.Received = reqs.Amount
	p := testutil.MustPayment(true, testutil.Transfer{Opcode: 3, Amount: reqs.Amount, Destination: ata})
	header := map[string]string{server.PaymentHeader: testutil.ExactHeader("solana-devnet", p.Raw)}
	body := `{"transactionId":"` + reqs.TransactionID + `","userId":"alice"}`

	resp = postJSON(t, srv.URL+"/api/payment/process", body, header)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[types.SettlementResult](t, resp)
	assert.True(t, result.Success)
	assert.False(t, result.AlreadyCompleted)
	assert.Equal(t, int64(20), result.CreditsAdded)

	resp = postJSON(t, srv.URL+"/api/payment/process", body, header)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	again := decode[types.SettlementResult](t, resp)
	assert.True(t, again.AlreadyCompleted)
	assert.Zero(t, again.CreditsAdded)
	assert.Equal(t, p.Signature.String(), again.Signature)

	getResp, err := http.Get(srv.URL + "/api/users/alice/account")
	require.NoError(t, err)
	defer getResp.Body.Close()
	acc := decode[types.Account](t, getResp)
	assert.Equal(t, int64(20), acc.Credits)

	listResp, err := http.Get(srv.URL + "/api/users/alice/transactions?limit=5")
	require.NoError(t, err)
	defer listResp.Body.Close()
	quotes := decode[[]types.PaymentQuote](t, listResp)
	require.Len(t, quotes, 1)
	assert.Equal(t, types.QuoteStatusCompleted, quotes[0].Status)

	quoteResp, err := http.Get(srv.URL + "/api/payment/quotes/" + reqs.TransactionID + "?userId=bob")
	require.NoError(t, err)
	defer quoteResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, quoteResp.StatusCode)
}

func TestProcessErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/payment/quote", `{"userId":"alice","plan":"gold"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, types.ErrInvalidPlan, decode[map[string]any](t, resp)["error"])

	resp = postJSON(t, srv.URL+"/api/payment/process", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, types.ErrMalformedClaim, decode[map[string]any](t, resp)["error"])

	header := map[string]string{server.PaymentHeader: "not-base64!"}
	resp = postJSON(t, srv.URL+"/api/payment/process", `{"transactionId":"x"}`, header)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, types.ErrInvalidRequest, decode[map[string]any](t, resp)["error"])
}

func TestPricingAndHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/pricing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	plans := decode[map[string]types.Plan](t, resp)
	assert.Len(t, plans, 4)
	assert.Equal(t, int64(100), plans["pro"].Credits)

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := map[string]int{
		types.ErrUnsignedTransaction:        http.StatusBadRequest,
		types.ErrTransactionNotFound:        http.StatusNotFound,
		types.ErrDuplicateInFlight:          http.StatusConflict,
		types.ErrNoValidTransferInstruction: http.StatusUnprocessableEntity,
		types.ErrNetworkSubmissionFailure:   http.StatusBadGateway,
		types.ErrConfirmationTimeout:        http.StatusGatewayTimeout,
		types.ErrLedgerFailure:              http.StatusInternalServerError,
	}
	for code, status := range tests {
		assert.Equal(t, status, server.StatusFor(types.NewError(code, "x")), code)
	}
	assert.Equal(t, http.StatusInternalServerError, server.StatusFor(assert.AnError))
}
