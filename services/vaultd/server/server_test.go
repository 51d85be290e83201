package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"yieldvault/core/state"
	nativecommon "yieldvault/native/common"
	"yieldvault/native/strategy"
	"yieldvault/native/token"
	"yieldvault/native/vault"
	"yieldvault/services/vaultd/journal"
	vaultmw "yieldvault/services/vaultd/middleware"
	"yieldvault/storage"
)

const testSecret = "test-secret"

var (
	vaultAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	assetAddr = common.HexToAddress("0x00000000000000000000000000000000000000ab")
	admin     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice     = common.HexToAddress("0x0000000000000000000000000000000000000002")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000003")
	stratA    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

type stubEvents struct {
	entries []journal.Entry
	gotType string
	gotN    int
}

func (s *stubEvents) Recent(_ context.Context, eventType string, limit int) ([]journal.Entry, error) {
	s.gotType, s.gotN = eventType, limit
	return s.entries, nil
}

type testServer struct {
	srv    *Server
	engine *vault.Engine
	token  *token.Ledger
	pauses *nativecommon.Pauses
	events *stubEvents
}

func newTestServer(t *testing.T, quota nativecommon.Quota) *testServer {
	t.Helper()
	tok := token.NewLedger(assetAddr, "USDC", 6)
	roles := vault.NewRoleSet()
	roles.Grant(admin, vault.RoleAll)
	engine := vault.NewEngine(vaultAddr, tok, nil)
	engine.SetState(state.NewVaultStore(storage.NewMemDB(), vaultAddr))
	engine.SetRoles(roles)
	pauses := nativecommon.NewPauses()
	engine.SetPauses(pauses)
	require.NoError(t, engine.Initialize(6, 0))
	require.NoError(t, engine.SetDepositLimit(admin, vault.MaxUint256()))

	strat, err := strategy.NewPassthrough(stratA, tok, strategy.Config{})
	require.NoError(t, err)
	evts := &stubEvents{entries: []journal.Entry{{ID: "1", Type: "vault.deposit"}}}

	srv, err := New(Config{
		Engine: engine,
		Asset:  tok,
		Auth:   vaultmw.NewAuthenticator(vaultmw.AuthConfig{HMACSecret: testSecret}),
		Quota:  nativecommon.NewQuotaTracker(quota),
		Pauses: pauses,
		Events: evts,
		Strategies: func(addr common.Address) (vault.Strategy, bool) {
			if addr == stratA {
				return strat, true
			}
			return nil, false
		},
	})
	require.NoError(t, err)
	return &testServer{srv: srv, engine: engine, token: tok, pauses: pauses, events: evts}
}

func bearer(t *testing.T, actor common.Address, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": actor.Hex(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	out := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func (ts *testServer) fundAndDeposit(t *testing.T, who common.Address, amount uint64) {
	t.Helper()
	require.NoError(t, ts.token.Mint(who, uint256.NewInt(amount)))
	tok := bearer(t, who)
	rec, _ := ts.do(t, http.MethodPost, "/v1/asset/approve", tok, map[string]string{"amount": "max"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, out := ts.do(t, http.MethodPost, "/v1/deposit", tok, map[string]string{"assets": uint256.NewInt(amount).Dec()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, uint256.NewInt(amount).Dec(), out["shares"])
}

func TestHealthzIsPublic(t *testing.T) {
	ts := newTestServer(t, nativecommon.Quota{})
	rec, out := ts.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", out["status"])
}

func TestAPIRequiresBearerToken(t *testing.T) {
	ts := newTestServer(t, nativecommon.Quota{})
	rec, _ := ts.do(t, http.MethodGet, "/v1/vault", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/v1/vault", "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	ts := newTestServer(t, nativecommon.Quota{})
	ts.fundAndDeposit(t, alice, 1000)
	tok := bearer(t, alice)

	rec, out := ts.do(t, http.MethodGet, "/v1/vault", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1000", out["totalAssets"])
	require.Equal(t, "1000", out["totalSupply"])

	rec, out = ts.do(t, http.MethodGet, "/v1/accounts/"+alice.Hex(), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1000", out["shares"])
	require.Equal(t, "1000", out["maxWithdraw"])
	require.Equal(t, "0", out["assetBalance"])

	rec, out = ts.do(t, http.MethodPost, "/v1/withdraw", tok, map[string]string{"assets": "400"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "400", out["shares"])

	rec, out = ts.do(t, http.MethodPost, "/v1/redeem", tok, map[string]string{"shares": "600", "receiver": bob.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "600", out["assets"])
	require.Equal(t, uint64(600), ts.token.BalanceOf(bob).Uint64())
	require.Equal(t, uint64(400), ts.token.BalanceOf(alice).Uint64())
}

func TestMintChargesPreviewedAssets(t *testing.T) {
	ts := newTestServer(t, nativecommon.Quota{MaxAssetsPerEpoch: uint256.NewInt(500)})
	require.NoError(t, ts.token.Mint(alice, uint256.NewInt(1000)))
	tok := bearer(t, alice)
	rec, _ := ts.do(t, http.MethodPost, "/v1/asset/approve", tok, map[string]string{"amount": "1000"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, out := ts.do(t, http.MethodPost, "/v1/mint", tok, map[string]string{"shares": "500"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "500", out["assets"])

	rec, _ = ts.do(t, http.MethodPost, "/v1/mint", tok, map[string]string{"shares": "1"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestQuotaLimitsRequests(t *testing.T) {
	ts := newTestServer(t, nativecommon.Quota{MaxRequestsPerEpoch: 2, EpochSeconds: 3600})
	require.NoError(t, ts.token.Mint(alice, uint256.NewInt(1000)))
	tok := bearer(t, alice)
	ts.do(t, http.MethodPost, "/v1/asset/approve", tok, map[string]string{"amount": "max"})

	for i := 0; i < 2; i++ {
		rec, _ := ts.do(t, http.MethodPost, "/v1/deposit", tok, map[string]string{"assets": "10"})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := ts.do(t, http.MethodPost, "/v1/deposit", tok, map[string]string{"assets": "10"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Exits are not metered.
	rec, _ = ts.do(t, http.MethodPost, "/v1/withdraw", tok, map[string]string{"assets": "10"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStrategyLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, nativecommon.Quota{})
	ts.fundAndDeposit(t, alice, 1000)
	tok := bearer(t, admin, "ALL")

	rec, _ := ts.do(t, http.MethodPost, "/v1/strategies", tok, map[string]string{"strategy": stratA.Hex()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, _ = ts.do(t, http.MethodPost, "/v1/strategies", tok, map[string]string{"strategy": stratA.Hex()})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/v1/strategies", tok, map[string]string{"strategy": bob.Hex()})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/v1/debt", tok, map[string]string{"strategy": stratA.Hex(), "targetDebt": "600"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, "max debt is still zero")

	rec, _ = ts.do(t, http.MethodPost, "/v1/strategies/"+stratA.Hex()+"/max-debt", tok, map[string]string{"maxDebt": "800"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, out := ts.do(t, http.MethodPost, "/v1/debt", tok, map[string]string{"strategy": stratA.Hex(), "targetDebt": "600"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "600", out["currentDebt"])

	rec, out = ts.do(t, http.MethodGet, "/v1/strategies/"+stratA.Hex(), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "600", out["currentDebt"])
	require.Equal(t, "800", out["maxDebt"])

	require.NoError(t, ts.token.Mint(stratA, uint256.NewInt(60)))
	rec, out = ts.do(t, http.MethodPost, "/v1/report", tok, map[string]string{"strategy": stratA.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "60", out["gain"])
	require.Equal(t, "660", out["currentDebt"])

	rec, out = ts.do(t, http.MethodPost, "/v1/strategies/"+stratA.Hex()+"/revoke", tok, map[string]bool{"force": false})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "state", out["category"])

	rec, _ = ts.do(t, http.MethodPost, "/v1/debt", tok, map[string]string{"strategy": stratA.Hex(), "targetDebt": "0"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, _ = ts.do(t, http.MethodPost, "/v1/strategies/"+stratA.Hex()+"/revoke", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = ts.do(t, http.MethodGet, "/v1/strategies/"+stratA.Hex(), tok, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoleEnforcement(t *testing.T) {
	ts := newTestServer(t, nativecommon.Quota{})

	// Token without the role claim is stopped by the middleware.
	rec, _ := ts.do(t, http.MethodPost, "/v1/shutdown", bearer(t, admin), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Token claiming a role the vault never granted is stopped by the engine.
	rec, out := ts.do(t, http.MethodPost, "/v1/shutdown", bearer(t, bob, "emergency_manager"), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "access", out["category"])

	rec, _ = ts.do(t, http.MethodPost, "/v1/shutdown", bearer(t, admin, "EMERGENCY_MANAGER"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, _ = ts.do(t, http.MethodPost, "/v1/shutdown", bearer(t, admin, "EMERGENCY_MANAGER"), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestPauseBlocksInflowsOnly(t *testing.T) {
	ts := newTestServer(t, nativecommon.Quota{})
	ts.fundAndDeposit(t, alice, 100)
	require.NoError(t, ts.token.Mint(alice, uint256.NewInt(100)))

	rec, _ := ts.do(t, http.MethodPost, "/v1/pause", bearer(t, admin, "EMERGENCY_MANAGER"), map[string]bool{"paused": true})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, ts.pauses.IsPaused("vault"))

	tok := bearer(t, alice)
	rec, _ = ts.do(t, http.MethodPost, "/v1/deposit", tok, map[string]string{"assets": "10"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec, _ = ts.do(t, http.MethodPost, "/v1/withdraw", tok, map[string]string{"assets": "10"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, out := ts.do(t, http.MethodGet, "/v1/vault", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []any{"vault"}, out["paused"])
}

func TestRequestValidation(t *testing.T) {
	ts := newTestServer(t, nativecommon.Quota{})
	tok := bearer(t, alice)

	rec, _ := ts.do(t, http.MethodPost, "/v1/deposit", tok, map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = ts.do(t, http.MethodPost, "/v1/deposit", tok, map[string]string{"assets": "-1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = ts.do(t, http.MethodPost, "/v1/deposit", tok, map[string]string{"assets": "1", "receiver": "nope"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = ts.do(t, http.MethodPost, "/v1/deposit", tok, map[string]string{"assets": "1", "extra": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = ts.do(t, http.MethodPost, "/v1/withdraw", tok, map[string]string{"assets": "5"})
	require.Equal(t, http.StatusBadRequest, rec.Code, "no shares to burn")
	rec, _ = ts.do(t, http.MethodGet, "/v1/strategies/zzz", tok, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsEndpoint(t *testing.T) {
	ts := newTestServer(t, nativecommon.Quota{})
	tok := bearer(t, alice)

	rec, out := ts.do(t, http.MethodGet, "/v1/events?type=vault.deposit&limit=5", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, out["events"], 1)
	require.Equal(t, "vault.deposit", ts.events.gotType)
	require.Equal(t, 5, ts.events.gotN)

	rec, _ = ts.do(t, http.MethodGet, "/v1/events?limit=0", tok, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		vault.ErrExceedLimit:                  http.StatusUnprocessableEntity,
		vault.ErrOverflow:                     http.StatusUnprocessableEntity,
		vault.ErrInactiveVault:                http.StatusConflict,
		vault.ErrInsufficientFunds:            http.StatusBadRequest,
		vault.ErrUnauthorized:                 http.StatusForbidden,
		nativecommon.ErrModulePaused:          http.StatusServiceUnavailable,
		nativecommon.ErrQuotaRequestsExceeded: http.StatusTooManyRequests,
		badRequest("x"):                       http.StatusBadRequest,
		errors.New("disk on fire"):            http.StatusInternalServerError,
	}
	for err, want := range cases {
		require.Equal(t, want, statusFor(err), err.Error())
	}
}
