package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"yieldvault/native/vault"
	"yieldvault/observability"
	"yieldvault/services/vaultd/config"
	vaultmw "yieldvault/services/vaultd/middleware"
)

const maxBodyBytes = 1 << 16

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

type flowRequest struct {
	Assets     string   `json:"assets"`
	Shares     string   `json:"shares"`
	Receiver   string   `json:"receiver"`
	Owner      string   `json:"owner"`
	MaxLossBps *uint64  `json:"maxLossBps"`
	Strategies []string `json:"strategies"`
}

type flowResponse struct {
	Assets *uint256.Int `json:"assets"`
	Shares *uint256.Int `json:"shares"`
}

type debtRequest struct {
	Strategy   string  `json:"strategy"`
	TargetDebt string  `json:"targetDebt"`
	MaxLossBps *uint64 `json:"maxLossBps"`
}

type strategyRequest struct {
	Strategy string `json:"strategy"`
}

type revokeRequest struct {
	Force bool `json:"force"`
}

type maxDebtRequest struct {
	MaxDebt string `json:"maxDebt"`
}

type approveRequest struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type accountResponse struct {
	Address       string       `json:"address"`
	AssetBalance  *uint256.Int `json:"assetBalance,omitempty"`
	VaultApproval *uint256.Int `json:"vaultApproval,omitempty"`
	Shares        *uint256.Int `json:"shares"`
	Assets        *uint256.Int `json:"assets"`
	MaxWithdraw   *uint256.Int `json:"maxWithdraw"`
	MaxRedeem     *uint256.Int `json:"maxRedeem"`
	MaxDeposit    *uint256.Int `json:"maxDeposit"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

type vaultResponse struct {
	Address          string        `json:"address"`
	Asset            string        `json:"asset"`
	TotalAssets      *uint256.Int  `json:"totalAssets"`
	TotalIdle        *uint256.Int  `json:"totalIdle"`
	TotalDebt        *uint256.Int  `json:"totalDebt"`
	TotalSupply      *uint256.Int  `json:"totalSupply"`
	PricePerShare    *uint256.Int  `json:"pricePerShare"`
	MinimumTotalIdle *uint256.Int  `json:"minimumTotalIdle"`
	DepositLimit     *uint256.Int  `json:"depositLimit"`
	DefaultQueue     []string      `json:"defaultQueue"`
	UseDefaultQueue  bool          `json:"useDefaultQueue"`
	Shutdown         bool          `json:"shutdown"`
	StrategyCount    int           `json:"strategyCount"`
	ProfitUnlock     unlockPayload `json:"profitUnlock"`
	Paused           []string      `json:"paused,omitempty"`
}

type unlockPayload struct {
	MaxUnlockTime    uint64       `json:"maxUnlockTime"`
	FullUnlockDate   uint64       `json:"fullUnlockDate"`
	LastProfitUpdate uint64       `json:"lastProfitUpdate"`
	LockedShares     *uint256.Int `json:"lockedShares"`
	UnlockedShares   *uint256.Int `json:"unlockedShares"`
}

type strategyResponse struct {
	Address     string       `json:"address"`
	Activation  uint64       `json:"activation"`
	LastReport  uint64       `json:"lastReport"`
	CurrentDebt *uint256.Int `json:"currentDebt"`
	MaxDebt     *uint256.Int `json:"maxDebt"`
}

type reportResponse struct {
	Gain         *uint256.Int `json:"gain"`
	Loss         *uint256.Int `json:"loss"`
	TotalFees    *uint256.Int `json:"totalFees"`
	ProtocolFees *uint256.Int `json:"protocolFees"`
	CurrentDebt  *uint256.Int `json:"currentDebt"`
}

func (s *Server) handleVault(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.Summary()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	queue := make([]string, 0, len(summary.DefaultQueue))
	for _, addr := range summary.DefaultQueue {
		queue = append(queue, addr.Hex())
	}
	resp := vaultResponse{
		Address:          s.engine.Address().Hex(),
		Asset:            summary.Asset.Hex(),
		TotalAssets:      summary.TotalAssets,
		TotalIdle:        summary.TotalIdle,
		TotalDebt:        summary.TotalDebt,
		TotalSupply:      summary.TotalSupply,
		PricePerShare:    summary.PricePerShare,
		MinimumTotalIdle: summary.MinimumTotalIdle,
		DepositLimit:     summary.DepositLimit,
		DefaultQueue:     queue,
		UseDefaultQueue:  summary.UseDefaultQueue,
		Shutdown:         summary.Shutdown,
		StrategyCount:    summary.StrategyCount,
		ProfitUnlock: unlockPayload{
			MaxUnlockTime:    summary.ProfitUnlock.MaxUnlockTime,
			FullUnlockDate:   summary.ProfitUnlock.FullUnlockDate,
			LastProfitUpdate: summary.ProfitUnlock.LastProfitUpdate,
			LockedShares:     summary.ProfitUnlock.LockedShares,
			UnlockedShares:   summary.ProfitUnlock.UnlockedShares,
		},
	}
	if s.pauses != nil {
		resp.Paused = s.pauses.Paused()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	params, err := s.engine.Strategy(addr)
	if errors.Is(err, vault.ErrInactiveStrategy) {
		http.Error(w, "strategy not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, strategyResponse{
		Address:     addr.Hex(),
		Activation:  params.Activation,
		LastReport:  params.LastReport,
		CurrentDebt: params.CurrentDebt,
		MaxDebt:     params.MaxDebt,
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := requiredAddress("account", chi.URLParam(r, "addr"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := accountResponse{Address: addr.Hex()}
	if resp.Shares, err = s.engine.BalanceOf(addr); err != nil {
		s.writeError(w, r, err)
		return
	}
	if resp.Assets, err = s.engine.ConvertToAssets(resp.Shares); err != nil {
		s.writeError(w, r, err)
		return
	}
	if resp.MaxWithdraw, err = s.engine.MaxWithdraw(addr, 0, nil); err != nil {
		s.writeError(w, r, err)
		return
	}
	if resp.MaxRedeem, err = s.engine.MaxRedeem(addr, vault.MaxBps, nil); err != nil {
		s.writeError(w, r, err)
		return
	}
	if resp.MaxDeposit, err = s.engine.MaxDeposit(addr); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.asset != nil {
		resp.AssetBalance = s.asset.BalanceOf(addr)
		resp.VaultApproval = s.asset.Allowance(addr, s.engine.Address())
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleApprove lets the caller grant the vault, or another spender, an
// allowance over its asset balance.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if s.asset == nil {
		http.Error(w, "asset ledger disabled", http.StatusNotFound)
		return
	}
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := requiredAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	spender, err := optionalAddress("spender", req.Spender, s.engine.Address())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	caller := callerOf(r)
	if err := s.asset.Approve(caller, spender, amount); err != nil {
		s.writeError(w, r, badRequest("%v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"owner":     caller.Hex(),
		"spender":   spender.Hex(),
		"allowance": s.asset.Allowance(caller, spender),
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	var req flowRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	assets, err := requiredAmount("assets", req.Assets)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receiver, err := optionalAddress("receiver", req.Receiver, caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.chargeQuota(r, "deposit", caller, assets); err != nil {
		s.writeError(w, r, err)
		return
	}
	shares, err := s.engine.Deposit(caller, assets, receiver)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, flowResponse{Assets: assets, Shares: shares})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	var req flowRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	shares, err := requiredAmount("shares", req.Shares)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receiver, err := optionalAddress("receiver", req.Receiver, caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	preview, err := s.engine.PreviewMint(shares)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.chargeQuota(r, "mint", caller, preview); err != nil {
		s.writeError(w, r, err)
		return
	}
	assets, err := s.engine.Mint(caller, shares, receiver)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, flowResponse{Assets: assets, Shares: shares})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	var req flowRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	assets, err := requiredAmount("assets", req.Assets)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	wr, err := withdrawRequest(req, caller, vault.NewWithdrawRequest)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	shares, err := s.engine.Withdraw(caller, assets, wr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, flowResponse{Assets: assets, Shares: shares})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	var req flowRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	shares, err := requiredAmount("shares", req.Shares)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	wr, err := withdrawRequest(req, caller, vault.NewRedeemRequest)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	assets, err := s.engine.Redeem(caller, shares, wr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, flowResponse{Assets: assets, Shares: shares})
}

func (s *Server) handleUpdateDebt(w http.ResponseWriter, r *http.Request) {
	var req debtRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	strategy, err := requiredAddress("strategy", req.Strategy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	target, err := config.ParseAmount(req.TargetDebt)
	if err != nil || target == nil {
		s.writeError(w, r, badRequest("targetDebt must be a decimal amount"))
		return
	}
	var debt *uint256.Int
	if req.MaxLossBps != nil {
		debt, err = s.engine.UpdateDebtWithMaxLoss(callerOf(r), strategy, target, *req.MaxLossBps)
	} else {
		debt, err = s.engine.UpdateDebt(callerOf(r), strategy, target)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"strategy": strategy.Hex(), "currentDebt": debt})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req strategyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	strategy, err := requiredAddress("strategy", req.Strategy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := s.engine.ProcessReport(callerOf(r), strategy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reportResponse{
		Gain:         info.Gain,
		Loss:         info.Loss,
		TotalFees:    info.TotalFees,
		ProtocolFees: info.ProtocolFees,
		CurrentDebt:  info.CurrentDebt,
	})
}

func (s *Server) handleAddStrategy(w http.ResponseWriter, r *http.Request) {
	var req strategyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	addr, err := requiredAddress("strategy", req.Strategy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.strategies == nil {
		http.Error(w, "strategy registry disabled", http.StatusNotFound)
		return
	}
	impl, ok := s.strategies(addr)
	if !ok {
		http.Error(w, "unknown strategy implementation", http.StatusNotFound)
		return
	}
	if err := s.engine.AddStrategy(callerOf(r), impl); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"strategy": addr.Hex()})
}

func (s *Server) handleRevokeStrategy(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Force {
		err = s.engine.ForceRevokeStrategy(callerOf(r), addr)
	} else {
		err = s.engine.RevokeStrategy(callerOf(r), addr)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"strategy": addr.Hex(), "revoked": true, "forced": req.Force})
}

func (s *Server) handleMaxDebt(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req maxDebtRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	maxDebt, err := requiredAmount("maxDebt", req.MaxDebt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.UpdateMaxDebt(callerOf(r), addr, maxDebt); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"strategy": addr.Hex(), "maxDebt": maxDebt})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ShutdownVault(callerOf(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Warn("vaultd: vault shut down", "actor", callerOf(r).Hex())
	s.writeJSON(w, http.StatusOK, map[string]bool{"shutdown": true})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if s.pauses == nil {
		http.Error(w, "pause switch disabled", http.StatusNotFound)
		return
	}
	var req pauseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.pauses.Set("vault", req.Paused)
	s.logger.Warn("vaultd: pause toggled", "paused", req.Paused, "actor", callerOf(r).Hex())
	s.writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

func (s *Server) chargeQuota(r *http.Request, route string, caller common.Address, assets *uint256.Int) error {
	if s.quota == nil {
		return nil
	}
	if err := s.quota.Consume(strings.ToLower(caller.Hex()), s.now().Unix(), assets); err != nil {
		observability.API().RecordThrottle(route, "quota")
		return err
	}
	return nil
}

func callerOf(r *http.Request) common.Address {
	p, _ := vaultmw.PrincipalFrom(r.Context())
	return p.Actor
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return badRequest("invalid payload: %v", err)
	}
	return nil
}

func requiredAmount(field, value string) (*uint256.Int, error) {
	amount, err := config.ParseAmount(value)
	if err != nil {
		return nil, badRequest("%s: %v", field, err)
	}
	if amount == nil {
		return nil, badRequest("%s is required", field)
	}
	return amount, nil
}

func requiredAddress(field, value string) (common.Address, error) {
	if strings.TrimSpace(value) == "" {
		return common.Address{}, badRequest("%s is required", field)
	}
	addr, err := config.ParseAddress(value)
	if err != nil {
		return common.Address{}, badRequest("%s: %v", field, err)
	}
	return addr, nil
}

func optionalAddress(field, value string, fallback common.Address) (common.Address, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	return requiredAddress(field, value)
}

func pathAddress(r *http.Request) (common.Address, error) {
	return requiredAddress("strategy", chi.URLParam(r, "addr"))
}

func withdrawRequest(req flowRequest, caller common.Address, defaults func(receiver, owner common.Address) vault.WithdrawRequest) (vault.WithdrawRequest, error) {
	receiver, err := optionalAddress("receiver", req.Receiver, caller)
	if err != nil {
		return vault.WithdrawRequest{}, err
	}
	owner, err := optionalAddress("owner", req.Owner, caller)
	if err != nil {
		return vault.WithdrawRequest{}, err
	}
	out := defaults(receiver, owner)
	if req.MaxLossBps != nil {
		out.MaxLossBps = *req.MaxLossBps
	}
	for i, raw := range req.Strategies {
		addr, err := requiredAddress(fmt.Sprintf("strategies[%d]", i), raw)
		if err != nil {
			return vault.WithdrawRequest{}, err
		}
		out.Strategies = append(out.Strategies, addr)
	}
	return out, nil
}
