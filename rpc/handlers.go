package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"stablemint/crypto"
	"stablemint/native/mint"
	"stablemint/oracle"

	"github.com/go-chi/chi/v5"
)

type depositRequest struct {
	Caller string `json:"caller,omitempty"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type mintRequest struct {
	Caller string `json:"caller,omitempty"`
	Amount string `json:"amount"`
}

type depositAndMintRequest struct {
	Caller     string `json:"caller,omitempty"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	MintAmount string `json:"mintAmount"`
}

type redeemForSynthRequest struct {
	Caller           string `json:"caller,omitempty"`
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateralAmount"`
	SynthAmount      string `json:"synthAmount"`
}

type liquidateRequest struct {
	Caller      string `json:"caller,omitempty"`
	Asset       string `json:"asset"`
	Target      string `json:"target"`
	DebtToCover string `json:"debtToCover"`
}

type positionResponse struct {
	Address         string            `json:"address"`
	Collateral      map[string]string `json:"collateral"`
	Debt            string            `json:"debt"`
	CollateralValue string            `json:"collateralValue"`
	HealthFactor    string            `json:"healthFactor"`
}

type priceResponse struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Decimals  uint8  `json:"decimals"`
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source,omitempty"`
}

func (s *Server) handleParams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Params())
}

func (s *Server) handleCollateralAssets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Assets())
}

func (s *Server) handleCollateralOracle(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	feedID, err := s.engine.OracleFor(symbol)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset": strings.ToUpper(strings.TrimSpace(symbol)),
		"feed":  feedID,
	})
}

func (s *Server) handleOraclePrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	point, err := s.engine.Price(symbol)
	if err != nil {
		// The error counter is labelled by feed, not asset.
		feed, feedErr := s.engine.OracleFor(symbol)
		if feedErr != nil {
			feed = ""
		}
		s.metrics.ObserveOracleError(feed)
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Price:     point.Price.String(),
		Decimals:  point.Decimals,
		Timestamp: point.Timestamp.Unix(),
		Source:    point.Source,
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pos, err := s.engine.Position(addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	value, err := s.engine.CollateralValue(addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	factor, err := s.engine.HealthFactor(addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	collateral := make(map[string]string, len(pos.Collateral))
	for symbol, amount := range pos.Collateral {
		collateral[symbol] = amount.String()
	}
	writeJSON(w, http.StatusOK, positionResponse{
		Address:         addr.String(),
		Collateral:      collateral,
		Debt:            pos.Debt.String(),
		CollateralValue: value.String(),
		HealthFactor:    factor.String(),
	})
}

func (s *Server) handlePositionHealth(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	factor, err := s.engine.HealthFactor(addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address":      addr.String(),
		"healthFactor": factor.String(),
	})
}

func (s *Server) handlePositionCollateral(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	symbol := chi.URLParam(r, "symbol")
	amount, err := s.engine.Deposited(addr, symbol)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": addr.String(),
		"asset":   strings.ToUpper(strings.TrimSpace(symbol)),
		"amount":  amount.String(),
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := s.resolveCaller(r, req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.engine.DepositCollateral(caller, req.Asset, amount)
	s.metrics.ObserveOperation("deposit", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.observeSupply()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := s.resolveCaller(r, req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.engine.RedeemCollateral(caller, req.Asset, amount)
	s.metrics.ObserveOperation("redeem", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := s.resolveCaller(r, req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.engine.Mint(caller, amount)
	s.metrics.ObserveOperation("mint", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.observeSupply()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := s.resolveCaller(r, req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.engine.Burn(caller, amount)
	s.metrics.ObserveOperation("burn", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.observeSupply()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDepositAndMint(w http.ResponseWriter, r *http.Request) {
	var req depositAndMintRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := s.resolveCaller(r, req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	mintAmount, err := parseAmount(req.MintAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.engine.DepositAndMint(caller, req.Asset, amount, mintAmount)
	s.metrics.ObserveOperation("depositAndMint", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.observeSupply()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRedeemForSynth(w http.ResponseWriter, r *http.Request) {
	var req redeemForSynthRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := s.resolveCaller(r, req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	collateralAmount, err := parseAmount(req.CollateralAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	synthAmount, err := parseAmount(req.SynthAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.engine.RedeemForSynth(caller, req.Asset, collateralAmount, synthAmount)
	s.metrics.ObserveOperation("redeemForSynth", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.observeSupply()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := s.resolveCaller(r, req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	target, err := crypto.DecodeAddress(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid target: %w", err))
		return
	}
	debtToCover, err := parseAmount(req.DebtToCover)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	seized, err := s.engine.Liquidate(caller, req.Asset, target, debtToCover)
	s.metrics.ObserveOperation("liquidate", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.observeSupply()
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"seized": seized.String(),
	})
}

// resolveCaller prefers the authenticated token subject; the body field is
// only honoured when authentication is disabled.
func (s *Server) resolveCaller(r *http.Request, bodyCaller string) (crypto.Address, error) {
	if addr, ok := s.auth.caller(r.Context()); ok {
		return addr, nil
	}
	if strings.TrimSpace(bodyCaller) == "" {
		return crypto.Address{}, errors.New("caller address required")
	}
	return crypto.DecodeAddress(bodyCaller)
}

func (s *Server) observeSupply() {
	if s.synth == nil {
		return
	}
	supply, _ := new(big.Float).SetInt(s.synth.TotalSupply()).Float64()
	s.metrics.SetSynthSupply(supply)
}

func decodeRequest(r *http.Request, out interface{}) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, requestBodyLimit))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() <= 0 {
		return nil, errors.New("amount must be positive")
	}
	return amount, nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeEngineError(w http.ResponseWriter, err error) {
	var breaks *mint.BreaksHealthFactorError
	switch {
	case errors.As(err, &breaks):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":        breaks.Error(),
			"healthFactor": breaks.Factor.String(),
		})
	case errors.Is(err, mint.ErrAmountZero),
		errors.Is(err, mint.ErrFeedPrecision):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, mint.ErrAssetNotAllowed),
		errors.Is(err, oracle.ErrUnknownFeed),
		errors.Is(err, oracle.ErrUnknownAsset):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, mint.ErrInsufficientCollateral),
		errors.Is(err, mint.ErrInsufficientDebt),
		errors.Is(err, mint.ErrHealthFactorOK),
		errors.Is(err, mint.ErrHealthNotImproved),
		errors.Is(err, mint.ErrValueOverflow):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, mint.ErrHalted):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, oracle.ErrStalePrice),
		errors.Is(err, oracle.ErrNoFreshQuote),
		errors.Is(err, mint.ErrNonPositivePrice):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
