package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"tipjar/core/runtime"
	"tipjar/core/types"
	"tipjar/crypto"
	"tipjar/native/faucet"
	"tipjar/native/system"
	"tipjar/native/tipjar"
)

func (s *Server) handleSendTransaction(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "transaction parameter required", nil)
		return
	}
	var tx types.Transaction
	if err := json.Unmarshal(req.Params[0], &tx); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid transaction format", err.Error())
		return
	}
	result, err := s.exec.Execute(r.Context(), &tx)
	if err != nil {
		code := codeInvalidParams
		switch {
		case errors.Is(err, runtime.ErrBadNonce):
			code = codeDuplicateTx
		case errors.Is(err, types.ErrInvalidSignature),
			errors.Is(err, types.ErrSignatureCount),
			errors.Is(err, runtime.ErrMissingSignature):
			code = codeUnauthorized
		}
		s.logger.Info("transaction rejected",
			slog.String("request_id", requestIDFrom(r.Context())),
			slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, req.ID, code, "transaction rejected", err.Error())
		return
	}
	writeResult(w, req.ID, receiptResult(result.Receipt))
}

func (s *Server) singleAddress(w http.ResponseWriter, req *RPCRequest) (crypto.Address, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address parameter required", nil)
		return crypto.ZeroAddress, false
	}
	addr, err := parseAddressParam(req.Params[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address parameter", err.Error())
		return crypto.ZeroAddress, false
	}
	return addr, true
}

func (s *Server) handleGetAccount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.singleAddress(w, req)
	if !ok {
		return
	}
	account, err := s.exec.Account(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load account", err.Error())
		return
	}
	writeResult(w, req.ID, accountResult(addr, account))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.singleAddress(w, req)
	if !ok {
		return
	}
	account, err := s.exec.Account(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load account", err.Error())
		return
	}
	res := BalanceResult{Address: addr.String()}
	if account != nil {
		res.Lamports = account.Lamports
		res.Nonce = account.Nonce
	}
	writeResult(w, req.ID, res)
}

// readOnlyState lets the engine answer queries from committed state.
type readOnlyState struct {
	exec Executor
}

var errReadOnly = errors.New("rpc: state is read only")

func (s readOnlyState) GetAccount(addr crypto.Address) (*types.Account, error) {
	return s.exec.Account(addr)
}

func (readOnlyState) PutAccount(crypto.Address, *types.Account) error { return errReadOnly }

func (s *Server) engine() *tipjar.Engine {
	engine := tipjar.NewEngine(s.programID, s.exec.Rent())
	engine.SetState(readOnlyState{exec: s.exec})
	return engine
}

func (s *Server) handleGetTipJar(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	owner, ok := s.singleAddress(w, req)
	if !ok {
		return
	}
	jar, err := s.engine().Jar(owner)
	if err != nil {
		if errors.Is(err, tipjar.ErrJarNotFound) {
			writeError(w, http.StatusNotFound, req.ID, codeNotFound, "tip jar not found", owner.String())
			return
		}
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load tip jar", err.Error())
		return
	}
	writeResult(w, req.ID, jarResult(owner, jar))
}

func (s *Server) handleDeriveAddress(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	owner, ok := s.singleAddress(w, req)
	if !ok {
		return
	}
	addr, bump, err := tipjar.DeriveAddress(owner, s.programID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to derive address", err.Error())
		return
	}
	writeResult(w, req.ID, DerivedAddressResult{Owner: owner.String(), Address: addr.String(), Bump: bump})
}

func (s *Server) handleRequestAirdrop(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if s.faucet == nil || !s.faucet.Enabled() {
		writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, "faucet disabled", nil)
		return
	}
	if len(req.Params) != 2 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address and lamports parameters required", nil)
		return
	}
	addr, err := parseAddressParam(req.Params[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address parameter", err.Error())
		return
	}
	lamports, err := parseLamportsParam(req.Params[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid lamports parameter", err.Error())
		return
	}
	if err := s.faucet.Request(r.Context(), addr, lamports); err != nil {
		switch {
		case errors.Is(err, faucet.ErrInvalidAmount), errors.Is(err, faucet.ErrAmountTooHigh):
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		case errors.Is(err, faucet.ErrRateLimited),
			errors.Is(err, faucet.ErrQuotaRequestsExceeded),
			errors.Is(err, faucet.ErrQuotaLamportsExceeded):
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, err.Error(), nil)
		case errors.Is(err, faucet.ErrDisabled):
			writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, err.Error(), nil)
		default:
			writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "airdrop failed", err.Error())
		}
		return
	}
	res := AirdropResult{Address: addr.String(), Lamports: lamports}
	if account, err := s.exec.Account(addr); err == nil && account != nil {
		res.Balance = account.Lamports
	}
	writeResult(w, req.ID, res)
}

func (s *Server) handleGetProgramInfo(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	instructions := make(map[string]string)
	for name, disc := range tipjar.InstructionDiscriminators() {
		instructions[name] = hex.EncodeToString(disc[:])
	}
	writeResult(w, req.ID, ProgramInfoResult{
		ProgramID:         s.programID.String(),
		SystemProgramID:   system.ProgramID.String(),
		RecordSize:        tipjar.RecordSize,
		RentExemptMinimum: s.exec.Rent().MinimumBalance(tipjar.RecordSize),
		Discriminator:     hex.EncodeToString(tipjar.RecordDiscriminator[:]),
		Instructions:      instructions,
		FaucetEnabled:     s.faucet != nil && s.faucet.Enabled(),
	})
}
