package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"tradepost/market"
)

type listingPayload struct {
	ID        uint64         `json:"id"`
	Seller    string         `json:"seller"`
	Buyer     string         `json:"buyer,omitempty"`
	Price     string         `json:"price"`
	Title     string         `json:"title"`
	Fee       string         `json:"fee"`
	Status    string         `json:"status"`
	CreatedAt int64          `json:"createdAt"`
	ExpiresAt int64          `json:"expiresAt"`
	Escrow    *escrowPayload `json:"escrow,omitempty"`
}

type escrowPayload struct {
	Amount     string `json:"amount"`
	Fee        string `json:"fee"`
	LockedTime int64  `json:"lockedTime"`
	Released   bool   `json:"released"`
}

func listingToPayload(l *market.Listing) *listingPayload {
	p := &listingPayload{
		ID:        l.ID,
		Seller:    common.BytesToAddress(l.Seller[:]).Hex(),
		Price:     amountString(l.Price),
		Title:     l.Title,
		Fee:       amountString(l.Fee),
		Status:    l.Status.String(),
		CreatedAt: l.CreatedAt,
		ExpiresAt: l.ExpiresAt,
	}
	if l.HasBuyer() {
		p.Buyer = common.BytesToAddress(l.Buyer[:]).Hex()
	}
	if l.Escrow.Armed() || l.Escrow.Released {
		p.Escrow = escrowToPayload(l.Escrow)
	}
	return p
}

func escrowToPayload(e market.Escrow) *escrowPayload {
	return &escrowPayload{
		Amount:     amountString(e.Amount),
		Fee:        amountString(e.Fee),
		LockedTime: e.LockedTime,
		Released:   e.Released,
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAddress(raw string) ([20]byte, error) {
	if !common.IsHexAddress(raw) {
		return [20]byte{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func parseAmount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}

// decodeParams unmarshals the single positional params object into dst.
func decodeParams(req *RPCRequest, dst interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected one params object, got %d", len(req.Params))
	}
	return json.Unmarshal(req.Params[0], dst)
}

func (s *Server) writeParamsError(w http.ResponseWriter, req *RPCRequest, err error) string {
	s.metrics.ObserveError(req.Method, strconv.Itoa(codeInvalidParams))
	writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
	return "invalid_params"
}

type createListingParams struct {
	Caller string `json:"caller"`
	Price  string `json:"price"`
	Title  string `json:"title"`
}

func (s *Server) handleCreateListing(w http.ResponseWriter, req *RPCRequest) string {
	var params createListingParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	id, err := s.engine.CreateListing(caller, price, params.Title)
	if err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, map[string]interface{}{"id": id})
	return "ok"
}

type listingCallParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
}

// callerOp covers the mutating methods that take only a listing id and the
// caller identity.
func (s *Server) callerOp(w http.ResponseWriter, req *RPCRequest, op func(uint64, [20]byte) error) string {
	var params listingCallParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	if err := op(params.ID, caller); err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
	return "ok"
}

func (s *Server) handleRelist(w http.ResponseWriter, req *RPCRequest) string {
	return s.callerOp(w, req, s.engine.Relist)
}

func (s *Server) handleInitiateBuy(w http.ResponseWriter, req *RPCRequest) string {
	return s.callerOp(w, req, s.engine.InitiateBuy)
}

func (s *Server) handleConfirmTransaction(w http.ResponseWriter, req *RPCRequest) string {
	return s.callerOp(w, req, s.engine.ConfirmTransaction)
}

func (s *Server) handleRequestEscrowRelease(w http.ResponseWriter, req *RPCRequest) string {
	return s.callerOp(w, req, s.engine.RequestEscrowRelease)
}

func (s *Server) handleMarkDispute(w http.ResponseWriter, req *RPCRequest) string {
	return s.callerOp(w, req, s.engine.MarkDispute)
}

type handleDisputeParams struct {
	ID          uint64 `json:"id"`
	Caller      string `json:"caller"`
	RefundBuyer bool   `json:"refundBuyer"`
}

func (s *Server) handleHandleDispute(w http.ResponseWriter, req *RPCRequest) string {
	var params handleDisputeParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	if err := s.engine.HandleDispute(params.ID, caller, params.RefundBuyer); err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
	return "ok"
}

type setFeeParams struct {
	Caller string `json:"caller"`
	Bps    uint32 `json:"bps"`
}

func (s *Server) handleSetFee(w http.ResponseWriter, req *RPCRequest) string {
	var params setFeeParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	if err := s.engine.SetFee(caller, params.Bps); err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
	return "ok"
}

func (s *Server) handleGetFee(w http.ResponseWriter, req *RPCRequest) string {
	writeResult(w, req.ID, map[string]uint32{"bps": s.engine.GetFee()})
	return "ok"
}

func (s *Server) handleViewCollectedFee(w http.ResponseWriter, req *RPCRequest) string {
	writeResult(w, req.ID, map[string]string{"collected": amountString(s.engine.ViewCollectedFee())})
	return "ok"
}

type callerParams struct {
	Caller string `json:"caller"`
}

func (s *Server) handleWithdrawFee(w http.ResponseWriter, req *RPCRequest) string {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	amount, err := s.engine.WithdrawFee(caller)
	if err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, map[string]string{"amount": amountString(amount)})
	return "ok"
}

type listingIDParams struct {
	ID uint64 `json:"id"`
}

func (s *Server) handleGetListing(w http.ResponseWriter, req *RPCRequest) string {
	var params listingIDParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	listing, err := s.engine.GetListing(params.ID)
	if err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, listingToPayload(listing))
	return "ok"
}

func (s *Server) handleGetAllListings(w http.ResponseWriter, req *RPCRequest) string {
	listings := s.engine.GetAllListings()
	payloads := make([]*listingPayload, 0, len(listings))
	for _, l := range listings {
		payloads = append(payloads, listingToPayload(l))
	}
	writeResult(w, req.ID, payloads)
	return "ok"
}

func (s *Server) handleGetListingCount(w http.ResponseWriter, req *RPCRequest) string {
	writeResult(w, req.ID, map[string]uint64{"count": s.engine.GetListingCount()})
	return "ok"
}

func (s *Server) handleGetEscrowInfo(w http.ResponseWriter, req *RPCRequest) string {
	var params listingIDParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	escrow, err := s.engine.GetEscrowInfo(params.ID)
	if err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, escrowToPayload(escrow))
	return "ok"
}

func (s *Server) handleIsExpired(w http.ResponseWriter, req *RPCRequest) string {
	var params listingIDParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	expired, err := s.engine.IsExpired(params.ID)
	if err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, map[string]bool{"expired": expired})
	return "ok"
}

type roleParams struct {
	Caller  string `json:"caller"`
	Role    string `json:"role"`
	Address string `json:"address"`
}

func (s *Server) roleOp(w http.ResponseWriter, req *RPCRequest, op func([20]byte, string, [20]byte) error) string {
	var params roleParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	subject, err := parseAddress(params.Address)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	if err := op(caller, params.Role, subject); err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
	return "ok"
}

func (s *Server) handleGrantRole(w http.ResponseWriter, req *RPCRequest) string {
	return s.roleOp(w, req, s.engine.Gate().Grant)
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, req *RPCRequest) string {
	return s.roleOp(w, req, s.engine.Gate().Revoke)
}

func (s *Server) handlePause(w http.ResponseWriter, req *RPCRequest) string {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	if err := s.engine.Pause(caller); err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
	return "ok"
}

func (s *Server) handleResume(w http.ResponseWriter, req *RPCRequest) string {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	if err := s.engine.Resume(caller); err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
	return "ok"
}
