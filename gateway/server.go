package gateway

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"nftlend/core"
	"nftlend/core/types"
	"nftlend/crypto"
	"nftlend/observability/metrics"
)

// Server is the HTTP portal in front of the node. It validates input,
// forwards to the serialized node and reports the events each call raised.
type Server struct {
	node    *core.Node
	logger  *slog.Logger
	metrics *metrics.Metrics
	router  chi.Router
}

// NewServer builds the portal router.
func NewServer(node *core.Node, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{node: node, logger: logger, metrics: m}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RateLimit(rate.NewLimiter(rate.Limit(200), 400)))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/lending", func(r chi.Router) {
			r.Post("/supply", s.handleAmountOp("account", s.node.Supply))
			r.Post("/withdraw", s.handleAmountOp("account", s.node.Withdraw))
			r.Post("/borrow", s.handleAmountOp("account", s.node.Borrow))
			r.Post("/repay", s.handleAmountOp("account", s.node.Repay))
			r.Get("/pool", s.handlePool)
		})
		r.Get("/accounts/{address}", s.handleAccount)
		r.Route("/collateral", func(r chi.Router) {
			r.Post("/add", s.handleItemOp(s.node.ProvideCollateral))
			r.Post("/redeem", s.handleItemOp(s.node.RedeemCollateral))
			r.Get("/{address}", s.handleProfile)
		})
		r.Route("/auction", func(r chi.Router) {
			r.Post("/bid", s.handleBid)
			r.Post("/purchase", s.handlePurchase)
			r.Get("/listings", s.handleListings)
			r.Get("/listings/{collection}/{tokenId}", s.handleListing)
		})
		r.Route("/oracle", func(r chi.Router) {
			r.Post("/price", s.handlePushPrice)
			r.Get("/price/{collection}/{tokenId}", s.handlePriceRecord)
		})
		r.Post("/refresh", s.handleRefresh)
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// --- request/response plumbing ---

type eventPayload struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type opResponse struct {
	Events []eventPayload `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.logger.Warn("request rejected", "path", r.URL.Path, "requestId", requestID(r.Context()), "err", err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeEvents(w http.ResponseWriter, evts []*types.Event) {
	payload := opResponse{Events: make([]eventPayload, 0, len(evts))}
	for _, evt := range evts {
		if s.metrics != nil {
			s.metrics.EventsEmitted.WithLabelValues(evt.Type).Inc()
		}
		payload.Events = append(payload.Events, eventPayload{Type: evt.Type, Attributes: evt.Attributes})
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func decodeBody(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, errInvalidAmount
	}
	return amount, nil
}

func parseTokenID(raw string) (uint64, error) {
	tokenID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errInvalidTokenID
	}
	return tokenID, nil
}

// --- lending ---

type amountRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

func (s *Server) handleAmountOp(field string, op func(crypto.Address, *big.Int) ([]*types.Event, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req amountRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		account, err := crypto.DecodeAddress(req.Account)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		amount, err := parseAmount(req.Amount)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		evts, err := op(account, amount)
		if err != nil {
			s.writeError(w, r, http.StatusUnprocessableEntity, err)
			return
		}
		s.writeEvents(w, evts)
	}
}

type poolResponse struct {
	TotalLiquidity         string `json:"totalLiquidity"`
	TotalPrincipalBorrowed string `json:"totalPrincipalBorrowed"`
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.node.Pool()
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if s.metrics != nil {
		liquidity, _ := new(big.Float).SetInt(pool.TotalLiquidity).Float64()
		borrowed, _ := new(big.Float).SetInt(pool.TotalPrincipalBorrowed).Float64()
		s.metrics.PoolLiquidity.Set(liquidity)
		s.metrics.TotalBorrowed.Set(borrowed)
	}
	s.writeJSON(w, http.StatusOK, poolResponse{
		TotalLiquidity:         pool.TotalLiquidity.String(),
		TotalPrincipalBorrowed: pool.TotalPrincipalBorrowed.String(),
	})
}

type accountResponse struct {
	Balance         string `json:"balance"`
	TotalDebt       string `json:"totalDebt"`
	NetDebt         string `json:"netDebt"`
	TotalSupplied   string `json:"totalSupplied"`
	CollateralValue string `json:"collateralValue"`
	HealthFactor    string `json:"healthFactor"`
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	balance, err := s.node.Balance(account)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	data, err := s.node.UserAccountData(account)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, accountResponse{
		Balance:         balance.String(),
		TotalDebt:       data.TotalDebt.String(),
		NetDebt:         data.NetDebt.String(),
		TotalSupplied:   data.TotalSupplied.String(),
		CollateralValue: data.CollateralValue.String(),
		HealthFactor:    strconv.FormatUint(data.HealthFactor, 10),
	})
}

// --- collateral ---

type itemRequest struct {
	Account    string `json:"account"`
	Collection string `json:"collection"`
	TokenID    string `json:"tokenId"`
}

func (s *Server) handleItemOp(op func(crypto.Address, crypto.Address, uint64) ([]*types.Event, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req itemRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		account, err := crypto.DecodeAddress(req.Account)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		collection, err := crypto.DecodeAddress(req.Collection)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		tokenID, err := parseTokenID(req.TokenID)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		evts, err := op(account, collection, tokenID)
		if err != nil {
			s.writeError(w, r, http.StatusUnprocessableEntity, err)
			return
		}
		s.writeEvents(w, evts)
	}
}

type profileItem struct {
	Collection string `json:"collection"`
	TokenID    string `json:"tokenId"`
	PledgedAt  int64  `json:"pledgedAt"`
}

type profileResponse struct {
	Items           []profileItem `json:"items"`
	BeingLiquidated bool          `json:"beingLiquidated"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	account, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	profile, ok, err := s.node.CollateralProfile(account)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	resp := profileResponse{Items: []profileItem{}}
	if ok {
		resp.BeingLiquidated = profile.BeingLiquidated
		for _, item := range profile.Items {
			resp.Items = append(resp.Items, profileItem{
				Collection: item.Collection.String(),
				TokenID:    strconv.FormatUint(item.TokenID, 10),
				PledgedAt:  item.PledgedAt,
			})
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// --- auctions ---

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	s.handleAuctionPayment(w, r, s.node.PlaceBid)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	s.handleAuctionPayment(w, r, s.node.Purchase)
}

type auctionPaymentRequest struct {
	Account    string `json:"account"`
	Collection string `json:"collection"`
	TokenID    string `json:"tokenId"`
	Amount     string `json:"amount"`
}

func (s *Server) handleAuctionPayment(w http.ResponseWriter, r *http.Request, op func(crypto.Address, crypto.Address, uint64, *big.Int) ([]*types.Event, error)) {
	var req auctionPaymentRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	account, err := crypto.DecodeAddress(req.Account)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	collection, err := crypto.DecodeAddress(req.Collection)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	tokenID, err := parseTokenID(req.TokenID)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	evts, err := op(account, collection, tokenID, amount)
	if err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeEvents(w, evts)
}

type listingResponse struct {
	Collection    string `json:"collection"`
	TokenID       string `json:"tokenId"`
	Borrower      string `json:"borrower"`
	BasePrice     string `json:"basePrice"`
	EndsAt        int64  `json:"endsAt"`
	HighestBid    string `json:"highestBid"`
	HighestBidder string `json:"highestBidder,omitempty"`
	EndedNoWinner bool   `json:"endedNoWinner"`
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	listings, err := s.node.Listings()
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if s.metrics != nil {
		s.metrics.LiveListings.Set(float64(len(listings)))
	}
	out := make([]listingResponse, 0, len(listings))
	for _, listing := range listings {
		out = append(out, listingResponse{
			Collection:    listing.Collection.String(),
			TokenID:       strconv.FormatUint(listing.TokenID, 10),
			Borrower:      listing.Borrower.String(),
			BasePrice:     listing.BasePrice.String(),
			EndsAt:        listing.EndsAt(),
			HighestBid:    listing.HighestBid.String(),
			HighestBidder: bidderString(listing.HighestBidder),
			EndedNoWinner: listing.EndedNoWinner,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func bidderString(addr crypto.Address) string {
	if addr.IsZero() {
		return ""
	}
	return addr.String()
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	collection, err := crypto.DecodeAddress(chi.URLParam(r, "collection"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	tokenID, err := parseTokenID(chi.URLParam(r, "tokenId"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	listing, ok, err := s.node.Listing(collection, tokenID)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		s.writeError(w, r, http.StatusNotFound, errListingNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, listingResponse{
		Collection:    listing.Collection.String(),
		TokenID:       strconv.FormatUint(listing.TokenID, 10),
		Borrower:      listing.Borrower.String(),
		BasePrice:     listing.BasePrice.String(),
		EndsAt:        listing.EndsAt(),
		HighestBid:    listing.HighestBid.String(),
		HighestBidder: bidderString(listing.HighestBidder),
		EndedNoWinner: listing.EndedNoWinner,
	})
}

// --- oracle ---

type pushPriceRequest struct {
	Caller     string `json:"caller"`
	Collection string `json:"collection"`
	TokenID    string `json:"tokenId"`
	Price      string `json:"price"`
	Eligible   *bool  `json:"eligible"`
}

func (s *Server) handlePushPrice(w http.ResponseWriter, r *http.Request) {
	var req pushPriceRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	collection, err := crypto.DecodeAddress(req.Collection)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	tokenID, err := parseTokenID(req.TokenID)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	eligible := true
	if req.Eligible != nil {
		eligible = *req.Eligible
	}
	evts, err := s.node.PushPrice(caller, collection, tokenID, price, eligible)
	if err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeEvents(w, evts)
}

type priceRecordResponse struct {
	Collection  string `json:"collection"`
	TokenID     string `json:"tokenId"`
	Price       string `json:"price"`
	Pending     bool   `json:"pending"`
	Known       bool   `json:"known"`
	Eligible    bool   `json:"eligible"`
	LastUpdated int64  `json:"lastUpdated"`
}

func (s *Server) handlePriceRecord(w http.ResponseWriter, r *http.Request) {
	collection, err := crypto.DecodeAddress(chi.URLParam(r, "collection"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	tokenID, err := parseTokenID(chi.URLParam(r, "tokenId"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	record, ok, err := s.node.PriceRecord(collection, tokenID)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		s.writeError(w, r, http.StatusNotFound, errPriceNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, priceRecordResponse{
		Collection:  record.Collection.String(),
		TokenID:     strconv.FormatUint(record.TokenID, 10),
		Price:       record.Price.String(),
		Pending:     record.Pending,
		Known:       record.Known,
		Eligible:    record.Eligible,
		LastUpdated: record.LastUpdated,
	})
}

// --- keeper ---

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	evts, err := s.node.Refresh()
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RefreshRuns.Inc()
	}
	s.writeEvents(w, evts)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
