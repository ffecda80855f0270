package http

import (
	"net/http"
	"time"

	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/services"
)

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := ParseUserID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	query := r.URL.Query()
	baseID, err := ParseBaseCurrencyID(query, s.defaultBase)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rng, err := ParseDateRange(query)
	if err != nil {
		writeError(w, r, err)
		return
	}

	sheet, err := s.deps.Balance.GetUserBalance(r.Context(), services.BalanceRequest{
		UserID:         userID,
		BaseCurrencyID: baseID,
		Range:          rng,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	fields := log.NewFields().
		WithUser(userID).
		WithCurrency("", sheet.BaseCurrency)
	fields["buckets"] = len(sheet.BalancesByCurrency)
	log.FromContext(r.Context()).DebugContext(r.Context(), "Balance computed", fields.ToSlice()...)
	NewResponse().JSON(newBalanceResponse(sheet)).Write(w)
}

func (s *Server) handleExpenseAnalytics(w http.ResponseWriter, r *http.Request) {
	userID, err := ParseUserID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	query := r.URL.Query()
	// The analytics service has its own default currency, so no fallback here.
	baseID, err := ParseBaseCurrencyID(query, 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rng, err := ParseDateRange(query)
	if err != nil {
		writeError(w, r, err)
		return
	}

	analytics, err := s.deps.Analytics.GetUserExpenseAnalytics(r.Context(), services.AnalyticsRequest{
		UserID:         userID,
		BaseCurrencyID: baseID,
		Range:          rng,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(newAnalyticsResponse(analytics)).Write(w)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, err := ParseUserID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	accounts, err := s.deps.Accounts.ListAccounts(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]accountBalanceDTO, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, newAccountBalanceDTO(a))
	}
	NewResponse().JSON(out).Write(w)
}

// parseBalanceUpdate reads the user, account and balance of a balance write.
func parseBalanceUpdate(r *http.Request, source string) (services.UpdateBalanceRequest, error) {
	userID, err := ParseUserID(r)
	if err != nil {
		return services.UpdateBalanceRequest{}, err
	}
	accountID, err := ParseAccountID(r)
	if err != nil {
		return services.UpdateBalanceRequest{}, err
	}
	balance, err := ParseBalanceBody(r)
	if err != nil {
		return services.UpdateBalanceRequest{}, err
	}
	return services.UpdateBalanceRequest{
		UserID:    userID,
		AccountID: accountID,
		Balance:   balance,
		Source:    source,
	}, nil
}

func (s *Server) handleUpdateBalance(w http.ResponseWriter, r *http.Request) {
	req, err := parseBalanceUpdate(r, services.SourceAPI)
	if err != nil {
		writeError(w, r, err)
		return
	}
	account, err := s.deps.Accounts.UpdateAccountBalance(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(newAccountDTO(account)).Write(w)
}

func (s *Server) handleBalanceSync(w http.ResponseWriter, r *http.Request) {
	req, err := parseBalanceUpdate(r, services.SourceSync)
	if err != nil {
		writeError(w, r, err)
		return
	}
	messageID, err := s.deps.Accounts.RequestBalanceSync(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	fields := log.NewFields().
		WithUser(req.UserID).
		WithAccount(req.AccountID)
	fields[log.FieldMessageID] = messageID
	log.FromContext(r.Context()).InfoContext(r.Context(), "Balance sync queued", fields.ToSlice()...)
	NewResponse().
		Status(http.StatusAccepted).
		JSON(balanceSyncResponse{MessageID: messageID, Status: "queued"}).
		Write(w)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := ParseUserID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	query := r.URL.Query()
	rng, err := ParseDateRange(query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	deleted, err := ParseDeletedFilter(query)
	if err != nil {
		writeError(w, r, err)
		return
	}

	views, err := s.deps.Transactions.ListTransactions(r.Context(), userID, core.TransactionQuery{Range: rng, Deleted: deleted})
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(newTransactionDTOs(views)).Write(w)
}

func (s *Server) handleListCurrencies(w http.ResponseWriter, r *http.Request) {
	cs, err := s.deps.Reference.ListCurrencies(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]currencyDTO, 0, len(cs))
	for _, c := range cs {
		out = append(out, currencyDTO{ID: c.ID, Code: c.Code, Name: c.Name, Symbol: c.Symbol})
	}
	NewResponse().JSON(out).Write(w)
}

func (s *Server) handleExchangeRates(w http.ResponseWriter, r *http.Request) {
	rates, err := s.deps.Reference.LatestRates(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]rateDTO, 0, len(rates))
	for _, rate := range rates {
		out = append(out, rateDTO{
			Currency:  rate.Currency,
			Reference: rate.Reference,
			Rate:      money(rate.Rate),
			RateDate:  rate.RateDate.UTC().Format(time.DateOnly),
		})
	}
	NewResponse().JSON(out).Write(w)
}
