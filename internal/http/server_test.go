package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/cache"
	"saldo/internal/core"
	"saldo/internal/services"
	"saldo/internal/storage/memory"
)

const (
	userA    = "7b0f2a52-3c1e-4b8e-9c64-5d2f1e0a9b11"
	userB    = "1d3c5e7a-9b2f-4a6c-8e0d-2f4a6c8e0b13"
	accUSD   = "0c7d6a8e-1f4b-4c51-a1de-0b9a6f3e2c10"
	accDOP   = "5e2a9c1b-7d3f-4e8a-b6c0-1a2b3c4d5e6f"
	accOther = "9f8e7d6c-5b4a-4321-8fed-cba987654321"
)

type fakeQueue struct {
	mu    sync.Mutex
	syncs []core.BalanceSync
}

func (q *fakeQueue) EnqueueBalanceSync(ctx context.Context, s core.BalanceSync) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.syncs = append(q.syncs, s)
	return "msg-" + s.AccountID, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type panickingBalance struct{}

func (panickingBalance) GetUserBalance(context.Context, services.BalanceRequest) (core.BalanceSheet, error) {
	panic("boom")
}

type failingReference struct{}

func (failingReference) ListCurrencies(context.Context) ([]core.Currency, error) {
	return nil, errors.New("connection reset by peer")
}

func (failingReference) LatestRates(context.Context) ([]services.RateView, error) {
	return nil, errors.New("connection reset by peer")
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newTestStore holds userA with a USD and a DOP account. 1 DOP = 0.02 USD.
func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New(memory.DefaultCurrencies)
	if err := s.AddRate("USD", dec("0.02"), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("seed rate: %v", err)
	}
	s.AddAccount(core.Account{ID: accUSD, UserID: userA, Label: "Dollars", CurrencyID: 2, Balance: dec("10"), ProductType: "Savings Account"})
	s.AddAccount(core.Account{ID: accDOP, UserID: userA, Label: "Pesos", CurrencyID: 1, Balance: dec("100"), ProductType: "Checking Account"})
	s.AddAccount(core.Account{ID: accOther, UserID: userB, Label: "Theirs", CurrencyID: 2, Balance: dec("500.00"), ProductType: "Savings Account"})
	for _, tx := range []core.Transaction{
		{UserID: userA, Amount: dec("300"), CurrencyID: 1, Class: core.ClassExpense, CategoryName: "Food", TransactionDate: time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)},
		{UserID: userA, Amount: dec("100"), CurrencyID: 1, Class: core.ClassExpense, TransactionDate: time.Date(2024, 3, 3, 10, 0, 0, 0, time.UTC)},
		{UserID: userA, Amount: dec("50"), CurrencyID: 1, Class: core.ClassIncome, CategoryName: "Salary", TransactionDate: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)},
	} {
		if err := s.AddTransaction(tx); err != nil {
			t.Fatalf("seed transaction: %v", err)
		}
	}
	return s
}

type testEnv struct {
	store *memory.Store
	queue *fakeQueue
	srv   *Server
}

func newTestServer(t *testing.T, opts Options, edit func(*Deps)) *testEnv {
	t.Helper()
	store := newTestStore(t)
	queue := &fakeQueue{}
	resolver := services.NewCurrencyResolver(store, cache.NewLRUCache[string](16, time.Minute))
	rates := services.NewRateLookup(store, store, "DOP", cache.NewLRUCache[decimal.Decimal](16, time.Minute))

	deps := Deps{
		Balance:      services.NewBalanceService(store, store, store, resolver, rates, "USD"),
		Analytics:    services.NewAnalyticsService(store, resolver, rates, 1, "DOP"),
		Accounts:     services.NewAccountService(store, resolver, nil, queue, "USD"),
		Transactions: services.NewTransactionService(store, resolver, "USD"),
		Reference:    services.NewReferenceService(store, store, "DOP"),
		Health:       store,
		Caches:       cache.NewManager(),
	}
	if edit != nil {
		edit(&deps)
	}
	srv, err := NewServer(":0", deps, opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{store: store, queue: queue, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	d := json.NewDecoder(rr.Body)
	d.UseNumber()
	var out map[string]any
	if err := d.Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func decodeList(t *testing.T, rr *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	d := json.NewDecoder(rr.Body)
	d.UseNumber()
	var out []map[string]any
	if err := d.Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func assertNumber(t *testing.T, got any, want string) {
	t.Helper()
	n, ok := got.(json.Number)
	if !ok {
		t.Fatalf("expected JSON number, got %T (%v)", got, got)
	}
	if !decimal.RequireFromString(n.String()).Equal(dec(want)) {
		t.Errorf("number = %s, want %s", n, want)
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestServer(t, Options{}, nil)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := env.do(t, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	down := newTestServer(t, Options{}, func(d *Deps) { d.Health = fakePinger{err: errors.New("no route to host")} })
	rr := down.do(t, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing store status=%d", rr.Code)
	}
}

func TestBalance_EmptyUser(t *testing.T) {
	env := newTestServer(t, Options{}, nil)
	rr := env.do(t, http.MethodGet, "/api/users/aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee/balance", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	raw := rr.Body.String()
	for _, want := range []string{`"balancesByCurrency":[]`, `"lastTransactionDate":null`, `"baseCurrency":"USD"`} {
		if !strings.Contains(raw, want) {
			t.Errorf("body missing %s: %s", want, raw)
		}
	}
	body := decodeBody(t, rr)
	assertNumber(t, body["totalBalance"], "0")
	assertNumber(t, body["totalIncome"], "0")
	assertNumber(t, body["totalExpenses"], "0")
}

func TestBalance_SingleCurrency(t *testing.T) {
	env := newTestServer(t, Options{}, nil)
	rr := env.do(t, http.MethodGet, "/api/users/"+userB+"/balance", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	assertNumber(t, body["totalBalance"], "500")
	if body["baseCurrency"] != "USD" {
		t.Errorf("baseCurrency = %v, want USD", body["baseCurrency"])
	}
	buckets := body["balancesByCurrency"].([]any)
	if len(buckets) != 1 {
		t.Fatalf("expected one bucket, got %v", buckets)
	}
	b := buckets[0].(map[string]any)
	assertNumber(t, b["balance"], "500")
	assertNumber(t, b["income"], "0")
	assertNumber(t, b["expenses"], "0")
}

func TestBalance_MixedCurrencies(t *testing.T) {
	t.Run("without base currency", func(t *testing.T) {
		env := newTestServer(t, Options{}, nil)
		rr := env.do(t, http.MethodGet, "/api/users/"+userA+"/balance", "")
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
		}
		if !strings.Contains(rr.Body.String(), "base currency required") {
			t.Errorf("unexpected error body: %s", rr.Body.String())
		}
	})

	t.Run("explicit base currency", func(t *testing.T) {
		env := newTestServer(t, Options{}, nil)
		rr := env.do(t, http.MethodGet, "/api/users/"+userA+"/balance?baseCurrencyId=1", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
		}
		body := decodeBody(t, rr)
		if body["baseCurrency"] != "DOP" {
			t.Errorf("baseCurrency = %v", body["baseCurrency"])
		}
		// 10 USD at 50 DOP each plus 100 DOP.
		assertNumber(t, body["totalBalance"], "600")
		assertNumber(t, body["totalExpenses"], "400")
		assertNumber(t, body["totalIncome"], "50")
		if body["lastTransactionDate"] == nil {
			t.Errorf("expected lastTransactionDate")
		}
		if accounts := body["accountBalances"].([]any); len(accounts) != 2 {
			t.Errorf("expected 2 account balances, got %d", len(accounts))
		}
	})

	t.Run("configured default base currency", func(t *testing.T) {
		env := newTestServer(t, Options{DefaultBaseCurrencyID: 1}, nil)
		rr := env.do(t, http.MethodGet, "/api/users/"+userA+"/balance", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
		}
		if body := decodeBody(t, rr); body["baseCurrency"] != "DOP" {
			t.Errorf("baseCurrency = %v", body["baseCurrency"])
		}
	})
}

func TestBalance_InvalidInput(t *testing.T) {
	env := newTestServer(t, Options{}, nil)
	tests := []struct {
		name   string
		target string
	}{
		{"user id not a uuid", "/api/users/42/balance"},
		{"base currency not a number", "/api/users/" + userA + "/balance?baseCurrencyId=usd"},
		{"base currency zero", "/api/users/" + userA + "/balance?baseCurrencyId=0"},
		{"bad from date", "/api/users/" + userA + "/balance?fromDate=03/01/2024"},
		{"from after to", "/api/users/" + userA + "/balance?fromDate=2024-03-10&toDate=2024-03-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, tt.target, "")
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
			body := decodeBody(t, rr)
			if body["error"] == "" || body["error"] == nil {
				t.Errorf("missing error message: %v", body)
			}
		})
	}
}

func TestExpenseAnalytics(t *testing.T) {
	env := newTestServer(t, Options{}, nil)
	rr := env.do(t, http.MethodGet, "/api/users/"+userA+"/expense-analytics?fromDate=2024-03-01&toDate=2024-03-31", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["currency"] != "DOP" {
		t.Errorf("currency = %v, want DOP", body["currency"])
	}
	assertNumber(t, body["totalExpenses"], "400")

	cats := body["categoriesData"].([]any)
	if len(cats) != 2 {
		t.Fatalf("expected 2 categories, got %v", cats)
	}
	first := cats[0].(map[string]any)
	if first["categoryName"] != "Food" {
		t.Errorf("first category = %v, want Food", first["categoryName"])
	}
	assertNumber(t, first["percentage"], "75")
	second := cats[1].(map[string]any)
	if second["categoryName"] != core.UncategorizedName {
		t.Errorf("second category = %v", second["categoryName"])
	}

	period := body["period"].(map[string]any)
	if period["fromDate"] != "2024-03-01" || period["toDate"] != "2024-03-31" {
		t.Errorf("period = %v", period)
	}
}

func TestExpenseAnalytics_EqualSharesAddUpTo100(t *testing.T) {
	env := newTestServer(t, Options{}, nil)
	for _, category := range []string{"C", "A", "B"} {
		tx := core.Transaction{UserID: userB, Amount: dec("10"), CurrencyID: 1, Class: core.ClassExpense, CategoryName: category, TransactionDate: time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)}
		if err := env.store.AddTransaction(tx); err != nil {
			t.Fatalf("seed transaction: %v", err)
		}
	}

	rr := env.do(t, http.MethodGet, "/api/users/"+userB+"/expense-analytics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	assertNumber(t, body["totalExpenses"], "30")

	cats := body["categoriesData"].([]any)
	if len(cats) != 3 {
		t.Fatalf("expected 3 categories, got %v", cats)
	}
	want := []struct{ name, pct string }{{"A", "33.34"}, {"B", "33.33"}, {"C", "33.33"}}
	sum := decimal.Zero
	for i, w := range want {
		c := cats[i].(map[string]any)
		if c["categoryName"] != w.name {
			t.Errorf("category %d = %v, want %s", i, c["categoryName"], w.name)
		}
		assertNumber(t, c["percentage"], w.pct)
		sum = sum.Add(dec(string(c["percentage"].(json.Number))))
	}
	if !sum.Equal(dec("100")) {
		t.Fatalf("percentages sum to %s, want 100", sum)
	}
}

func TestUpdateAccountBalance(t *testing.T) {
	env := newTestServer(t, Options{}, nil)

	rr := env.do(t, http.MethodPut, "/api/users/"+userA+"/accounts/"+accUSD+"/balance", `{"balance": "-12.50"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	assertNumber(t, body["balance"], "-12.5")
	if body["lastUpdate"] == nil {
		t.Errorf("expected lastUpdate to be set")
	}
	stored, err := env.store.GetAccount(context.Background(), accUSD)
	if err != nil || !stored.Balance.Equal(dec("-12.5")) {
		t.Fatalf("stored balance = %v (%v)", stored.Balance, err)
	}

	tests := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{"numeric balance", "/api/users/" + userA + "/accounts/" + accDOP + "/balance", `{"balance": 250.75}`, http.StatusOK},
		{"other user's account", "/api/users/" + userA + "/accounts/" + accOther + "/balance", `{"balance": "1"}`, http.StatusForbidden},
		{"unknown account", "/api/users/" + userA + "/accounts/4d1f6a8e-0000-4000-8000-000000000000/balance", `{"balance": "1"}`, http.StatusNotFound},
		{"missing balance", "/api/users/" + userA + "/accounts/" + accUSD + "/balance", `{}`, http.StatusBadRequest},
		{"malformed json", "/api/users/" + userA + "/accounts/" + accUSD + "/balance", `{"balance":`, http.StatusBadRequest},
		{"bad account id", "/api/users/" + userA + "/accounts/nope/balance", `{"balance": "1"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPut, tt.target, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestBalanceSync(t *testing.T) {
	env := newTestServer(t, Options{}, nil)
	rr := env.do(t, http.MethodPost, "/api/users/"+userA+"/accounts/"+accUSD+"/balance-sync", `{"balance": "99.99"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["status"] != "queued" || body["messageId"] == "" {
		t.Errorf("unexpected body %v", body)
	}
	if len(env.queue.syncs) != 1 || env.queue.syncs[0].AccountID != accUSD {
		t.Fatalf("expected one queued sync, got %+v", env.queue.syncs)
	}

	noQueue := newTestServer(t, Options{}, func(d *Deps) {
		store := memory.New(memory.DefaultCurrencies)
		d.Accounts = services.NewAccountService(store, services.NewCurrencyResolver(store, nil), nil, nil, "USD")
	})
	rr = noQueue.do(t, http.MethodPost, "/api/users/"+userA+"/accounts/"+accUSD+"/balance-sync", `{"balance": "1"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestListAccountsAndTransactions(t *testing.T) {
	env := newTestServer(t, Options{}, nil)

	rr := env.do(t, http.MethodGet, "/api/users/"+userA+"/accounts", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("accounts status=%d", rr.Code)
	}
	accounts := decodeList(t, rr)
	if len(accounts) != 2 || accounts[0]["currency"] != "USD" || accounts[1]["currency"] != "DOP" {
		t.Fatalf("unexpected accounts %v", accounts)
	}

	deleted := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	if err := env.store.AddTransaction(core.Transaction{
		UserID: userA, Amount: dec("7"), CurrencyID: 1, Class: core.ClassExpense,
		TransactionDate: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), DeletedAt: &deleted,
	}); err != nil {
		t.Fatalf("add transaction: %v", err)
	}

	tests := []struct {
		target string
		want   int
	}{
		{"/api/users/" + userA + "/transactions", 3},
		{"/api/users/" + userA + "/transactions?includeDeleted=true", 4},
		{"/api/users/" + userA + "/transactions?toDate=2024-03-02", 1},
		{"/api/users/" + userA + "/transactions?fromDate=2024-03-03T08:00:00Z", 2},
	}
	for _, tt := range tests {
		rr := env.do(t, http.MethodGet, tt.target, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", tt.target, rr.Code)
		}
		if got := decodeList(t, rr); len(got) != tt.want {
			t.Errorf("%s returned %d transactions, want %d", tt.target, len(got), tt.want)
		}
	}

	rr = env.do(t, http.MethodGet, "/api/users/"+userA+"/transactions?includeDeleted=maybe", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("includeDeleted=maybe status=%d", rr.Code)
	}
}

func TestReferenceData(t *testing.T) {
	env := newTestServer(t, Options{}, nil)

	rr := env.do(t, http.MethodGet, "/api/currencies", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("currencies status=%d", rr.Code)
	}
	if cs := decodeList(t, rr); len(cs) != 3 || cs[0]["code"] != "DOP" {
		t.Fatalf("unexpected currencies %v", cs)
	}

	rr = env.do(t, http.MethodGet, "/api/exchange-rates", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("rates status=%d", rr.Code)
	}
	rates := decodeList(t, rr)
	if len(rates) != 1 || rates[0]["currency"] != "USD" || rates[0]["reference"] != "DOP" || rates[0]["rateDate"] != "2024-03-01" {
		t.Fatalf("unexpected rates %v", rates)
	}
	assertNumber(t, rates[0]["rate"], "0.02")
}

func TestInternalErrorsAreGeneric(t *testing.T) {
	env := newTestServer(t, Options{}, func(d *Deps) { d.Reference = failingReference{} })
	rr := env.do(t, http.MethodGet, "/api/currencies", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "connection reset") {
		t.Fatalf("internal details leaked: %s", rr.Body.String())
	}
	if body := decodeBody(t, rr); body["requestId"] == nil {
		t.Errorf("expected request id in error body")
	}
}

func TestRecoveryFromPanic(t *testing.T) {
	env := newTestServer(t, Options{}, func(d *Deps) { d.Balance = panickingBalance{} })
	rr := env.do(t, http.MethodGet, "/api/users/"+userA+"/balance", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestMiddlewareChain(t *testing.T) {
	env := newTestServer(t, Options{RateLimit: 1}, nil)

	rr := env.do(t, http.MethodGet, "/api/currencies", "")
	if rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("missing X-Request-ID")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("missing security headers: %v", rr.Header())
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("api responses must not be cached, got %q", rr.Header().Get("Cache-Control"))
	}

	// Reads are never limited.
	for i := 0; i < 3; i++ {
		if rr := env.do(t, http.MethodGet, "/api/currencies", ""); rr.Code != http.StatusOK {
			t.Fatalf("read %d limited: %d", i, rr.Code)
		}
	}

	target := "/api/users/" + userA + "/accounts/" + accUSD + "/balance"
	if rr := env.do(t, http.MethodPut, target, `{"balance":"1"}`); rr.Code != http.StatusOK {
		t.Fatalf("first write status=%d", rr.Code)
	}
	rr = env.do(t, http.MethodPut, target, `{"balance":"2"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second write status=%d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Errorf("missing Retry-After")
	}

	rr = env.do(t, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	for _, want := range []string{"http_requests_total 6", "ratelimit_limited_total 1"} {
		if !strings.Contains(rr.Body.String(), want) {
			t.Errorf("metrics missing %q:\n%s", want, rr.Body.String())
		}
	}
}
