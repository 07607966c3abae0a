// Package trading implements the Trading Engine: the sole mutator of
// Portfolio/Position/Trade state, serialized per model and persisted
// atomically, adapted from the teacher's sqlite-backed session store
// idiom (same transaction/upsert pattern, new domain).
package trading

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dax-arena/core/internal/domain"
	"github.com/dax-arena/core/internal/storage/sqlite"
)

// PriceSource resolves the current execution price for a symbol; the
// Trading Engine never trusts a caller-supplied price.
type PriceSource interface {
	Get(symbol string) (*domain.OHLCVBar, bool)
}

// Calendar answers whether the market is open at an instant.
type Calendar interface {
	IsMarketOpen(t time.Time) bool
}

// Order is one requested trade, validated against current state
// before execution.
type Order struct {
	ModelID  string
	Symbol   string
	Side     domain.TradeSide
	Quantity int
}

// ExecResult is the outcome of a successful execute_buy/execute_sell.
type ExecResult struct {
	Trade     domain.Trade
	Portfolio domain.Portfolio
	Position  *domain.Position
}

// Metrics is the aggregate performance summary for one model.
type Metrics struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	TotalFeesPaid decimal.Decimal
	ROI           decimal.Decimal
}

// Engine is the Trading Engine. It takes a per-model lock spanning
// validate+execute+persist, so trades for one model are strictly
// serialized while different models proceed concurrently.
type Engine struct {
	store    *sqlite.Store
	prices   PriceSource
	calendar Calendar
	fee      decimal.Decimal

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds a Trading Engine against the given store, price source,
// calendar, and flat per-trade fee.
func New(store *sqlite.Store, prices PriceSource, calendar Calendar, fee decimal.Decimal) *Engine {
	return &Engine{
		store:    store,
		prices:   prices,
		calendar: calendar,
		fee:      fee,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(modelID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[modelID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[modelID] = l
	}
	return l
}

// Initialize creates a Portfolio with cash_balance = starting_balance.
// Idempotent: a pre-existing Portfolio is returned unchanged.
func (e *Engine) Initialize(ctx context.Context, modelID string, startingBalance decimal.Decimal) (*domain.Portfolio, error) {
	return e.store.InitializePortfolio(ctx, modelID, startingBalance)
}

// Validate rejects order with a typed Failure per §4.7's rules, or
// returns nil if the order is executable as-is. It reads outside any
// transaction; the caller holding the per-model lock is what makes
// the subsequent execute's re-validation race-free.
func (e *Engine) Validate(ctx context.Context, order Order, at time.Time) *domain.Failure {
	if !e.calendar.IsMarketOpen(at) {
		return domain.NewFailure(domain.FailureMarketClosed, "market is closed")
	}
	if order.Side != domain.SideBuy && order.Side != domain.SideSell {
		return domain.NewFailure(domain.FailureInvalidSide, string(order.Side))
	}
	if order.Quantity <= 0 {
		return domain.NewFailure(domain.FailureInvalidQuantity, "quantity must be positive")
	}

	bar, ok := e.prices.Get(order.Symbol)
	if !ok {
		return domain.NewFailure(domain.FailureUnknownSymbol, order.Symbol)
	}

	portfolio, err := e.store.GetPortfolio(ctx, order.ModelID)
	if err != nil || portfolio == nil {
		return domain.NewFailure(domain.FailureUnknownSymbol, "portfolio not initialized")
	}

	if order.Side == domain.SideBuy {
		cost := bar.Close.Mul(decimal.NewFromInt(int64(order.Quantity))).Add(e.fee)
		if portfolio.CashBalance.LessThan(cost) {
			return domain.NewFailure(domain.FailureInsufficientCash, cost.String())
		}
		return nil
	}

	pos, err := e.store.GetPosition(ctx, order.ModelID, order.Symbol)
	if err != nil || pos == nil {
		return domain.NewFailure(domain.FailureNoPosition, order.Symbol)
	}
	if pos.Quantity < order.Quantity {
		return domain.NewFailure(domain.FailureInsufficientQty, order.Symbol)
	}
	return nil
}

// ExecuteBuy re-validates, debits cash, creates or grows the
// position using the weighted-average rule, and appends a BUY Trade,
// all within one transaction.
func (e *Engine) ExecuteBuy(ctx context.Context, modelID, symbol string, quantity int, at time.Time) (*ExecResult, *domain.Failure) {
	lock := e.lockFor(modelID)
	lock.Lock()
	defer lock.Unlock()

	order := Order{ModelID: modelID, Symbol: symbol, Side: domain.SideBuy, Quantity: quantity}
	if f := e.Validate(ctx, order, at); f != nil {
		return nil, f
	}

	bar, ok := e.prices.Get(symbol)
	if !ok {
		return nil, domain.NewFailure(domain.FailureUnknownSymbol, symbol)
	}

	portfolio, err := e.store.GetPortfolio(ctx, modelID)
	if err != nil || portfolio == nil {
		return nil, domain.NewFailure(domain.FailureUnknownSymbol, "portfolio not initialized")
	}

	existingPos, err := e.store.GetPosition(ctx, modelID, symbol)
	if err != nil {
		return nil, domain.NewFailure(domain.FailureUnknownSymbol, err.Error())
	}

	qty := decimal.NewFromInt(int64(quantity))
	cost := bar.Close.Mul(qty).Add(e.fee)

	var newPos domain.Position
	if existingPos == nil {
		newPos = domain.Position{
			ModelID: modelID, Symbol: symbol, Quantity: quantity,
			AvgPrice: bar.Close, CurrentPrice: bar.Close,
			OpenedAt: at, UpdatedAt: at,
		}
	} else {
		totalQty := existingPos.Quantity + quantity
		newAvg := existingPos.AvgPrice.Mul(decimal.NewFromInt(int64(existingPos.Quantity))).
			Add(bar.Close.Mul(qty)).
			Div(decimal.NewFromInt(int64(totalQty)))
		newPos = *existingPos
		newPos.Quantity = totalQty
		newPos.AvgPrice = newAvg
		newPos.CurrentPrice = bar.Close
		newPos.UpdatedAt = at
	}

	newPortfolio := *portfolio
	newPortfolio.CashBalance = newPortfolio.CashBalance.Sub(cost)

	trade := domain.Trade{
		ModelID: modelID, Symbol: symbol, Side: domain.SideBuy,
		Quantity: quantity, Price: bar.Close, Fee: e.fee,
		Total: cost, Status: domain.TradeStatusFilled, Timestamp: at,
	}

	txErr := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.SavePortfolioTx(ctx, tx, newPortfolio); err != nil {
			return err
		}
		if err := e.store.UpsertPositionTx(ctx, tx, newPos); err != nil {
			return err
		}
		id, err := e.store.InsertTradeTx(ctx, tx, trade)
		if err != nil {
			return err
		}
		trade.ID = id
		return nil
	})
	if txErr != nil {
		return nil, domain.NewFailure(domain.FailureUnknownSymbol, txErr.Error())
	}

	return &ExecResult{Trade: trade, Portfolio: newPortfolio, Position: &newPos}, nil
}

// ExecuteSell re-validates, credits cash net of fee, computes
// realized_pl against avg_price at execution time, destroys the
// position if fully closed, and appends a SELL Trade, all within one
// transaction.
func (e *Engine) ExecuteSell(ctx context.Context, modelID, symbol string, quantity int, at time.Time) (*ExecResult, *domain.Failure) {
	lock := e.lockFor(modelID)
	lock.Lock()
	defer lock.Unlock()

	order := Order{ModelID: modelID, Symbol: symbol, Side: domain.SideSell, Quantity: quantity}
	if f := e.Validate(ctx, order, at); f != nil {
		return nil, f
	}

	bar, ok := e.prices.Get(symbol)
	if !ok {
		return nil, domain.NewFailure(domain.FailureUnknownSymbol, symbol)
	}

	portfolio, err := e.store.GetPortfolio(ctx, modelID)
	if err != nil || portfolio == nil {
		return nil, domain.NewFailure(domain.FailureUnknownSymbol, "portfolio not initialized")
	}

	pos, err := e.store.GetPosition(ctx, modelID, symbol)
	if err != nil || pos == nil {
		return nil, domain.NewFailure(domain.FailureNoPosition, symbol)
	}

	qty := decimal.NewFromInt(int64(quantity))
	proceeds := bar.Close.Mul(qty).Sub(e.fee)
	realizedPL := bar.Close.Sub(pos.AvgPrice).Mul(qty).Sub(e.fee)

	newPortfolio := *portfolio
	newPortfolio.CashBalance = newPortfolio.CashBalance.Add(proceeds)
	newPortfolio.RealizedPL = newPortfolio.RealizedPL.Add(realizedPL)

	remainingQty := pos.Quantity - quantity
	var resultPos *domain.Position
	newPos := *pos
	newPos.Quantity = remainingQty
	newPos.CurrentPrice = bar.Close
	newPos.UpdatedAt = at
	if remainingQty > 0 {
		resultPos = &newPos
	}

	trade := domain.Trade{
		ModelID: modelID, Symbol: symbol, Side: domain.SideSell,
		Quantity: quantity, Price: bar.Close, Fee: e.fee,
		Total: proceeds, Status: domain.TradeStatusFilled, Timestamp: at,
		RealizedPL: &realizedPL,
	}

	txErr := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.SavePortfolioTx(ctx, tx, newPortfolio); err != nil {
			return err
		}
		if remainingQty > 0 {
			if err := e.store.UpsertPositionTx(ctx, tx, newPos); err != nil {
				return err
			}
		} else {
			if err := e.store.DeletePositionTx(ctx, tx, modelID, symbol); err != nil {
				return err
			}
		}
		id, err := e.store.InsertTradeTx(ctx, tx, trade)
		if err != nil {
			return err
		}
		trade.ID = id
		return nil
	})
	if txErr != nil {
		return nil, domain.NewFailure(domain.FailureUnknownSymbol, txErr.Error())
	}

	return &ExecResult{Trade: trade, Portfolio: newPortfolio, Position: resultPos}, nil
}

// Revalue refreshes every position's current_price and unrealized
// P&L from the live price source, then recomputes total_value,
// total_pl, and total_pl_percentage against startingBalance (spec
// §4.7 `revalue`: total_pl = total_value - starting_balance).
func (e *Engine) Revalue(ctx context.Context, modelID string, startingBalance decimal.Decimal) (*domain.Portfolio, error) {
	lock := e.lockFor(modelID)
	lock.Lock()
	defer lock.Unlock()

	portfolio, err := e.store.GetPortfolio(ctx, modelID)
	if err != nil || portfolio == nil {
		return portfolio, err
	}

	positions, err := e.store.ListPositions(ctx, modelID)
	if err != nil {
		return nil, err
	}

	positionsValue := decimal.Zero
	for i := range positions {
		pos := &positions[i]
		if bar, ok := e.prices.Get(pos.Symbol); ok {
			pos.CurrentPrice = bar.Close
		}
		qty := decimal.NewFromInt(int64(pos.Quantity))
		pos.UnrealizedPL = pos.CurrentPrice.Sub(pos.AvgPrice).Mul(qty)
		cost := pos.AvgPrice.Mul(qty)
		if !cost.IsZero() {
			pos.UnrealizedPLPercentage = pos.UnrealizedPL.Div(cost).Mul(decimal.NewFromInt(100))
		}
		positionsValue = positionsValue.Add(pos.CurrentPrice.Mul(qty))
	}

	portfolio.TotalValue = portfolio.CashBalance.Add(positionsValue)
	portfolio.TotalPL = portfolio.TotalValue.Sub(startingBalance)
	if !startingBalance.IsZero() {
		portfolio.TotalPLPercentage = portfolio.TotalPL.Div(startingBalance).Mul(decimal.NewFromInt(100))
	}

	txErr := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		for i := range positions {
			if err := e.store.UpsertPositionTx(ctx, tx, positions[i]); err != nil {
				return err
			}
		}
		return e.store.SavePortfolioTx(ctx, tx, *portfolio)
	})
	if txErr != nil {
		return nil, txErr
	}
	return portfolio, nil
}

// Metrics aggregates total_trades, winning/losing closed-position
// counts (by realized_pl sign), win_rate, total_fees_paid, and ROI.
func (e *Engine) Metrics(ctx context.Context, modelID string, startingBalance decimal.Decimal) (Metrics, error) {
	trades, err := e.store.ListTrades(ctx, modelID, 0, 0)
	if err != nil {
		return Metrics{}, err
	}

	var m Metrics
	for _, t := range trades {
		m.TotalTrades++
		m.TotalFeesPaid = m.TotalFeesPaid.Add(t.Fee)
		if t.RealizedPL != nil {
			if t.RealizedPL.IsPositive() {
				m.WinningTrades++
			} else if t.RealizedPL.IsNegative() {
				m.LosingTrades++
			}
		}
	}
	closed := m.WinningTrades + m.LosingTrades
	if closed > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(closed)
	}

	portfolio, err := e.store.GetPortfolio(ctx, modelID)
	if err == nil && portfolio != nil && !startingBalance.IsZero() {
		m.ROI = portfolio.TotalValue.Sub(startingBalance).Div(startingBalance).Mul(decimal.NewFromInt(100))
	}
	return m, nil
}
