package binance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/cyclebot/internal/execution"
)

// Broker places live spot market orders
// ⭐ SSOT: 실거래 주문은 이 브로커에서만
type Broker struct {
	client *Client

	lotMu sync.Mutex
	lots  map[string]lotSize
}

type lotSize struct {
	step   decimal.Decimal
	minQty decimal.Decimal
}

var _ execution.Broker = (*Broker)(nil)

// NewBroker creates a live broker on top of client
func NewBroker(client *Client) *Broker {
	return &Broker{
		client: client,
		lots:   make(map[string]lotSize),
	}
}

// Price returns the REST last price
func (b *Broker) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return b.client.Price(ctx, symbol)
}

// Buy spends notional quote currency with a quote-quantity market order
func (b *Broker) Buy(ctx context.Context, symbol string, notional decimal.Decimal) (*execution.BuyResult, error) {
	if !notional.IsPositive() {
		return nil, fmt.Errorf("notional must be positive, got %s", notional)
	}

	ctx, cancel := context.WithTimeout(ctx, b.client.orderTimeout)
	defer cancel()

	if err := b.client.wait(ctx); err != nil {
		return nil, err
	}

	symbol = strings.ToUpper(symbol)
	res, err := b.client.api.NewCreateOrderService().
		Symbol(symbol).
		Side(gobinance.SideTypeBuy).
		Type(gobinance.OrderTypeMarket).
		QuoteOrderQty(notional.String()).
		NewClientOrderID(newClientOrderID("buy")).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("create buy order: %w", err)
	}

	qty, quote, err := parseFill(res.ExecutedQuantity, res.CummulativeQuoteQuantity)
	if err != nil {
		return nil, err
	}
	if !qty.IsPositive() {
		return nil, fmt.Errorf("buy order %d not filled (status %s)", res.OrderID, res.Status)
	}

	b.client.logger.WithFields(map[string]interface{}{
		"symbol":   symbol,
		"order_id": res.OrderID,
		"qty":      qty.String(),
		"quote":    quote.String(),
	}).Info("Market buy filled")

	return &execution.BuyResult{
		OrderID:     fmt.Sprintf("%d", res.OrderID),
		ExecutedQty: qty,
		AvgPrice:    quote.Div(qty),
		QuoteSpent:  quote,
		FilledAt:    transactTime(res.TransactTime),
	}, nil
}

// Sell market-sells the full free balance of the base asset, rounded down to LOT_SIZE
func (b *Broker) Sell(ctx context.Context, symbol string) (*execution.SellResult, error) {
	ctx, cancel := context.WithTimeout(ctx, b.client.orderTimeout)
	defer cancel()

	symbol = strings.ToUpper(symbol)
	asset, err := b.client.baseAsset(symbol)
	if err != nil {
		return nil, err
	}

	free, err := b.freeBalance(ctx, asset)
	if err != nil {
		return nil, err
	}

	lot, err := b.lotSize(ctx, symbol)
	if err != nil {
		return nil, err
	}

	qty := roundToStep(free, lot.step)
	if !qty.IsPositive() || qty.LessThan(lot.minQty) {
		return nil, fmt.Errorf("free balance %s %s below minimum lot %s", free, asset, lot.minQty)
	}

	if err := b.client.wait(ctx); err != nil {
		return nil, err
	}

	res, err := b.client.api.NewCreateOrderService().
		Symbol(symbol).
		Side(gobinance.SideTypeSell).
		Type(gobinance.OrderTypeMarket).
		Quantity(qty.String()).
		NewClientOrderID(newClientOrderID("sell")).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("create sell order: %w", err)
	}

	executed, proceeds, err := parseFill(res.ExecutedQuantity, res.CummulativeQuoteQuantity)
	if err != nil {
		return nil, err
	}
	if !executed.IsPositive() {
		return nil, fmt.Errorf("sell order %d not filled (status %s)", res.OrderID, res.Status)
	}

	b.client.logger.WithFields(map[string]interface{}{
		"symbol":   symbol,
		"order_id": res.OrderID,
		"qty":      executed.String(),
		"proceeds": proceeds.String(),
	}).Info("Market sell filled")

	return &execution.SellResult{
		OrderID:     fmt.Sprintf("%d", res.OrderID),
		ExecutedQty: executed,
		ProceedsUSD: proceeds,
		FilledAt:    transactTime(res.TransactTime),
	}, nil
}

func (b *Broker) freeBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	if err := b.client.wait(ctx); err != nil {
		return decimal.Zero, err
	}

	account, err := b.client.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get account: %w", err)
	}

	for _, bal := range account.Balances {
		if !strings.EqualFold(bal.Asset, asset) {
			continue
		}
		free, err := decimal.NewFromString(bal.Free)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse %s balance %q: %w", asset, bal.Free, err)
		}
		return free, nil
	}
	return decimal.Zero, nil
}

func (b *Broker) lotSize(ctx context.Context, symbol string) (lotSize, error) {
	b.lotMu.Lock()
	lot, ok := b.lots[symbol]
	b.lotMu.Unlock()
	if ok {
		return lot, nil
	}

	if err := b.client.wait(ctx); err != nil {
		return lotSize{}, err
	}

	info, err := b.client.api.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return lotSize{}, fmt.Errorf("exchange info %s: %w", symbol, err)
	}

	for i := range info.Symbols {
		if info.Symbols[i].Symbol != symbol {
			continue
		}
		if f := info.Symbols[i].LotSizeFilter(); f != nil {
			lot.step, _ = decimal.NewFromString(f.StepSize)
			lot.minQty, _ = decimal.NewFromString(f.MinQuantity)
		}
		break
	}

	b.lotMu.Lock()
	b.lots[symbol] = lot
	b.lotMu.Unlock()

	return lot, nil
}

// roundToStep floors qty to a multiple of step (step <= 0 leaves qty as is)
func roundToStep(qty, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

func parseFill(qtyStr, quoteStr string) (decimal.Decimal, decimal.Decimal, error) {
	qty, err := decimal.NewFromString(qtyStr)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("parse executed qty %q: %w", qtyStr, err)
	}
	quote, err := decimal.NewFromString(quoteStr)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("parse quote qty %q: %w", quoteStr, err)
	}
	return qty, quote, nil
}

func transactTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

// newClientOrderID: Binance 는 36자 이하, [a-zA-Z0-9-_] 만 허용
func newClientOrderID(side string) string {
	return "cb-" + side + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
