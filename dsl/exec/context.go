package exec

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/strataquant/dslengine/series"
)

// CommandSide distinguishes trading commands emitted by a script.
type CommandSide string

const (
	SideBuy      CommandSide = "BUY"
	SideSell     CommandSide = "SELL"
	SideCloseAll CommandSide = "CLOSE_ALL"
)

// TradeCommand is one order intent recorded during execution. Quantities are
// decimals: scripts deal in floats, but order plumbing downstream must not.
type TradeCommand struct {
	Side     CommandSide     `json:"side"`
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	Comment  string          `json:"comment,omitempty"`
	At       time.Time       `json:"at"`
}

// Plot is a named series the script asked to chart.
type Plot struct {
	Name   string         `json:"name"`
	Series *series.Series `json:"-"`
}

// ExecutionContext carries everything one run reads and writes: the input
// table, parameters, portfolio snapshot, and the outputs (commands, plots,
// persistent state). Safe for the single-threaded VM plus observer reads
// after the run.
type ExecutionContext struct {
	mu sync.Mutex

	Symbol    string
	Timeframe string
	Frame     *series.Frame
	Params    map[string]any

	equity   decimal.Decimal
	cash     decimal.Decimal
	position decimal.Decimal

	now time.Time

	commands []TradeCommand
	plots    []Plot
	state    map[string]any
}

// ContextOption configures an ExecutionContext.
type ContextOption func(*ExecutionContext)

// WithSymbol sets the instrument the script runs against.
func WithSymbol(symbol string) ContextOption {
	return func(c *ExecutionContext) { c.Symbol = strings.TrimSpace(symbol) }
}

// WithTimeframe sets the bar interval label, e.g. "1h".
func WithTimeframe(tf string) ContextOption {
	return func(c *ExecutionContext) { c.Timeframe = strings.TrimSpace(tf) }
}

// WithPortfolio seeds the portfolio snapshot visible to the script.
func WithPortfolio(equity, cash, position decimal.Decimal) ContextOption {
	return func(c *ExecutionContext) {
		c.equity = equity
		c.cash = cash
		c.position = position
	}
}

// WithState seeds persistent variables from a previous run.
func WithState(state map[string]any) ContextOption {
	return func(c *ExecutionContext) {
		for k, v := range state {
			c.state[k] = v
		}
	}
}

// WithClock fixes the timestamp stamped on trade commands.
func WithClock(now time.Time) ContextOption {
	return func(c *ExecutionContext) { c.now = now }
}

// NewContext builds an execution context over the given market data.
func NewContext(frame *series.Frame, params map[string]any, opts ...ContextOption) *ExecutionContext {
	c := &ExecutionContext{
		Frame:  frame,
		Params: params,
		state:  make(map[string]any),
		now:    time.Now().UTC(),
	}
	if c.Params == nil {
		c.Params = map[string]any{}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *ExecutionContext) record(cmd TradeCommand) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, cmd)
}

func (c *ExecutionContext) buy(qty float64, comment string) {
	c.record(TradeCommand{
		Side:     SideBuy,
		Symbol:   c.Symbol,
		Quantity: decimal.NewFromFloat(qty),
		Comment:  comment,
		At:       c.now,
	})
}

func (c *ExecutionContext) sell(qty float64, comment string) {
	c.record(TradeCommand{
		Side:     SideSell,
		Symbol:   c.Symbol,
		Quantity: decimal.NewFromFloat(qty),
		Comment:  comment,
		At:       c.now,
	})
}

func (c *ExecutionContext) closeAll(comment string) {
	c.record(TradeCommand{
		Side:    SideCloseAll,
		Symbol:  c.Symbol,
		Comment: comment,
		At:      c.now,
	})
}

func (c *ExecutionContext) addPlot(name string, s *series.Series) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plots = append(c.plots, Plot{Name: name, Series: s})
}

func (c *ExecutionContext) getState(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.state[key]
	return v, ok
}

func (c *ExecutionContext) setState(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[key] = v
}

// Commands returns the trade commands recorded during the run.
func (c *ExecutionContext) Commands() []TradeCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TradeCommand, len(c.commands))
	copy(out, c.commands)
	return out
}

// Plots returns the charts the script registered.
func (c *ExecutionContext) Plots() []Plot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Plot, len(c.plots))
	copy(out, c.plots)
	return out
}

// State returns a copy of the persistent variables after the run.
func (c *ExecutionContext) State() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.state))
	for k, v := range c.state {
		out[k] = v
	}
	return out
}

// Equity returns the seeded account equity.
func (c *ExecutionContext) Equity() decimal.Decimal { return c.equity }

// Cash returns the seeded free cash.
func (c *ExecutionContext) Cash() decimal.Decimal { return c.cash }

// Position returns the seeded open position size.
func (c *ExecutionContext) Position() decimal.Decimal { return c.position }
