package orderbook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nftrouter/planner-core/pkg/planner"
)

// PostgresReader implements Reader against the read-only order/token/
// collection index tables, using a pgxpool connection pool the way
// leanlp-BTC-coinjoin's internal/db/postgres.go wraps pgxpool.Pool.
type PostgresReader struct {
	pool *pgxpool.Pool
}

// Connect opens a pooled connection to the order index database.
func Connect(ctx context.Context, dsn string) (*PostgresReader, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("orderbook: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("orderbook: ping: %w", err)
	}
	return &PostgresReader{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (r *PostgresReader) Close() {
	r.pool.Close()
}

func (r *PostgresReader) OrdersForToken(ctx context.Context, contract common.Address, tokenID string, f OrderFilter) ([]*planner.Order, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT order_id, kind, maker, currency, native_price, price,
		       quantity_remaining, fillability_status, approval_status, raw_data,
		       built_in_fees, missing_royalties, pool_id, is_opensea_erc721,
		       is_native_off_chain_cancellable
		FROM orders
		WHERE contract = $1 AND token_id = $2
		  AND fillability_status = 'fillable'
		  AND approval_status = 'approved'
		  AND maker != $3
		ORDER BY price ASC
		LIMIT $4`

	rows, err := r.pool.Query(ctx, query, contract.Hex(), tokenID, f.Taker.Hex(), limit)
	if err != nil {
		return nil, fmt.Errorf("orderbook: orders for token: %w", err)
	}
	defer rows.Close()

	var out []*planner.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		if excluded(o, f) {
			continue
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orderbook: orders for token: %w", err)
	}

	sortCandidates(out, true, "")
	return out, nil
}

func (r *PostgresReader) OrderByID(ctx context.Context, orderID string) (*planner.Order, error) {
	query := `
		SELECT order_id, kind, maker, currency, native_price, price,
		       quantity_remaining, fillability_status, approval_status, raw_data,
		       built_in_fees, missing_royalties, pool_id, is_opensea_erc721,
		       is_native_off_chain_cancellable
		FROM orders WHERE order_id = $1`
	row := r.pool.QueryRow(ctx, query, orderID)
	o, err := scanOrder(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("orderbook: order %s: %w", orderID, err)
		}
		return nil, fmt.Errorf("orderbook: order by id: %w", err)
	}
	return o, nil
}

func (r *PostgresReader) CheapestTokensInCollection(ctx context.Context, collection common.Address, n int) ([]string, error) {
	query := `
		SELECT token_id FROM tokens
		WHERE collection = $1 AND floor_sell_value IS NOT NULL
		ORDER BY floor_sell_value ASC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, collection.Hex(), n)
	if err != nil {
		return nil, fmt.Errorf("orderbook: cheapest tokens: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tokenID string
		if err := rows.Scan(&tokenID); err != nil {
			return nil, fmt.Errorf("orderbook: cheapest tokens scan: %w", err)
		}
		out = append(out, tokenID)
	}
	return out, rows.Err()
}

func (r *PostgresReader) OpenMints(ctx context.Context, collection common.Address, stage string, tokenID *string) ([]*planner.Mint, error) {
	query := `
		SELECT collection, contract, token_id, currency, price, stage, max_per_wallet, allowlist
		FROM mints
		WHERE collection = $1 AND status = 'open'
		  AND ($2 = '' OR stage = $2)
		  AND ($3::text IS NULL OR token_id = $3)`
	rows, err := r.pool.Query(ctx, query, collection.Hex(), stage, tokenID)
	if err != nil {
		return nil, fmt.Errorf("orderbook: open mints: %w", err)
	}
	defer rows.Close()

	var out []*planner.Mint
	for rows.Next() {
		m := &planner.Mint{}
		var contractHex, currencyHex string
		var tid *string
		var maxPerWallet *int64
		if err := rows.Scan(&m.Collection, &contractHex, &tid, &currencyHex, &m.Price, &m.Stage, &maxPerWallet, &m.Allowlist); err != nil {
			return nil, fmt.Errorf("orderbook: open mints scan: %w", err)
		}
		m.Contract = common.HexToAddress(contractHex)
		m.Currency = common.HexToAddress(currencyHex)
		m.TokenID = tid
		if maxPerWallet != nil {
			u := uint64(*maxPerWallet)
			m.MaxPerWallet = &u
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresReader) MintableByWallet(ctx context.Context, m *planner.Mint, wallet common.Address) (uint64, error) {
	if m.MaxPerWallet == nil {
		return ^uint64(0), nil
	}
	var minted int64
	query := `SELECT COALESCE(SUM(quantity), 0) FROM mint_receipts WHERE contract = $1 AND wallet = $2`
	if err := r.pool.QueryRow(ctx, query, m.Contract.Hex(), wallet.Hex()).Scan(&minted); err != nil {
		return 0, fmt.Errorf("orderbook: mintable by wallet: %w", err)
	}
	cap := *m.MaxPerWallet
	if uint64(minted) >= cap {
		return 0, nil
	}
	return cap - uint64(minted), nil
}

func (r *PostgresReader) MakerBalance(ctx context.Context, maker, contract common.Address, tokenID string) (uint64, error) {
	var balance int64
	query := `SELECT balance FROM nft_balances WHERE owner = $1 AND contract = $2 AND token_id = $3`
	err := r.pool.QueryRow(ctx, query, maker.Hex(), contract.Hex(), tokenID).Scan(&balance)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("orderbook: maker balance: %w", err)
	}
	return uint64(balance), nil
}

func (r *PostgresReader) CurrencyMetadata(ctx context.Context, currency common.Address) (string, int, error) {
	var symbol string
	var decimals int
	query := `SELECT symbol, decimals FROM currencies WHERE address = $1`
	if err := r.pool.QueryRow(ctx, query, currency.Hex()).Scan(&symbol, &decimals); err != nil {
		return "", 0, fmt.Errorf("orderbook: currency metadata: %w", err)
	}
	return symbol, decimals, nil
}

func (r *PostgresReader) PoolPrices(ctx context.Context, poolID string) ([]string, error) {
	query := `
		SELECT price FROM pool_price_curve
		WHERE pool_id = $1
		ORDER BY sequence ASC`
	rows, err := r.pool.Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("orderbook: pool prices: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var price string
		if err := rows.Scan(&price); err != nil {
			return nil, fmt.Errorf("orderbook: pool prices scan: %w", err)
		}
		out = append(out, price)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orderbook: pool prices: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("orderbook: pool %q has no published price curve", poolID)
	}
	return out, nil
}

func (r *PostgresReader) IngestRawOrder(ctx context.Context, raw []byte) (string, error) {
	var orderID string
	query := `INSERT INTO orders (raw_data) VALUES ($1) RETURNING order_id`
	if err := r.pool.QueryRow(ctx, query, raw).Scan(&orderID); err != nil {
		return "", fmt.Errorf("orderbook: ingest raw order: %w", err)
	}
	return orderID, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*planner.Order, error) {
	o := &planner.Order{}
	var makerHex, currencyHex string
	var builtInFeesJSON, missingRoyaltiesJSON []byte
	var poolID *string
	if err := row.Scan(
		&o.OrderID, &o.Kind, &makerHex, &currencyHex, &o.NativePrice, &o.Price,
		&o.QuantityRemaining, &o.FillabilityStatus, &o.ApprovalStatus, &o.RawData,
		&builtInFeesJSON, &missingRoyaltiesJSON, &poolID, &o.IsOpenseaERC721,
		&o.IsNativeOffChainCancellable,
	); err != nil {
		return nil, err
	}
	o.Maker = common.HexToAddress(makerHex)
	o.Currency = common.HexToAddress(currencyHex)
	o.Side = planner.Sell
	if poolID != nil {
		o.PoolID = *poolID
	}
	if len(builtInFeesJSON) > 0 {
		if err := json.Unmarshal(builtInFeesJSON, &o.BuiltInFees); err != nil {
			return nil, fmt.Errorf("orderbook: decode built_in_fees for %s: %w", o.OrderID, err)
		}
	}
	if len(missingRoyaltiesJSON) > 0 {
		if err := json.Unmarshal(missingRoyaltiesJSON, &o.MissingRoyalties); err != nil {
			return nil, fmt.Errorf("orderbook: decode missing_royalties for %s: %w", o.OrderID, err)
		}
	}
	return o, nil
}

func excluded(o *planner.Order, f OrderFilter) bool {
	if f.ExcludeBlur && o.Kind == planner.KindBlur {
		return true
	}
	if f.ExactSource != "" && string(o.Kind) != f.ExactSource {
		return true
	}
	for _, ex := range f.Exclusions {
		if o.OrderID == ex {
			return true
		}
	}
	return false
}
