package orderbook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mselser95/binary-arb/pkg/types"
	"go.uber.org/zap"
)

// Start starts ingesting feed messages, if a message channel was configured.
func (s *Store) Start(ctx context.Context) error {
	s.ctx = ctx
	s.logger.Info("orderbook-store-starting",
		zap.Duration("staleness", s.staleness))

	if s.msgChan == nil {
		return nil
	}

	s.wg.Add(1)
	go s.processMessages()

	return nil
}

func (s *Store) processMessages() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("orderbook-store-stopping")
			return
		case msg, ok := <-s.msgChan:
			if !ok {
				s.logger.Info("message-channel-closed")
				return
			}

			err := s.HandleMessage(msg)
			if err == nil {
				continue
			}
			if errors.Is(err, ErrOutOfOrder) || errors.Is(err, ErrPredatesSnapshot) || errors.Is(err, ErrUnknownToken) {
				s.logger.Debug("orderbook-message-dropped",
					zap.String("event-type", msg.EventType),
					zap.String("asset-id", msg.AssetID),
					zap.Error(err))
				continue
			}
			s.logger.Warn("handle-message-error",
				zap.Error(err),
				zap.String("event-type", msg.EventType),
				zap.String("asset-id", msg.AssetID))
		}
	}
}

// HandleMessage converts a feed message into book events and applies them.
func (s *Store) HandleMessage(msg *types.OrderbookMessage) error {
	events, err := s.toEvents(msg)
	if err != nil {
		return err
	}

	var errs []error
	for i := range events {
		if err := s.Apply(events[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) toEvents(msg *types.OrderbookMessage) ([]types.BookEvent, error) {
	seq := msg.Timestamp
	if seq == 0 {
		seq = s.now().UnixMilli()
	}

	switch msg.EventType {
	case "book":
		bids, err := types.ParseLevels(msg.Bids)
		if err != nil {
			return nil, fmt.Errorf("parse bids: %w", err)
		}
		asks, err := types.ParseLevels(msg.Asks)
		if err != nil {
			return nil, fmt.Errorf("parse asks: %w", err)
		}
		return []types.BookEvent{{
			Kind:     types.BookSnapshot,
			Sequence: seq,
			Books:    []types.TokenBook{{TokenID: msg.AssetID, Bids: bids, Asks: asks}},
		}}, nil

	case "price_change":
		events := make([]types.BookEvent, 0, len(msg.PriceChanges))
		for _, pc := range msg.PriceChanges {
			price, err := strconv.ParseFloat(pc.Price, 64)
			if err != nil {
				return nil, fmt.Errorf("parse price change price: %w", err)
			}
			size, err := strconv.ParseFloat(pc.Size, 64)
			if err != nil {
				return nil, fmt.Errorf("parse price change size: %w", err)
			}
			side := types.BookBid
			if pc.Side == string(types.SideSell) {
				side = types.BookAsk
			}
			events = append(events, types.BookEvent{
				Kind:     types.BookDelta,
				Sequence: seq,
				TokenID:  pc.AssetID,
				Side:     side,
				Price:    price,
				Size:     size,
			})
		}
		return events, nil

	case "tick_size_change":
		if s.onTickSize != nil && msg.NewTickSize != "" {
			tick, err := strconv.ParseFloat(msg.NewTickSize, 64)
			if err != nil {
				return nil, fmt.Errorf("parse tick size: %w", err)
			}
			s.onTickSize(msg.AssetID, tick)
		}
		return nil, nil

	default:
		// last_trade_price and friends carry no book state
		return nil, nil
	}
}

// SnapshotFromBook converts a REST book into a snapshot event.
func SnapshotFromBook(book *types.BookResponse, fallback time.Time) (types.BookEvent, error) {
	bids, err := types.ParseLevels(book.Bids)
	if err != nil {
		return types.BookEvent{}, fmt.Errorf("parse bids: %w", err)
	}
	asks, err := types.ParseLevels(book.Asks)
	if err != nil {
		return types.BookEvent{}, fmt.Errorf("parse asks: %w", err)
	}

	seq := fallback.UnixMilli()
	if book.Timestamp != "" {
		if ts, err := strconv.ParseInt(book.Timestamp, 10, 64); err == nil {
			seq = ts
		}
	}

	return types.BookEvent{
		Kind:     types.BookSnapshot,
		Sequence: seq,
		Books:    []types.TokenBook{{TokenID: book.AssetID, Bids: bids, Asks: asks}},
	}, nil
}

// Close waits for ingestion to stop.
func (s *Store) Close() error {
	s.logger.Info("closing-orderbook-store")
	s.wg.Wait()
	s.logger.Info("orderbook-store-closed")
	return nil
}
