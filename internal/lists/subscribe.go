package lists

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/realtime"
	"go.uber.org/zap"
)

var errNoChangeSource = errors.New("no change source configured")

// SubscribeUserLists delivers the current snapshot of the user's lists and a fresh
// snapshot after every committed change. The channel is closed once cancel is called or
// ctx ends. Each delivered snapshot is read in a single transaction, so it never shows a
// partially applied move.
func (s *Service) SubscribeUserLists(ctx context.Context, userID UserID) (<-chan ListsSnapshot, func(), error) {
	if err := s.ready(opSubscribeUserLists, ErrLookup, messageLoadLists); err != nil {
		return nil, nil, err
	}
	if userID == "" {
		return nil, nil, s.fail(ErrInvalidInput, opSubscribeUserLists, reasonInvalidUserID, messageInvalidInput, ErrInvalidUserID)
	}

	subscriptionCtx, cancel := context.WithCancel(ctx)
	signals, err := s.changeSignals(subscriptionCtx, userID)
	if err != nil {
		cancel()
		return nil, nil, s.fail(ErrLookup, opSubscribeUserLists, reasonSubscribeFailed, messageLoadLists, err,
			zap.String(fieldUserID, userID.String()))
	}
	initial, err := s.GetUserLists(subscriptionCtx, userID)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	snapshots := make(chan ListsSnapshot, 1)
	snapshots <- initial
	go func() {
		defer close(snapshots)
		for {
			select {
			case <-subscriptionCtx.Done():
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
				snapshot, err := s.GetUserLists(subscriptionCtx, userID)
				if err != nil {
					if subscriptionCtx.Err() != nil {
						return
					}
					continue
				}
				select {
				case snapshots <- snapshot:
				case <-subscriptionCtx.Done():
					return
				}
			}
		}
	}()
	return snapshots, cancel, nil
}

// changeSignals prefers the push notifications of the store and falls back to the
// in-process dispatcher.
func (s *Service) changeSignals(ctx context.Context, userID UserID) (<-chan struct{}, error) {
	if watcher, ok := s.store.(ChangeWatcher); ok {
		return watcher.WatchLists(ctx, userID)
	}
	if s.dispatcher == nil {
		return nil, errNoChangeSource
	}
	messages, _ := s.dispatcher.Subscribe(ctx, userID.String())
	s.loggerOrDefault().Debug("lists subscription opened",
		zap.String(fieldUserID, userID.String()),
		zap.Int("subscribers", s.dispatcher.SubscriberCount(userID.String())))
	signals := make(chan struct{}, 1)
	go func() {
		defer close(signals)
		for message := range messages {
			if message.EventType != realtime.EventListsChanged {
				continue
			}
			select {
			case signals <- struct{}{}:
			default:
			}
		}
	}()
	return signals, nil
}
