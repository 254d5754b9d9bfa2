package server

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/studyloop/feedengine/model"
)

// SignalChannels contains all structures that handle user's signal channel.
// All internal state should not be handled directly by hand but managed by its
// public receivers.
type SignalChannels struct {
	// connectionMap maps from user id to the user's active signal channels.
	// User's active channels are represented in the form of a map from channel
	// id (uuid) to the actual channel. This is needed so that deletion of channel
	// is O(1).
	// Each connectionMap entry will be deleted once all user's active channels
	// are closed.
	// Multiple user's devices cannot share the same channel and each has to
	// create its own unique channel.
	connectionMap map[string]map[string]chan *model.Signal

	// Adding/Removing a new subscription must grab WriteLock, while all other
	// usage (e.g. pushing a new Signal) should grab a ReadLock.
	mu sync.RWMutex
}

func NewSignalChannels() *SignalChannels {
	return &SignalChannels{
		connectionMap: make(map[string]map[string]chan *model.Signal),
		mu:            sync.RWMutex{},
	}
}

// cleanUp a single connection when the context terminates. If a user's all
// active connections terminate, clean up the user's top-level entry as well.
func (sc *SignalChannels) cleanUp(ctx context.Context, chId string, userId string) {
	<-ctx.Done()

	sc.mu.Lock()
	defer sc.mu.Unlock()

	delete(sc.connectionMap[userId], chId)
	if len(sc.connectionMap[userId]) == 0 {
		delete(sc.connectionMap, userId)
	}
}

// Thread-safe
func (sc *SignalChannels) AddNewConnection(ctx context.Context, userId string) (chan *model.Signal, string) {
	chId := "signal_channel_" + uuid.New().String()
	ch := make(chan *model.Signal, 16)

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if _, ok := sc.connectionMap[userId]; !ok {
		sc.connectionMap[userId] = make(map[string]chan *model.Signal)
	}

	sc.connectionMap[userId][chId] = ch

	// Spin up a background garbage collector.
	go sc.cleanUp(ctx, chId, userId)

	return ch, chId
}

// Thread-safe
func (sc *SignalChannels) GetActiveConnectionsCount() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	count := 0
	for _, mp := range sc.connectionMap {
		count += len(mp)
	}
	return count
}

// PushSignalToUser fans the signal out to every active channel of the user.
// A slow or dead consumer must not stall the engine goroutine pushing the
// signal, so a full channel is skipped; signals are hints, not deliveries.
// Thread-safe
func (sc *SignalChannels) PushSignalToUser(signal *model.Signal, userId string) error {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	if _, ok := sc.connectionMap[userId]; !ok {
		return errors.New("no active connection for user: " + userId)
	}
	userChannels := sc.connectionMap[userId]
	for _, ch := range userChannels {
		select {
		case ch <- signal:
		default:
		}
	}
	return nil
}

// Thread-safe
func (sc *SignalChannels) PushSignalToSingleChannelForUser(signal *model.Signal, chId string, userId string) error {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	if _, ok := sc.connectionMap[userId]; !ok {
		return errors.New("no active connection for user: " + userId)
	}

	userChannels := sc.connectionMap[userId]
	if ch, ok := userChannels[chId]; ok {
		select {
		case ch <- signal:
		default:
		}
	}

	return nil
}
