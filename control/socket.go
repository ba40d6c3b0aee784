package control

import (
	"context"
	"encoding/json"

	"github.com/olahol/melody"

	"github.com/jdginn/antidrift/relay"
)

const sampleBuffer = 64

// initMelody sets up the websocket handler. Clients only listen; anything they send is logged and dropped.
func (s *Server) initMelody() {
	s.melody = melody.New()

	s.melody.HandleConnect(func(ms *melody.Session) {
		s.log.Info("Websocket connected", "remote", ms.Request.RemoteAddr)
	})

	s.melody.HandleMessage(func(ms *melody.Session, msg []byte) {
		s.log.Debug("Websocket message ignored", "remote", ms.Request.RemoteAddr, "bytes", len(msg))
	})

	s.melody.HandleDisconnect(func(ms *melody.Session) {
		s.log.Info("Websocket disconnected", "remote", ms.Request.RemoteAddr)
	})

	s.melody.HandleError(func(ms *melody.Session, err error) {
		s.log.Warn("Websocket error", "remote", ms.Request.RemoteAddr, "error", err)
	})
}

// startBroadcast subscribes to the relay's samples and relays each one to all websocket clients until ctx is
// done. Samples that arrive while the buffer is full are dropped by the relay.
func (s *Server) startBroadcast(ctx context.Context) {
	samples := make(chan relay.Sample, sampleBuffer)
	sub := s.relay.SubscribeSamples(samples)

	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case sample := <-samples:
				if s.melody.Len() == 0 {
					continue
				}
				b, err := json.Marshal(sample)
				if err != nil {
					s.log.Error("Failed to marshal sample", "error", err)
					continue
				}
				if err := s.melody.Broadcast(b); err != nil {
					s.log.Warn("Failed to broadcast sample", "error", err)
				}
			case err := <-sub.Err():
				if err != nil {
					s.log.Error("Sample subscription failed", "error", err)
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}
