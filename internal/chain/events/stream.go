package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/linktum-network/matrix-service/pkg/logger"
)

// Stream subscribes to matrix contract logs over an EVM websocket endpoint
// and delivers decoded events on a channel. It reconnects with backoff when
// the socket drops; duplicates across reconnects are possible and accepted.
type Stream struct {
	wsURL    string
	contract common.Address
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	out chan Event
}

// NewStream creates a stream for the matrix contract at the given websocket
// endpoint.
func NewStream(wsURL string, contract common.Address, log *logger.Logger) *Stream {
	if log == nil {
		log = logger.NewDefault("chain-events")
	}
	return &Stream{
		wsURL:    wsURL,
		contract: contract,
		log:      log,
		out:      make(chan Event, 64),
	}
}

// Events returns the decoded event channel. It is closed when the stream
// stops.
func (s *Stream) Events() <-chan Event { return s.out }

// Start launches the subscription loop.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.wsURL == "" {
		return fmt.Errorf("websocket URL required")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.out)
		s.run(runCtx)
	}()
	return nil
}

// Stop terminates the subscription loop and waits for it to exit.
func (s *Stream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Stream) run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.subscribeOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Warn("event subscription dropped, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

// subscribeOnce dials the endpoint, issues eth_subscribe for the contract's
// logs and pumps notifications until the connection fails.
func (s *Stream) subscribeOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.wsURL, err)
	}
	defer conn.Close()

	sub := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params": []interface{}{
			"logs",
			map[string]interface{}{"address": s.contract.Hex()},
		},
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		body := gjson.ParseBytes(msg)
		if subErr := body.Get("error"); subErr.Exists() {
			return fmt.Errorf("subscription error: %s", subErr.Get("message").String())
		}
		result := body.Get("params.result")
		if !result.Exists() || !result.IsObject() {
			// Subscription id ack or keepalive.
			continue
		}

		ev, err := decodeLog(result, time.Now().UTC())
		if err != nil {
			if err != errUnknownTopic {
				s.log.WithError(err).Debug("skipping undecodable log")
			}
			continue
		}

		select {
		case s.out <- ev:
		case <-ctx.Done():
			return nil
		default:
			// Consumer is behind; views re-derive from reads anyway, so
			// dropping is safe.
			s.log.WithField("type", string(ev.Type)).Warn("event buffer full, dropping")
		}
	}
}
