// Package dvm implements the optional event-bus query surface: a NIP-90
// responder that answers distance requests published to the same relays
// the graph is harvested from.
package dvm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/starford/othala/internal/oracle"
)

const (
	requestKind  = 5950
	responseKind = 6950

	reconnectBase = time.Second
	reconnectMax  = time.Minute
)

// Service subscribes to distance request events and publishes signed
// responses.
type Service struct {
	svc        *oracle.Service
	relays     []string
	privateKey string
	publicKey  string
	logger     *slog.Logger
}

// New creates a responder signing with privateKey (hex).
func New(svc *oracle.Service, relays []string, privateKey string, logger *slog.Logger) (*Service, error) {
	pub, err := nostr.GetPublicKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("dvm: derive public key: %w", err)
	}
	logger.Info("dvm: responder identity", slog.String("pubkey", pub))
	return &Service{
		svc:        svc,
		relays:     relays,
		privateKey: privateKey,
		publicKey:  pub,
		logger:     logger,
	}, nil
}

// Run serves requests until ctx is cancelled. Each relay connection is
// independent and reconnects with exponential backoff.
func (s *Service) Run(ctx context.Context) error {
	for _, url := range s.relays {
		go s.serveRelay(ctx, url)
	}
	<-ctx.Done()
	return nil
}

func (s *Service) serveRelay(ctx context.Context, url string) {
	backoff := reconnectBase
	for ctx.Err() == nil {
		err := s.consume(ctx, url)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("dvm: relay error",
				slog.String("relay", url),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (s *Service) consume(ctx context.Context, url string) error {
	relay, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return fmt.Errorf("dvm: connect %s: %w", url, err)
	}
	defer relay.Close()

	since := nostr.Now()
	sub, err := relay.Subscribe(ctx, nostr.Filters{{
		Kinds: []int{requestKind},
		Since: &since,
	}})
	if err != nil {
		return fmt.Errorf("dvm: subscribe %s: %w", url, err)
	}
	defer sub.Unsub()

	s.logger.Info("dvm: listening", slog.String("relay", url), slog.Int("kind", requestKind))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events:
			if !ok {
				return fmt.Errorf("dvm: subscription closed by %s", url)
			}
			if ev == nil || ev.Kind != requestKind {
				continue
			}
			if err := s.handleRequest(ctx, relay, ev); err != nil {
				s.logger.Warn("dvm: request failed",
					slog.String("event", ev.ID),
					slog.String("error", err.Error()))
			}
		}
	}
}

// parseRequest extracts (from, to, maxHops) from NIP-90 tags: either two
// "i" input tags with one pubkey each, or a single "from:to" pair, plus an
// optional max_hops param.
func parseRequest(ev *nostr.Event) (from, to string, maxHops int, err error) {
	var inputs []string
	for _, tag := range ev.Tags {
		switch {
		case len(tag) >= 3 && tag[0] == "i" && tag[2] == "text":
			if pair := strings.SplitN(tag[1], ":", 2); len(pair) == 2 {
				inputs = append(inputs, pair[0], pair[1])
			} else {
				inputs = append(inputs, tag[1])
			}
		case len(tag) >= 3 && tag[0] == "param" && tag[1] == "max_hops":
			if n, convErr := strconv.Atoi(tag[2]); convErr == nil {
				maxHops = n
			}
		}
	}
	if len(inputs) != 2 {
		return "", "", 0, fmt.Errorf("dvm: expected 2 input pubkeys, got %d", len(inputs))
	}
	return inputs[0], inputs[1], maxHops, nil
}

func (s *Service) handleRequest(ctx context.Context, relay *nostr.Relay, req *nostr.Event) error {
	var content any

	from, to, maxHops, err := parseRequest(req)
	if err == nil {
		var result *oracle.DistanceResult
		result, err = s.svc.Distance(ctx, oracle.DistanceRequest{
			From:    from,
			To:      to,
			MaxHops: maxHops,
		})
		if err == nil {
			content = result
		}
	}
	if err != nil {
		content = map[string]string{"error": err.Error()}
	}

	payload, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("dvm: marshal response: %w", err)
	}

	resp := nostr.Event{
		Kind:      responseKind,
		CreatedAt: nostr.Now(),
		Content:   string(payload),
		Tags: nostr.Tags{
			{"e", req.ID},
			{"p", req.PubKey},
		},
	}
	if err := resp.Sign(s.privateKey); err != nil {
		return fmt.Errorf("dvm: sign response: %w", err)
	}
	if err := relay.Publish(ctx, resp); err != nil {
		return fmt.Errorf("dvm: publish response: %w", err)
	}
	return nil
}
