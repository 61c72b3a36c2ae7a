// Package signal is the WHIP/WHEP client side: it negotiates a peer
// connection with a media server over HTTP and tears it down again.
package signal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/Stream/internal/adapters/rtc"
	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	contentTypeSDP = "application/sdp"
	maxAnswerSize  = 1 << 20
)

type Options struct {
	Role domain.Role
	// BearerToken is sent as "Authorization: Bearer <token>" when set.
	BearerToken   string
	Configuration webrtc.Configuration
	HTTPClient    *http.Client
}

type Client struct {
	role   domain.Role
	token  string
	config webrtc.Configuration
	http   *http.Client
}

var _ core.Signaling = (*Client)(nil)

func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		role:   opts.Role,
		token:  strings.TrimSpace(opts.BearerToken),
		config: opts.Configuration,
		http:   hc,
	}
}

func (c *Client) Establish(ctx context.Context, endpoint string, media core.MediaResource) (core.Handle, error) {
	conn, err := rtc.NewConnection(c.config, c.role.String())
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	h, err := c.negotiate(ctx, conn, endpoint, media)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Info().Str("module", "signal").Str("role", c.role.String()).Str("resource", h.resource).Msg("session negotiated")
	return h, nil
}

func (c *Client) negotiate(ctx context.Context, conn *rtc.Connection, endpoint string, media core.MediaResource) (*Handle, error) {
	switch c.role {
	case domain.RolePublisher:
		src, ok := media.(core.CaptureSource)
		if !ok {
			return nil, errors.New("publisher media must be a capture source")
		}
		tracks := src.Tracks()
		if len(tracks) == 0 {
			return nil, errors.New("capture source has no tracks")
		}
		if err := conn.AddSendTracks(tracks); err != nil {
			return nil, err
		}
	case domain.RoleSubscriber:
		if err := conn.AddRecvOnly(webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, err
		}
		if target, ok := media.(core.RenderTarget); ok {
			conn.OnTrack(target.Attach)
		}
	}

	offer, err := conn.CreateOffer(ctx)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}

	answer, resource, err := c.postOffer(ctx, endpoint, offer.SDP)
	if err != nil {
		return nil, err
	}
	if err := validateAnswer(answer); err != nil {
		return nil, err
	}
	if err := conn.ApplyAnswer(answer); err != nil {
		return nil, fmt.Errorf("apply answer: %w", err)
	}
	return &Handle{conn: conn, resource: resource}, nil
}

func (c *Client) postOffer(ctx context.Context, endpoint, offer string) (answer, resource string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offer))
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", domain.ErrSignaling, err)
	}
	req.Header.Set("Content-Type", contentTypeSDP)
	req.Header.Set("Accept", contentTypeSDP)
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: post offer: %w", domain.ErrSignaling, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerSize))
	if err != nil {
		return "", "", fmt.Errorf("%w: read answer: %w", domain.ErrSignaling, err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("%w: %s: %s", domain.ErrSignaling, resp.Status, bytes.TrimSpace(body))
	}

	resource, err = resolveLocation(endpoint, resp.Header.Get("Location"))
	if err != nil {
		return "", "", err
	}
	return string(body), resource, nil
}

// Terminate closes the peer connection and deletes the server-side resource.
// The connection is closed even when the DELETE fails.
func (c *Client) Terminate(ctx context.Context, h core.Handle) error {
	hd, ok := h.(*Handle)
	if !ok || hd == nil {
		return fmt.Errorf("%w: foreign handle %T", domain.ErrSignaling, h)
	}
	defer func() { _ = hd.conn.Close() }()

	if hd.resource == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, hd.resource, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSignaling, err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: delete resource: %w", domain.ErrSignaling, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxAnswerSize))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: delete resource: %s", domain.ErrSignaling, resp.Status)
	}
	log.Info().Str("module", "signal").Str("resource", hd.resource).Msg("session terminated")
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// resolveLocation turns a possibly relative Location header into an absolute
// resource URL. An empty header yields an empty resource.
func resolveLocation(endpoint, location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", nil
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: endpoint: %w", domain.ErrSignaling, err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: location %q: %w", domain.ErrSignaling, location, err)
	}
	return base.ResolveReference(ref).String(), nil
}
