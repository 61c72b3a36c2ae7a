package signal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/Stream/internal/domain"
	"github.com/pion/sdp/v3"
)

var errEmptyAnswer = errors.New("empty answer")

// validateAnswer rejects bodies that are not an SDP with at least one media
// section before they reach the peer connection.
func validateAnswer(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: %w", domain.ErrSignaling, errEmptyAnswer)
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(body)); err != nil {
		return fmt.Errorf("%w: parse answer: %w", domain.ErrSignaling, err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return fmt.Errorf("%w: answer has no media sections", domain.ErrSignaling)
	}
	return nil
}
