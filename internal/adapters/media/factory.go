package media

import (
	"errors"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
)

type Options struct {
	// Source is the IVF file published by the publisher role.
	Source string
	// Loop rewinds Source at end of file.
	Loop bool
	// Record, when set, is where the subscriber writes the received video.
	Record string
}

// Factory returns the resource constructor for role. Each call yields a
// fresh resource so no state leaks between sessions.
func Factory(role domain.Role, opts Options) (core.MediaFactory, error) {
	switch role {
	case domain.RolePublisher:
		if opts.Source == "" {
			return nil, errors.New("publisher needs a media source")
		}
		return func() (core.MediaResource, error) {
			return NewFileCapture(opts.Source, opts.Loop)
		}, nil
	case domain.RoleSubscriber:
		return func() (core.MediaResource, error) {
			return NewSink(opts.Record), nil
		}, nil
	}
	return nil, errors.New("unknown role")
}
