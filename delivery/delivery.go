// Package delivery sends the emails and SMS messages recipes produce.
//
// A recipe owns one Ingredient per channel. The ingredient wraps a Service,
// which is either supplied by the app or a recipe default, and passes it
// through the override chain so callers can decorate sending (templating,
// logging, routing to a different provider) without replacing it wholesale.
package delivery

import (
	"context"

	"github.com/panyam/authrecipes/override"
)

// Service sends one message.
type Service[T any] interface {
	Send(ctx context.Context, input T) error
}

// ServiceFunc adapts a func to Service.
type ServiceFunc[T any] func(ctx context.Context, input T) error

// Send calls f.
func (f ServiceFunc[T]) Send(ctx context.Context, input T) error {
	return f(ctx, input)
}

// Config selects and decorates the service for one channel.
type Config[T any] struct {
	// Service replaces the recipe default when set.
	Service Service[T]
	// Override decorates whichever service was selected.
	Override override.Func[Service[T]]
}

// Ingredient is the built sending pipeline for one channel.
type Ingredient[T any] struct {
	service Service[T]
}

// NewIngredient picks cfg.Service (or defaultService) and applies cfg.Override.
func NewIngredient[T any](cfg Config[T], defaultService Service[T]) (*Ingredient[T], error) {
	svc := cfg.Service
	if svc == nil {
		svc = defaultService
	}

	built, err := override.New(svc).Override(cfg.Override).Build()
	if err != nil {
		return nil, err
	}
	return &Ingredient[T]{service: built}, nil
}

// Send delivers input. Errors from the service are returned unchanged.
func (i *Ingredient[T]) Send(ctx context.Context, input T) error {
	return i.service.Send(ctx, input)
}

// Service returns the built service.
func (i *Ingredient[T]) Service() Service[T] {
	return i.service
}
