package recipe

import (
	"context"
	"net/http"
	"slices"

	"github.com/samber/oops"
)

// Composite serves several recipes as one. Each API id is routed to the part
// that declared it. When two parts declare the same method and path, the
// part listed first keeps the route and the later one is reported disabled.
type Composite struct {
	id     string
	parts  []Recipe
	apis   []APIHandled
	owners map[string]Recipe
}

// NewComposite builds a composite of at least one part. Duplicate API ids
// are an error.
func NewComposite(id string, parts ...Recipe) (*Composite, error) {
	c := &Composite{id: id, owners: map[string]Recipe{}}
	routes := map[string]bool{}
	for _, part := range parts {
		c.parts = append(c.parts, part)
		for _, api := range part.APIs() {
			if _, dup := c.owners[api.ID]; dup {
				return nil, oops.Code("CONFIG_INVALID").
					With("recipe", id, "api", api.ID).
					Errorf("%s: api id %s is declared twice", id, api.ID)
			}
			c.owners[api.ID] = part
			key := api.Method + " " + api.PathWithoutBase
			if routes[key] && !api.Disabled {
				api.Disabled = true
			} else if !api.Disabled {
				routes[key] = true
			}
			c.apis = append(c.apis, api)
		}
	}
	if len(c.parts) == 0 {
		return nil, oops.Code("CONFIG_INVALID").With("recipe", id).Errorf("%s: no sub recipe is configured", id)
	}
	return c, nil
}

// ID returns the composite's recipe id.
func (c *Composite) ID() string { return c.id }

// APIs returns the APIs of every part in order.
func (c *Composite) APIs() []APIHandled { return slices.Clone(c.apis) }

// Parts returns the configured sub recipes.
func (c *Composite) Parts() []Recipe { return slices.Clone(c.parts) }

// FirstFactors is the union of the parts' first factors.
func (c *Composite) FirstFactors() []string {
	var out []string
	for _, part := range c.parts {
		if ff, ok := part.(FirstFactorProvider); ok {
			for _, f := range ff.FirstFactors() {
				if !slices.Contains(out, f) {
					out = append(out, f)
				}
			}
		}
	}
	return out
}

// HandleAPIRequest forwards to the part owning apiID.
func (c *Composite) HandleAPIRequest(ctx context.Context, apiID, tenantID string, w http.ResponseWriter, r *http.Request) error {
	part, ok := c.owners[apiID]
	if !ok {
		return oops.Errorf("%s: unknown api %q", c.id, apiID)
	}
	return part.HandleAPIRequest(ctx, apiID, tenantID, w, r)
}
