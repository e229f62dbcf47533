package stages

import (
	"context"
	"net/http"

	"github.com/dcshock/pipectl/pipeline"
)

// Unit names.
const (
	FetchStaticCSVsName = "fetch_static_csvs"
	NoopName            = "noop"
)

// Noop logs and succeeds.
func Noop(ctx context.Context, inv *pipeline.Invocation) error {
	inv.Logger.Info("Nothing to do.", "attempt", inv.Attempt)
	return nil
}

// Register adds the built-in units to c. A nil client means http.DefaultClient.
func Register(c *pipeline.Catalog, client *http.Client) {
	c.Register(FetchStaticCSVsName, FetchStaticCSVs(client))
	c.Register(NoopName, Noop)
}

// NewCatalog returns a catalog holding only the built-in units.
func NewCatalog(client *http.Client) *pipeline.Catalog {
	c := pipeline.NewCatalog()
	Register(c, client)
	return c
}
