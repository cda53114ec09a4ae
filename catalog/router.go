package catalog

import (
	"net/url"
	"strings"

	cErrors "github.com/sci-ndp/ndp-catalog-adapter/errors"

	"github.com/sirupsen/logrus"
)

// Selector names one of the catalog backend instances.
type Selector string

const (
	Local      Selector = "local"
	Global     Selector = "global"
	PreCatalog Selector = "pre_catalog"
)

// Selectors lists the known instances in a stable order.
var Selectors = []Selector{Local, Global, PreCatalog}

// ParseSelector validates the server selector of a request. "pre_ckan" is
// accepted as an alias of pre_catalog.
func ParseSelector(s string) (Selector, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		return Local, nil
	case "global":
		return Global, nil
	case "pre_catalog", "pre_ckan":
		return PreCatalog, nil
	}
	return "", cErrors.InvalidInput("unknown server %q", s)
}

// Instance is the configuration of a single backend.
type Instance struct {
	URL     string
	APIKey  string
	Enabled bool
}

// Config is the process-wide backend table. It is read-only once passed to
// NewRouter.
type Config map[Selector]Instance

// Factory builds a client for a validated base URL. apiKey is empty for the
// anonymous variant.
type Factory func(sel Selector, baseURL *url.URL, apiKey string) Client

// Resolver selects the client serving a request.
type Resolver interface {
	Resolve(sel Selector, needsAPIKey bool) (Client, error)
}

type handles struct {
	keyed Client
	anon  Client
	err   error
}

// Router resolves selectors against the backend table. It performs no I/O.
type Router struct {
	config  Config
	handles map[Selector]handles
}

var _ Resolver = (*Router)(nil)

// NewRouter validates every configured instance and builds its keyed and
// anonymous handles. Misconfigured instances are remembered and reported on
// resolution, so one bad entry does not prevent the others from serving.
func NewRouter(config Config, factory Factory) *Router {
	r := &Router{
		config:  make(Config, len(config)),
		handles: make(map[Selector]handles, len(config)),
	}
	for sel, inst := range config {
		r.config[sel] = inst
		u, err := baseURL(sel, inst.URL)
		if err != nil {
			r.handles[sel] = handles{err: err}
			continue
		}
		r.handles[sel] = handles{
			keyed: factory(sel, u, inst.APIKey),
			anon:  factory(sel, u, ""),
		}
	}
	return r
}

// Resolve returns the keyed handle of the selected instance when needsAPIKey
// is set, and the anonymous one otherwise.
func (r *Router) Resolve(sel Selector, needsAPIKey bool) (Client, error) {
	if _, err := ParseSelector(string(sel)); err != nil {
		return nil, err
	}
	inst, ok := r.config[sel]
	if !ok {
		return nil, cErrors.BackendMisconfigured("%s catalog is not configured", sel)
	}
	if !inst.Enabled {
		return nil, cErrors.BackendDisabled("%s catalog is disabled", sel)
	}
	h := r.handles[sel]
	if h.err != nil {
		return nil, h.err
	}
	if needsAPIKey {
		return h.keyed, nil
	}
	return h.anon, nil
}

// Log writes the backend table at info level. Credentials are not logged.
func (r *Router) Log(logger logrus.FieldLogger) {
	for _, sel := range Selectors {
		inst, ok := r.config[sel]
		if !ok {
			continue
		}
		fields := logrus.Fields{
			"instance": sel,
			"url":      inst.URL,
			"enabled":  inst.Enabled,
			"keyed":    inst.APIKey != "",
		}
		if err := r.handles[sel].err; err != nil {
			fields["error"] = err
		}
		logger.WithFields(fields).Info("Catalog instance")
	}
}

// baseURL validates a configured URL. A bare host:port is promoted to http
// for the pre-publication catalog only.
func baseURL(sel Selector, raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, cErrors.BackendMisconfigured("%s catalog URL is empty", sel)
	}
	if sel == PreCatalog && !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, cErrors.BackendMisconfigured("%s catalog URL %q is invalid: %v", sel, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, cErrors.BackendMisconfigured("%s catalog URL %q lacks an http or https scheme", sel, raw)
	}
	if u.Host == "" {
		return nil, cErrors.BackendMisconfigured("%s catalog URL %q has no host", sel, raw)
	}
	return u, nil
}
