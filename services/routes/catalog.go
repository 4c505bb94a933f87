package routes

import (
	"context"
	"errors"
	"slices"
	"sort"

	"github.com/upb/routeguard/internal/access"
	"github.com/upb/routeguard/models"
	"github.com/upb/routeguard/repositories"
	"github.com/upb/routeguard/services"
	"go.uber.org/zap"
)

// ChangeRecorder is notified after a stored route changes
type ChangeRecorder interface {
	LogRouteChange(ctx context.Context, action models.AuditAction, def access.RouteDefinition) error
}

// Entry is a route definition together with the rule it resolves to
type Entry struct {
	Definition    access.RouteDefinition `json:"definition"`
	Builtin       bool                   `json:"builtin"`
	EffectiveRule *access.Rule           `json:"effective_rule,omitempty"`
	RuleSource    string                 `json:"rule_source,omitempty"`
	Problem       string                 `json:"problem,omitempty"`
}

// Problem describes a route that cannot be resolved
type Problem struct {
	Route  string `json:"route"`
	Reason string `json:"reason"`
}

// Catalog serves route definitions from the built-in registry and storage.
// Built-in names are reserved and always win over stored rows.
type Catalog struct {
	builtins *access.Registry
	repo     repositories.RouteRepository
	txMgr    repositories.TransactionManager
	cache    *RouteCache
	recorder ChangeRecorder
	logger   *zap.Logger
}

// NewCatalog creates a catalog. A nil repo serves built-in routes only.
func NewCatalog(builtins *access.Registry, repo repositories.RouteRepository, txMgr repositories.TransactionManager, cache *RouteCache, logger *zap.Logger) *Catalog {
	if builtins == nil {
		builtins = access.MustRegistry()
	}
	return &Catalog{
		builtins: builtins,
		repo:     repo,
		txMgr:    txMgr,
		cache:    cache,
		logger:   logger,
	}
}

// SetRecorder registers the recorder notified of stored route changes
func (c *Catalog) SetRecorder(recorder ChangeRecorder) {
	c.recorder = recorder
}

// Builtins returns the built-in registry
func (c *Catalog) Builtins() *access.Registry {
	return c.builtins
}

// Resolver returns a resolver over route and every route its decision can
// depend on (the parent chain and layouts, transitively).
func (c *Catalog) Resolver(ctx context.Context, route string) (*access.Resolver, error) {
	set, err := c.closure(ctx, route)
	if err != nil {
		return nil, err
	}
	return access.NewResolver(set), nil
}

func (c *Catalog) closure(ctx context.Context, route string) (routeSet, error) {
	set := make(routeSet)
	queue := []string{route}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, seen := set[name]; seen {
			continue
		}

		def, found, err := c.lookup(ctx, name)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		set[name] = def
		if def.Parent != "" {
			queue = append(queue, def.Parent)
		}
		queue = append(queue, def.Layouts...)
	}
	return set, nil
}

// Get returns one route with its effective rule
func (c *Catalog) Get(ctx context.Context, name string) (*Entry, error) {
	def, found, err := c.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, services.ErrRouteNotFound
	}

	set, err := c.closure(ctx, name)
	if err != nil {
		return nil, err
	}
	entry := c.entry(def, set)
	return &entry, nil
}

// List returns every route, built-in routes first, stored routes by name
func (c *Catalog) List(ctx context.Context) ([]Entry, error) {
	all, err := c.snapshot(ctx, nil)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(all))
	for _, name := range c.builtins.Names() {
		entries = append(entries, c.entry(all[name], all))
	}
	for _, name := range all.storedNames(c.builtins) {
		entries = append(entries, c.entry(all[name], all))
	}
	return entries, nil
}

// Put creates or replaces a stored route. The write is rejected when it
// would leave the route, or any route depending on it, unresolvable.
func (c *Catalog) Put(ctx context.Context, def access.RouteDefinition) (bool, error) {
	def = def.Normalized()
	if err := def.Validate(); err != nil {
		return false, services.NewDomainError(services.ErrorTypeValidation, "invalid route definition", err)
	}
	if _, builtin := c.builtins.Lookup(def.Name); builtin {
		return false, services.ErrRouteReserved
	}
	if c.repo == nil {
		return false, services.WrapInternal("route storage is not configured", nil)
	}

	created, err := services.WithTransactionResult(ctx, c.txMgr, func(ctx context.Context, tx repositories.Transaction) (bool, error) {
		repo := c.repo.WithTx(tx)

		all, err := c.snapshot(ctx, repo)
		if err != nil {
			return false, err
		}
		all[def.Name] = def

		affected := append([]string{def.Name}, all.dependents(def.Name)...)
		if err := access.ValidateRoutes(all, affected); err != nil {
			return false, services.NewDomainError(services.ErrorTypeValidation, services.ErrUnresolvableRoute.Message, err).
				WithDetail("problems", problemsOf(err))
		}

		created, err := repo.Upsert(ctx, models.NewRoute(def))
		if err != nil {
			return false, services.WrapInternal("failed to store route", err)
		}
		return created, nil
	})
	if err != nil {
		return false, err
	}

	c.invalidate(def.Name)
	c.record(ctx, models.AuditActionRouteUpserted, def)
	c.logger.Info("route stored", zap.String("route", def.Name), zap.Bool("created", created))
	return created, nil
}

// Delete removes a stored route that no other route depends on
func (c *Catalog) Delete(ctx context.Context, name string) error {
	if _, builtin := c.builtins.Lookup(name); builtin {
		return services.ErrRouteReserved
	}
	if c.repo == nil {
		return services.ErrRouteNotFound
	}

	var deleted access.RouteDefinition
	err := services.WithTransaction(ctx, c.txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		repo := c.repo.WithTx(tx)

		dependents, err := repo.ListDependents(ctx, name)
		if err != nil {
			return services.WrapInternal("failed to check route dependents", err)
		}
		if len(dependents) > 0 {
			return services.NewDomainError(services.ErrorTypeConflict, services.ErrRouteInUse.Message, nil).
				WithDetail("dependents", dependents)
		}

		route, err := repo.GetByName(ctx, name)
		if err != nil {
			return mapRepoError(err)
		}
		deleted = route.Definition()

		if err := repo.Delete(ctx, name); err != nil {
			return mapRepoError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.invalidate(name)
	c.record(ctx, models.AuditActionRouteDeleted, deleted)
	c.logger.Info("route deleted", zap.String("route", name))
	return nil
}

// Validate resolves every route in the catalog and reports the ones that fail.
// The error is only set when the catalog could not be read.
func (c *Catalog) Validate(ctx context.Context) ([]Problem, error) {
	all, err := c.snapshot(ctx, nil)
	if err != nil {
		return nil, err
	}

	names := append(c.builtins.Names(), all.storedNames(c.builtins)...)
	return problemsOf(access.ValidateRoutes(all, names)), nil
}

// CacheStats returns statistics of the stored route cache
func (c *Catalog) CacheStats() CacheStats {
	if c.cache == nil {
		return CacheStats{}
	}
	return c.cache.Stats()
}

// lookup finds name among built-in routes, then the cache, then storage
func (c *Catalog) lookup(ctx context.Context, name string) (access.RouteDefinition, bool, error) {
	if def, ok := c.builtins.Lookup(name); ok {
		return def, true, nil
	}
	if c.repo == nil {
		return access.RouteDefinition{}, false, nil
	}
	if c.cache != nil {
		if def, found, cached := c.cache.Get(name); cached {
			return def, found, nil
		}
	}

	route, err := c.repo.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			if c.cache != nil {
				c.cache.SetMissing(name)
			}
			return access.RouteDefinition{}, false, nil
		}
		return access.RouteDefinition{}, false, services.WrapInternal("failed to load route", err)
	}

	def := route.Definition()
	if c.cache != nil {
		c.cache.Set(def)
	}
	return def, true, nil
}

// snapshot loads built-in routes and every stored route. Stored rows that
// shadow a built-in name are ignored.
func (c *Catalog) snapshot(ctx context.Context, repo repositories.RouteRepository) (routeSet, error) {
	all := make(routeSet, c.builtins.Len())
	for _, def := range c.builtins.Definitions() {
		all[def.Name] = def
	}

	if repo == nil {
		repo = c.repo
	}
	if repo == nil {
		return all, nil
	}

	stored, err := repo.List(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to list routes", err)
	}
	for _, route := range stored {
		if _, builtin := all[route.Name]; builtin {
			c.logger.Warn("stored route shadows a built-in route and is ignored", zap.String("route", route.Name))
			continue
		}
		all[route.Name] = route.Definition()
	}
	return all, nil
}

func (c *Catalog) entry(def access.RouteDefinition, routes access.RouteLookup) Entry {
	_, builtin := c.builtins.Lookup(def.Name)
	entry := Entry{Definition: def, Builtin: builtin}

	if err := access.ValidateRoutes(routes, []string{def.Name}); err != nil {
		entry.Problem = err.Error()
		return entry
	}
	rule, source, _ := access.ResolveRule(routes, def.Name)
	entry.EffectiveRule = &rule
	entry.RuleSource = source
	return entry
}

func (c *Catalog) invalidate(name string) {
	if c.cache != nil {
		c.cache.Invalidate(name)
	}
}

func (c *Catalog) record(ctx context.Context, action models.AuditAction, def access.RouteDefinition) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.LogRouteChange(ctx, action, def); err != nil {
		c.logger.Warn("failed to record route change",
			zap.Error(err),
			zap.String("route", def.Name),
			zap.String("action", string(action)))
	}
}

// routeSet is a mutable RouteLookup used for one evaluation or validation
type routeSet map[string]access.RouteDefinition

func (s routeSet) Lookup(name string) (access.RouteDefinition, bool) {
	def, ok := s[name]
	return def, ok
}

func (s routeSet) storedNames(builtins *access.Registry) []string {
	var names []string
	for name := range s {
		if _, builtin := builtins.Lookup(name); !builtin {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// dependents returns every route whose resolution passes through name
func (s routeSet) dependents(name string) []string {
	reverse := make(map[string][]string)
	for _, def := range s {
		if def.Parent != "" {
			reverse[def.Parent] = append(reverse[def.Parent], def.Name)
		}
		for _, layout := range def.Layouts {
			reverse[layout] = append(reverse[layout], def.Name)
		}
	}

	seen := map[string]bool{name: true}
	var out []string
	queue := []string{name}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dependent := range reverse[current] {
			if seen[dependent] {
				continue
			}
			seen[dependent] = true
			out = append(out, dependent)
			queue = append(queue, dependent)
		}
	}
	slices.Sort(out)
	return out
}

func problemsOf(err error) []Problem {
	if err == nil {
		return nil
	}
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}

	problems := make([]Problem, 0, len(errs))
	for _, e := range errs {
		var mis *access.MisconfiguredError
		if errors.As(e, &mis) {
			problems = append(problems, Problem{Route: mis.Route, Reason: mis.Reason})
			continue
		}
		problems = append(problems, Problem{Reason: e.Error()})
	}
	return problems
}

func mapRepoError(err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return services.ErrRouteNotFound
	}
	return services.WrapInternal("route storage failed", err)
}
