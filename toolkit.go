package apikit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Toolkit holds the shared services every resource is built from.
type Toolkit struct {
	DB            *Database
	Logger        *zap.Logger
	Tokens        *TokenService
	Passwords     *PasswordService
	Paging        PagingConfig
	QueryProvider ResourceQueryProvider
	Metrics       *Metrics
	Queue         *QueueService

	// TrustedProxies lists the proxy IPs or CIDRs whose forwarding headers
	// Router believes. Empty trusts none.
	TrustedProxies []string
	// MaxBodyBytes is the request body limit of every resource controller.
	MaxBodyBytes int64

	migrations []dbkit.Migration
	routes     []RouteInfo
}

// ToolkitOption configures a Toolkit.
type ToolkitOption func(*Toolkit)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *zap.Logger) ToolkitOption {
	return func(tk *Toolkit) {
		if logger != nil {
			tk.Logger = logger
		}
	}
}

// WithTokenService enables bearer authentication.
func WithTokenService(tokens *TokenService) ToolkitOption {
	return func(tk *Toolkit) { tk.Tokens = tokens }
}

// WithPasswordService sets the password hasher.
func WithPasswordService(passwords *PasswordService) ToolkitOption {
	return func(tk *Toolkit) { tk.Passwords = passwords }
}

// WithPaging sets the paging bounds of every resource.
func WithPaging(cfg PagingConfig) ToolkitOption {
	return func(tk *Toolkit) { tk.Paging = cfg }
}

// WithDefaultQueryProvider scopes the reads of every resource without its own provider.
func WithDefaultQueryProvider(provider ResourceQueryProvider) ToolkitOption {
	return func(tk *Toolkit) { tk.QueryProvider = provider }
}

// WithMetrics instruments routes and transactions.
func WithMetrics(m *Metrics) ToolkitOption {
	return func(tk *Toolkit) { tk.Metrics = m }
}

// WithQueue sets the queue service.
func WithQueue(q *QueueService) ToolkitOption {
	return func(tk *Toolkit) { tk.Queue = q }
}

// WithTrustedProxies sets the proxies allowed to report the client IP.
func WithTrustedProxies(proxies ...string) ToolkitOption {
	return func(tk *Toolkit) { tk.TrustedProxies = proxies }
}

// WithMaxBodyBytes sets the request body limit of every resource.
func WithMaxBodyBytes(limit int64) ToolkitOption {
	return func(tk *Toolkit) { tk.MaxBodyBytes = limit }
}

// NewToolkit creates a Toolkit over db.
func NewToolkit(db *Database, opts ...ToolkitOption) *Toolkit {
	tk := &Toolkit{
		DB:        db,
		Logger:    zap.NewNop(),
		Passwords: NewPasswordService(0),
		Paging:    NewPagingConfig(),
	}
	for _, opt := range opts {
		opt(tk)
	}
	if tk.Metrics != nil && db.metrics == nil {
		db.metrics = tk.Metrics
	}
	return tk
}

// NewToolkitFromConfig opens every service cfg describes.
// Redis is optional and only connected when an address is set.
func NewToolkitFromConfig(cfg *Config) (*Toolkit, error) {
	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	db, err := Open(cfg.Database, WithDatabaseLogger(logger), WithDatabaseMetrics(metrics))
	if err != nil {
		return nil, err
	}

	opts := []ToolkitOption{
		WithLogger(logger),
		WithPasswordService(NewPasswordService(cfg.Auth.BcryptCost)),
		WithPaging(cfg.Paging),
		WithMetrics(metrics),
		WithTrustedProxies(cfg.Server.TrustedProxies...),
		WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	}

	if cfg.Auth.JWT.Secret != "" {
		tokens, err := NewTokenService(cfg.Auth.JWT)
		if err != nil {
			db.Close()
			return nil, err
		}
		opts = append(opts, WithTokenService(tokens))

		if cfg.Redis.Address != "" {
			queue, err := NewQueueService(cfg.Redis, tokens, WithQueueLogger(logger))
			if err != nil {
				db.Close()
				return nil, err
			}
			opts = append(opts, WithQueue(queue))
		}
	}

	return NewToolkit(db, opts...), nil
}

// Close releases the database and queue connections.
func (tk *Toolkit) Close() error {
	if tk.Queue != nil {
		if err := tk.Queue.Close(); err != nil {
			tk.Logger.Warn("failed to close queue", zap.Error(err))
		}
	}
	_ = tk.Logger.Sync()
	return tk.DB.Close()
}

// AddMigrations registers migrations run by Migrate, in order.
func (tk *Toolkit) AddMigrations(migrations ...dbkit.Migration) {
	tk.migrations = append(tk.migrations, migrations...)
}

// Migrate applies every registered migration.
func (tk *Toolkit) Migrate(ctx context.Context) error {
	return tk.DB.Migrate(ctx, tk.migrations)
}

// Middleware returns the authentication middleware. It fails without a TokenService.
func (tk *Toolkit) Middleware(opts ...MiddlewareOption) (*Middleware, error) {
	if tk.Tokens == nil {
		return nil, fmt.Errorf("token service is not configured")
	}
	return NewMiddleware(tk.Tokens, opts...), nil
}

// Router returns a gin engine with recovery, request metadata, access logging,
// optional bearer authentication, /health and /metrics.
func (tk *Toolkit) Router() *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(tk.TrustedProxies); err != nil {
		tk.Logger.Warn("invalid trusted proxies, trusting none", zap.Strings("proxies", tk.TrustedProxies), zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery(), InjectRequestMetadata(), AccessLog(tk.Logger))
	if tk.Tokens != nil {
		r.Use(NewMiddleware(tk.Tokens).OptionalAuthentication())
	}

	r.GET("/health", HealthHandler(tk.DB))
	if tk.Metrics != nil {
		r.GET("/metrics", gin.WrapH(tk.Metrics.Handler()))
	}
	return r
}

// HealthHandler serves the health report of m: 200 when healthy, 503 otherwise.
func HealthHandler(m HealthMonitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		report := m.Report(ctx)
		status := http.StatusOK
		if !report.Healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	}
}

// Routes lists the endpoints of every mounted resource.
func (tk *Toolkit) Routes() []RouteInfo {
	return append([]RouteInfo(nil), tk.routes...)
}

// ResourceConfig describes one REST resource.
type ResourceConfig[T Entity[K], K comparable, D any] struct {
	// Name is the resource name used by query providers, metrics and logs.
	Name string
	// Path is the mount path. Defaults to "/" + Name.
	Path string

	IDColumn      string
	ParseKey      KeyParser[K]
	KeyGenerator  KeyGenerator[K]
	QueryProvider ResourceQueryProvider

	Service ServiceConfig[T, K, D]

	Routes       map[Route]*RouteRules
	DefaultRules *RouteRules
	Read         ReadOptions

	Migrations []dbkit.Migration
}

// Resource bundles the layers of one REST resource.
type Resource[T Entity[K], K comparable, D any] struct {
	Data       *DataContext[T, K]
	Service    *Service[T, K, D]
	Controller *Controller[T, K, D]

	tk   *Toolkit
	path string
}

// NewResource builds the data context, service and controller of a resource and
// registers its migrations with tk.
//
// Example:
//
//	notes, err := apikit.NewResource(tk, apikit.ResourceConfig[*Note, uuid.UUID, NoteDTO]{
//	    Name:         "notes",
//	    DefaultRules: apikit.Roles("user", "admin"),
//	})
//	if err != nil {
//	    return err
//	}
//	notes.Mount(router.Group("/api"))
func NewResource[T Entity[K], K comparable, D any](tk *Toolkit, cfg ResourceConfig[T, K, D]) (*Resource[T, K, D], error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("resource name is required")
	}
	if cfg.Path == "" {
		cfg.Path = "/" + cfg.Name
	}
	if cfg.ParseKey == nil {
		cfg.ParseKey = defaultKeyParser[K]()
		if cfg.ParseKey == nil {
			return nil, fmt.Errorf("resource %s: no key parser for its key type", cfg.Name)
		}
	}
	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = defaultKeyGenerator[K]()
	}
	provider := cfg.QueryProvider
	if provider == nil {
		provider = tk.QueryProvider
	}

	logger := tk.Logger.With(zap.String("resource", cfg.Name))

	dcOpts := []DataContextOption{
		WithResourceName(cfg.Name),
		WithQueryProvider(provider),
		WithContextLogger(logger),
	}
	if cfg.IDColumn != "" {
		dcOpts = append(dcOpts, WithIDColumn(cfg.IDColumn))
	}
	if cfg.KeyGenerator != nil {
		dcOpts = append(dcOpts, WithKeyGenerator(cfg.KeyGenerator))
	}
	dc := NewDataContext[T, K](tk.DB, dcOpts...)

	svcCfg := cfg.Service
	if svcCfg.Paging == (PagingConfig{}) {
		svcCfg.Paging = tk.Paging
	}
	if svcCfg.KeyGenerator == nil {
		svcCfg.KeyGenerator = cfg.KeyGenerator
	}
	if svcCfg.Logger == nil {
		svcCfg.Logger = logger
	}
	svc := NewService(dc, svcCfg)

	ctl := NewController[T, K, D](svc, ControllerConfig[K]{
		Resource:     cfg.Name,
		ParseKey:     cfg.ParseKey,
		Routes:       cfg.Routes,
		DefaultRules: cfg.DefaultRules,
		Read:         cfg.Read,
		MaxBodyBytes: tk.MaxBodyBytes,
		Paging:       svcCfg.Paging,
		Metrics:      tk.Metrics,
		Logger:       logger,
	})

	tk.AddMigrations(cfg.Migrations...)

	return &Resource[T, K, D]{
		Data:       dc,
		Service:    svc,
		Controller: ctl,
		tk:         tk,
		path:       cfg.Path,
	}, nil
}

// Path returns the mount path.
func (r *Resource[T, K, D]) Path() string {
	return r.path
}

// Mount registers the resource routes under its path.
func (r *Resource[T, K, D]) Mount(router gin.IRouter) {
	r.Controller.Register(router.Group(r.path))

	base := strings.TrimRight(r.path, "/")
	if g, ok := router.(*gin.RouterGroup); ok {
		base = strings.TrimRight(g.BasePath(), "/") + base
	}
	for _, info := range r.Controller.Routes() {
		info.Path = base + info.Path
		r.tk.routes = append(r.tk.routes, info)
	}
}

func defaultKeyParser[K comparable]() KeyParser[K] {
	var zero K
	var parser any
	switch any(zero).(type) {
	case uuid.UUID:
		parser = KeyParser[uuid.UUID](ParseUUIDKey)
	case int64:
		parser = KeyParser[int64](ParseInt64Key)
	case string:
		parser = KeyParser[string](ParseStringKey)
	}
	p, _ := parser.(KeyParser[K])
	return p
}

func defaultKeyGenerator[K comparable]() KeyGenerator[K] {
	var zero K
	if _, ok := any(zero).(uuid.UUID); ok {
		g, _ := any(KeyGenerator[uuid.UUID](NewUUIDKey)).(KeyGenerator[K])
		return g
	}
	return nil
}
