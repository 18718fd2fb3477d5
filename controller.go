package apikit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Route names a controller endpoint for RouteRules.
type Route string

// Controller routes.
const (
	RouteList       Route = "list"        // GET    /
	RouteRead       Route = "read"        // GET    /:id
	RouteReadField  Route = "read-field"  // GET    /:id/:field, /:id/:field/:index, /fields/:field
	RouteCreate     Route = "create"      // POST   /
	RouteCreateMany Route = "create-many" // POST   /bulk
	RouteUpdate     Route = "update"      // PUT    /:id
	RouteUpdateMany Route = "update-many" // PUT    /bulk
	RoutePatch      Route = "patch"       // PATCH  /:id, /bulk
	RouteDelete     Route = "delete"      // DELETE /:id
	RouteDeleteMany Route = "delete-many" // DELETE /bulk
)

// routeFallback is consulted when a route has no rules of its own.
// Routes missing here fall back to DefaultRules.
var routeFallback = map[Route]Route{
	RouteList:       RouteRead,
	RouteCreateMany: RouteCreate,
	RouteUpdateMany: RouteUpdate,
	RoutePatch:      RouteUpdate,
	RouteDeleteMany: RouteDelete,
}

// RouteRules guards a route. A route resolving to nil rules is disabled.
type RouteRules struct {
	Roles          []string `yaml:"roles" json:"roles"`
	AllowAnonymous bool     `yaml:"allow_anonymous" json:"allow_anonymous"`
}

// Anonymous allows every caller.
func Anonymous() *RouteRules {
	return &RouteRules{AllowAnonymous: true}
}

// Roles allows principals holding one of roles.
func Roles(roles ...string) *RouteRules {
	return &RouteRules{Roles: roles}
}

// ResourceService is what a Controller needs from a service.
type ResourceService[T Entity[K], K comparable, D any] interface {
	List(ctx context.Context, opts ReadOptions) (*Page[T], error)
	Read(ctx context.Context, id K, opts ReadOptions) (T, error)
	ReadField(ctx context.Context, id K, field string, opts ReadOptions) (any, error)
	ReadFieldItem(ctx context.Context, id K, field string, index int, opts ReadOptions) (any, error)
	ListField(ctx context.Context, field string, opts ReadOptions) (*Page[any], error)
	Create(ctx context.Context, dto D) (T, error)
	CreateMany(ctx context.Context, dtos []D) ([]T, error)
	Update(ctx context.Context, id K, dto D) (T, error)
	UpdateMany(ctx context.Context, items []BulkUpdate[K, D]) error
	Patch(ctx context.Context, id K, patch []byte) (T, error)
	PatchMany(ctx context.Context, ops []PatchOperation[K]) error
	Delete(ctx context.Context, id K) error
	DeleteMany(ctx context.Context, ids []K) error
	Mapper() Mapper[T, D]
}

var _ ResourceService[*TimestampedModel[string], string, struct{}] = (*Service[*TimestampedModel[string], string, struct{}])(nil)

// ControllerConfig configures a Controller.
type ControllerConfig[K comparable] struct {
	Resource string
	ParseKey KeyParser[K]

	// Routes holds per-route rules. Missing routes fall back to related
	// routes and then to DefaultRules. A nil DefaultRules disables them.
	Routes       map[Route]*RouteRules
	DefaultRules *RouteRules

	// Read is the base of the read options built for each request.
	Read ReadOptions

	// MaxBodyBytes bounds request bodies; larger bodies get 413.
	// Zero selects DefaultMaxBodyBytes and a negative value disables the limit.
	MaxBodyBytes int64

	Paging  PagingConfig
	Metrics *Metrics
	Logger  *zap.Logger
}

// DefaultMaxBodyBytes is the request body limit of a Controller.
const DefaultMaxBodyBytes int64 = 1 << 20

// Controller exposes a ResourceService over HTTP.
type Controller[T Entity[K], K comparable, D any] struct {
	svc ResourceService[T, K, D]
	cfg ControllerConfig[K]
	log *zap.Logger
}

// NewController creates a controller for svc.
func NewController[T Entity[K], K comparable, D any](svc ResourceService[T, K, D], cfg ControllerConfig[K]) *Controller[T, K, D] {
	if cfg.Paging == (PagingConfig{}) {
		cfg.Paging = NewPagingConfig()
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller[T, K, D]{svc: svc, cfg: cfg, log: log}
}

// RouteInfo describes one mounted endpoint.
type RouteInfo struct {
	Method string
	Path   string
	Route  Route
	Rules  *RouteRules
}

// Routes lists the endpoints Register mounts, with their resolved rules.
func (ctl *Controller[T, K, D]) Routes() []RouteInfo {
	endpoints := []RouteInfo{
		{http.MethodGet, "", RouteList, nil},
		{http.MethodGet, "/fields/:field", RouteReadField, nil},
		{http.MethodGet, "/:id", RouteRead, nil},
		{http.MethodGet, "/:id/:field", RouteReadField, nil},
		{http.MethodGet, "/:id/:field/:index", RouteReadField, nil},
		{http.MethodPost, "", RouteCreate, nil},
		{http.MethodPost, "/bulk", RouteCreateMany, nil},
		{http.MethodPut, "/bulk", RouteUpdateMany, nil},
		{http.MethodPut, "/:id", RouteUpdate, nil},
		{http.MethodPatch, "/bulk", RoutePatch, nil},
		{http.MethodPatch, "/:id", RoutePatch, nil},
		{http.MethodDelete, "/bulk", RouteDeleteMany, nil},
		{http.MethodDelete, "/:id", RouteDelete, nil},
	}
	for i := range endpoints {
		endpoints[i].Rules = ctl.rules(endpoints[i].Route)
	}
	return endpoints
}

// Register mounts the routes on r.
//
// Example:
//
//	ctl.Register(router.Group("/notes"))
func (ctl *Controller[T, K, D]) Register(r gin.IRouter) {
	var handlers []gin.HandlerFunc
	if ctl.cfg.Metrics != nil {
		handlers = append(handlers, ctl.cfg.Metrics.Middleware(ctl.cfg.Resource))
	}
	if ctl.cfg.MaxBodyBytes > 0 {
		handlers = append(handlers, LimitRequestBody(ctl.cfg.MaxBodyBytes))
	}
	g := r.Group("", handlers...)

	g.GET("", ctl.list)
	g.GET("/fields/:field", ctl.listField)
	g.GET("/:id", ctl.read)
	g.GET("/:id/:field", ctl.readField)
	g.GET("/:id/:field/:index", ctl.readFieldItem)
	g.POST("", ctl.create)
	g.POST("/bulk", ctl.createMany)
	g.PUT("/bulk", ctl.updateMany)
	g.PUT("/:id", ctl.update)
	g.PATCH("/bulk", ctl.patchMany)
	g.PATCH("/:id", ctl.patch)
	g.DELETE("/bulk", ctl.deleteMany)
	g.DELETE("/:id", ctl.delete)
}

// rules resolves the rules for route through its fallbacks.
func (ctl *Controller[T, K, D]) rules(route Route) *RouteRules {
	for {
		if rules, ok := ctl.cfg.Routes[route]; ok && rules != nil {
			return rules
		}
		next, ok := routeFallback[route]
		if !ok {
			return ctl.cfg.DefaultRules
		}
		route = next
	}
}

// allowed checks the route rules and writes the rejection when they fail.
func (ctl *Controller[T, K, D]) allowed(c *gin.Context, route Route) bool {
	rules := ctl.rules(route)
	if rules == nil {
		c.AbortWithStatus(http.StatusNotFound)
		return false
	}
	if rules.AllowAnonymous {
		return true
	}
	p := GetPrincipal(c.Request.Context())
	if p.IsAnonymous() || !p.IsInRole(rules.Roles...) {
		c.AbortWithStatus(http.StatusForbidden)
		return false
	}
	return true
}

// requestContext carries the query string for filters.
func (ctl *Controller[T, K, D]) requestContext(c *gin.Context) context.Context {
	return WithQueryValues(c.Request.Context(), c.Request.URL.Query())
}

func (ctl *Controller[T, K, D]) readOptions(c *gin.Context) ReadOptions {
	query := c.Request.URL.Query()
	opts := ctl.cfg.Read.WithPage(ParsePageRequest(query, ctl.cfg.Paging))
	if sort := SortFromQuery(query); len(sort) > 0 {
		opts = opts.WithSort(sort...)
	}
	return opts
}

func (ctl *Controller[T, K, D]) fail(c *gin.Context, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		ctl.log.Error("request failed",
			zap.String("resource", ctl.cfg.Resource),
			zap.String("path", c.FullPath()),
			zap.String("request_id", GetRequestID(c.Request.Context())),
			zap.Error(err),
		)
	}
	GenerateError(c, err)
}

func (ctl *Controller[T, K, D]) badRequest(c *gin.Context, message string) {
	GenerateResult(c, BadRequest[any](ErrorMessage("request.invalid", message)))
}

// badBody rejects a body that could not be read or decoded.
func (ctl *Controller[T, K, D]) badBody(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		GenerateResult(c, failure[any](http.StatusRequestEntityTooLarge, []Message{
			ErrorMessage("request.too_large", fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)),
		}))
		return
	}
	ctl.badRequest(c, err.Error())
}

func (ctl *Controller[T, K, D]) parseID(c *gin.Context) (K, bool) {
	id, err := ctl.cfg.ParseKey(c.Param("id"))
	if err != nil {
		ctl.fail(c, err)
		return id, false
	}
	return id, true
}

func (ctl *Controller[T, K, D]) toDTOs(items []T) ([]D, error) {
	out := make([]D, 0, len(items))
	for _, item := range items {
		dto, err := ctl.svc.Mapper().ToDTO(item)
		if err != nil {
			return nil, err
		}
		out = append(out, dto)
	}
	return out, nil
}

func (ctl *Controller[T, K, D]) list(c *gin.Context) {
	if !ctl.allowed(c, RouteList) {
		return
	}
	page, err := ctl.svc.List(ctl.requestContext(c), ctl.readOptions(c))
	if err != nil {
		ctl.fail(c, err)
		return
	}
	dtos, err := MapPage(page, ctl.svc.Mapper().ToDTO)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	GenerateResult(c, Ok(dtos))
}

func (ctl *Controller[T, K, D]) read(c *gin.Context) {
	if !ctl.allowed(c, RouteRead) {
		return
	}
	id, ok := ctl.parseID(c)
	if !ok {
		return
	}
	entity, err := ctl.svc.Read(ctl.requestContext(c), id, ctl.readOptions(c))
	if err != nil {
		ctl.fail(c, err)
		return
	}
	dto, err := ctl.svc.Mapper().ToDTO(entity)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	GenerateResult(c, Ok(dto))
}

func (ctl *Controller[T, K, D]) readField(c *gin.Context) {
	if !ctl.allowed(c, RouteReadField) {
		return
	}
	id, ok := ctl.parseID(c)
	if !ok {
		return
	}
	value, err := ctl.svc.ReadField(ctl.requestContext(c), id, c.Param("field"), ctl.readOptions(c))
	if err != nil {
		ctl.fail(c, err)
		return
	}
	GenerateResult(c, Ok(value))
}

func (ctl *Controller[T, K, D]) readFieldItem(c *gin.Context) {
	if !ctl.allowed(c, RouteReadField) {
		return
	}
	id, ok := ctl.parseID(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		ctl.badRequest(c, "index must be an integer")
		return
	}
	value, err := ctl.svc.ReadFieldItem(ctl.requestContext(c), id, c.Param("field"), index, ctl.readOptions(c))
	if err != nil {
		ctl.fail(c, err)
		return
	}
	GenerateResult(c, Ok(value))
}

func (ctl *Controller[T, K, D]) listField(c *gin.Context) {
	if !ctl.allowed(c, RouteReadField) {
		return
	}
	page, err := ctl.svc.ListField(ctl.requestContext(c), c.Param("field"), ctl.readOptions(c))
	if err != nil {
		ctl.fail(c, err)
		return
	}
	GenerateResult(c, Ok(page))
}

func (ctl *Controller[T, K, D]) create(c *gin.Context) {
	if !ctl.allowed(c, RouteCreate) {
		return
	}
	var dto D
	if err := c.ShouldBindJSON(&dto); err != nil {
		ctl.badBody(c, err)
		return
	}
	entity, err := ctl.svc.Create(ctl.requestContext(c), dto)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	out, err := ctl.svc.Mapper().ToDTO(entity)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	GenerateResult(c, Created(out))
}

func (ctl *Controller[T, K, D]) createMany(c *gin.Context) {
	if !ctl.allowed(c, RouteCreateMany) {
		return
	}
	var dtos []D
	if err := c.ShouldBindJSON(&dtos); err != nil {
		ctl.badBody(c, err)
		return
	}
	entities, err := ctl.svc.CreateMany(ctl.requestContext(c), dtos)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	out, err := ctl.toDTOs(entities)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	GenerateResult(c, Created(out))
}

func (ctl *Controller[T, K, D]) update(c *gin.Context) {
	if !ctl.allowed(c, RouteUpdate) {
		return
	}
	id, ok := ctl.parseID(c)
	if !ok {
		return
	}
	var dto D
	if err := c.ShouldBindJSON(&dto); err != nil {
		ctl.badBody(c, err)
		return
	}
	if _, err := ctl.svc.Update(ctl.requestContext(c), id, dto); err != nil {
		ctl.fail(c, err)
		return
	}
	GenerateResult(c, NoContent[any]())
}

func (ctl *Controller[T, K, D]) updateMany(c *gin.Context) {
	if !ctl.allowed(c, RouteUpdateMany) {
		return
	}
	var items []BulkUpdate[K, D]
	if err := c.ShouldBindJSON(&items); err != nil {
		ctl.badBody(c, err)
		return
	}
	if err := ctl.svc.UpdateMany(ctl.requestContext(c), items); err != nil {
		ctl.fail(c, err)
		return
	}
	GenerateResult(c, NoContent[any]())
}

func (ctl *Controller[T, K, D]) patch(c *gin.Context) {
	if ctl.svc.Mapper() == nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	if !ctl.allowed(c, RoutePatch) {
		return
	}
	id, ok := ctl.parseID(c)
	if !ok {
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		ctl.badBody(c, err)
		return
	}
	if _, err := ctl.svc.Patch(ctl.requestContext(c), id, body); err != nil {
		ctl.fail(c, err)
		return
	}
	GenerateResult(c, NoContent[any]())
}

func (ctl *Controller[T, K, D]) patchMany(c *gin.Context) {
	if ctl.svc.Mapper() == nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	if !ctl.allowed(c, RoutePatch) {
		return
	}
	var ops []PatchOperation[K]
	if err := c.ShouldBindJSON(&ops); err != nil {
		ctl.badBody(c, err)
		return
	}
	if err := ctl.svc.PatchMany(ctl.requestContext(c), ops); err != nil {
		ctl.fail(c, err)
		return
	}
	GenerateResult(c, NoContent[any]())
}

func (ctl *Controller[T, K, D]) delete(c *gin.Context) {
	if !ctl.allowed(c, RouteDelete) {
		return
	}
	id, ok := ctl.parseID(c)
	if !ok {
		return
	}
	if err := ctl.svc.Delete(ctl.requestContext(c), id); err != nil {
		ctl.fail(c, err)
		return
	}
	GenerateResult(c, NoContent[any]())
}

// deleteMany reads ids from repeated "ids" query parameters or a JSON array body.
func (ctl *Controller[T, K, D]) deleteMany(c *gin.Context) {
	if !ctl.allowed(c, RouteDeleteMany) {
		return
	}
	var ids []K
	if raw := c.QueryArray("ids"); len(raw) > 0 {
		for _, s := range raw {
			id, err := ctl.cfg.ParseKey(s)
			if err != nil {
				ctl.fail(c, err)
				return
			}
			ids = append(ids, id)
		}
	} else if err := c.ShouldBindJSON(&ids); err != nil {
		ctl.badBody(c, err)
		return
	}
	if err := ctl.svc.DeleteMany(ctl.requestContext(c), ids); err != nil {
		ctl.fail(c, err)
		return
	}
	GenerateResult(c, NoContent[any]())
}
