package opspilot

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/utils"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// InstanceCookie names the application instance a browser belongs to
const InstanceCookie = "opspilot_instance"

const instanceLocalsKey = "opspilot.instance"

type SessionControllerRoutes struct {
	Prefix        string
	Session       string
	Login         string
	LoginPassword string
	LoginVerify   string
	Register      string
	Logout        string
	Metrics       string
	Health        string
}

// SessionController exposes the account flows and the session state of
// the caller's instance over HTTP.
type SessionController struct {
	Debug          bool
	Logger         Logger
	LoggerProvider LoggerProvider
	Registry       *InstanceRegistry
	Routes         *SessionControllerRoutes
	CookieName     string
	CookieTTL      time.Duration
	Metrics        router.HandlerFunc
}

type SessionControllerOption func(*SessionController) *SessionController

func WithControllerDebug(debug bool) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Debug = debug
		return c
	}
}

func WithControllerLogger(logger Logger) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Logger = logger
		return c
	}
}

func WithControllerLoggerProvider(provider LoggerProvider) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.LoggerProvider = provider
		return c
	}
}

// WithMetricsHandler mounts h on the metrics route
func WithMetricsHandler(h router.HandlerFunc) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Metrics = h
		return c
	}
}

func NewSessionController(registry *InstanceRegistry, opts ...SessionControllerOption) *SessionController {
	c := &SessionController{
		Registry:   registry,
		CookieName: InstanceCookie,
		CookieTTL:  30 * 24 * time.Hour,
		Routes: &SessionControllerRoutes{
			Prefix:        "/api",
			Session:       "/session",
			Login:         "/login",
			LoginPassword: "/login/password",
			LoginVerify:   "/login/verify",
			Register:      "/register",
			Logout:        "/logout",
			Metrics:       "/metrics",
			Health:        "/healthz",
		},
	}

	for _, opt := range opts {
		if opt != nil {
			c = opt(c)
		}
	}

	if c.Registry == nil {
		panic("Missing InstanceRegistry in session controller...")
	}

	c.LoggerProvider, c.Logger = ResolveLogger("opspilot.http", c.LoggerProvider, c.Logger)

	return c
}

// RegisterSessionRoutes mounts the session controller on app
func RegisterSessionRoutes[T any](app router.Router[T], registry *InstanceRegistry, opts ...SessionControllerOption) *SessionController {
	c := NewSessionController(registry, opts...)

	app.Get(c.Routes.Health, c.Health)

	if c.Metrics != nil {
		app.Get(c.Routes.Metrics, c.Metrics)
	}

	api := app.Group(c.Routes.Prefix)
	api.Get(c.Routes.Session, c.SessionShow)
	api.Post(c.Routes.Login, c.LoginPost, c.WithInstance)
	api.Post(c.Routes.LoginPassword, c.LoginPasswordPost, c.WithInstance)
	api.Post(c.Routes.LoginVerify, c.LoginVerifyPost, c.WithInstance)
	api.Post(c.Routes.Register, c.RegisterPost, c.WithInstance)
	api.Post(c.Routes.Logout, c.LogoutPost, c.WithInstance)

	return c
}

// WithInstance resolves the caller's instance from the instance cookie,
// issuing a new cookie on first visit.
func (c *SessionController) WithInstance(next router.HandlerFunc) router.HandlerFunc {
	return func(ctx router.Context) error {
		id, ok := c.instanceID(ctx)
		if !ok {
			id = uuid.NewString()
			ctx.Cookie(&router.Cookie{
				Name:     c.CookieName,
				Value:    id,
				Path:     "/",
				HTTPOnly: true,
				SameSite: "Lax",
				Expires:  time.Now().Add(c.CookieTTL),
			})
		}

		instance, err := c.Registry.Get(id)
		if err != nil {
			c.Logger.Error("failed to resolve instance", "instance", id, "error", err)
			return ctx.JSON(statusFor(err), Result{Message: FailureMessage(err)})
		}

		ctx.Locals(instanceLocalsKey, instance)
		ctx.SetContext(instanceContext(ctx.Context(), instance))

		return next(ctx)
	}
}

// instanceID reads the instance cookie. The value is copied out of the
// request buffer since it outlives the request as a registry key.
func (c *SessionController) instanceID(ctx router.Context) (string, bool) {
	raw := utils.CopyString(ctx.Cookies(c.CookieName))
	if raw == "" {
		return "", false
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

func instanceContext(ctx context.Context, instance *Instance) context.Context {
	ctx = WithInstance(ctx, instance)
	if user := instance.State.User(); user != nil {
		ctx = WithSessionUser(ctx, user)
	}
	return ctx
}

func (c *SessionController) instance(ctx router.Context) *Instance {
	instance, _ := ctx.Locals(instanceLocalsKey).(*Instance)
	return instance
}

func (c *SessionController) Health(ctx router.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// SessionShow returns the caller's session. Callers without an instance
// cookie get an empty session and no instance is created for them.
func (c *SessionController) SessionShow(ctx router.Context) error {
	id, ok := c.instanceID(ctx)
	if !ok {
		return ctx.JSON(http.StatusOK, Snapshot{})
	}

	instance, err := c.Registry.Get(id)
	if err != nil {
		c.Logger.Error("failed to resolve instance", "instance", id, "error", err)
		return ctx.JSON(statusFor(err), Result{Message: FailureMessage(err)})
	}
	return ctx.JSON(http.StatusOK, instance.State.Snapshot())
}

func (c *SessionController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	res := c.instance(ctx).Accounts.Login(ctx.Context(), payload.Email)
	return c.respond(ctx, res)
}

func (c *SessionController) LoginPasswordPost(ctx router.Context) error {
	payload := new(PasswordLoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	res := c.instance(ctx).Accounts.LoginWithPassword(ctx.Context(), payload.Email, payload.Password)
	return c.respond(ctx, res)
}

func (c *SessionController) LoginVerifyPost(ctx router.Context) error {
	payload := new(VerifyLoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	res := c.instance(ctx).Accounts.VerifyLogin(ctx.Context(), payload.Email, payload.Code)
	return c.respond(ctx, res)
}

func (c *SessionController) RegisterPost(ctx router.Context) error {
	payload := new(RegisterRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	res := c.instance(ctx).Accounts.Register(ctx.Context(), *payload)
	return c.respond(ctx, res)
}

func (c *SessionController) LogoutPost(ctx router.Context) error {
	res := c.instance(ctx).Accounts.Logout(ctx.Context())
	return c.respond(ctx, res)
}

// sessionResponse is a Result with the session state after the flow ran
type sessionResponse struct {
	Result
	Session Snapshot `json:"session"`
}

func (c *SessionController) badRequest(ctx router.Context, err error) error {
	c.Logger.Debug("failed to parse request body", "path", ctx.Path(), "error", err)
	return ctx.JSON(http.StatusBadRequest, Result{Message: "Invalid request body."})
}

func (c *SessionController) respond(ctx router.Context, res Result) error {
	out := sessionResponse{
		Result:  res,
		Session: c.instance(ctx).State.Snapshot(),
	}

	if c.Debug {
		c.Logger.Debug("account flow", "path", ctx.Path(), "response", print.MaybePrettyJSON(out))
	}

	status := http.StatusOK
	if !res.OK {
		status = statusFor(res.Err)
	}
	return ctx.JSON(status, out)
}

// statusFor maps an account error to an HTTP status
func statusFor(err error) int {
	var richErr *goerrors.Error
	if err == nil || !goerrors.As(err, &richErr) {
		return http.StatusInternalServerError
	}

	switch richErr.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	}

	if richErr.Code >= 400 && richErr.Code < 600 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}
