package anchor

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/html/v2"
	"github.com/oarkflow/squealx"
	"github.com/oarkflow/squealx/drivers/sqlite"
	"go.uber.org/zap"

	"github.com/oarkflow/anchor/pkg/client"
	"github.com/oarkflow/anchor/pkg/contracts"
	"github.com/oarkflow/anchor/pkg/http/middlewares"
	"github.com/oarkflow/anchor/pkg/http/routes"
	"github.com/oarkflow/anchor/pkg/ledger"
	"github.com/oarkflow/anchor/pkg/libs"
	"github.com/oarkflow/anchor/pkg/objects"
	"github.com/oarkflow/anchor/pkg/storage"
	"github.com/oarkflow/anchor/pkg/utils"
)

//go:embed anchor
var Assets embed.FS

type Plugin struct {
	App        *fiber.App
	Prefix     string
	Assets     embed.FS
	DB         *squealx.DB
	Connection contracts.Connection
	Logger     *zap.Logger

	manager *libs.Manager
}

type Option func(*Plugin)

func WithPrefix(prefix string) Option {
	return func(p *Plugin) {
		p.Prefix = prefix
	}
}

func WithApp(app *fiber.App) Option {
	return func(p *Plugin) {
		p.App = app
	}
}

// WithDB stores the activity log in db instead of the sqlite file named by
// log.database.
func WithDB(db *squealx.DB) Option {
	return func(p *Plugin) {
		p.DB = db
	}
}

// WithConnection skips endpoint resolution and talks to conn directly.
func WithConnection(conn contracts.Connection) Option {
	return func(p *Plugin) {
		p.Connection = conn
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Plugin) {
		p.Logger = logger
	}
}

// Register wires the identity service connection, the activity log and the
// routes into the app. Call it after the configuration is loaded.
func (p *Plugin) Register() error {
	cfg := libs.LoadConfig()
	if p.Logger == nil {
		p.Logger = libs.NewLogger(cfg.Env)
	}
	logs, err := p.openLogStore(cfg)
	if err != nil {
		return err
	}
	p.manager = libs.NewManager(p.connection(cfg), logs, cfg, p.Logger)
	objects.Manager = p.manager
	if p.App != nil {
		routes.Setup(p.Prefix, p.App)
		if cfg.DevLedger {
			routes.LedgerRoutes(p.App.Group(utils.APIPrefix))
		}
		routes.ProtectedRoutes(p.App.Group(p.Prefix, middlewares.RequireSession))
	}
	return nil
}

func (p *Plugin) openLogStore(cfg *libs.Config) (contracts.LogStore, error) {
	db := p.DB
	if db == nil {
		sqliteDB, err := sqlite.Open(cfg.LogDatabase, "sqlite")
		if err != nil {
			p.Logger.Error("failed to open activity log database", zap.String("path", cfg.LogDatabase), zap.Error(err))
			return nil, err
		}
		db = sqliteDB
	}
	logs, err := storage.NewDatabaseStorage(db)
	if err != nil {
		p.Logger.Error("failed to initialize activity log", zap.Error(err))
		return nil, err
	}
	if cfg.MaxEntriesPerCall > 0 && cfg.MaxEntriesPerCall <= int(storage.MaxEntriesPerCall) {
		logs.WithMaxEntries(uint16(cfg.MaxEntriesPerCall))
	}
	return logs, nil
}

// connection resolves the identity service. When nothing can be resolved the
// result is a nil interface and every page reports the missing endpoint.
func (p *Plugin) connection(cfg *libs.Config) contracts.Connection {
	if p.Connection != nil {
		return p.Connection
	}
	if cfg.DevLedger {
		l, err := ledger.New(ledger.WithLogger(p.Logger.Named("ledger")))
		if err != nil {
			p.Logger.Error("failed to start development ledger", zap.Error(err))
			return nil
		}
		return l
	}
	c, err := client.New(cfg.ServiceURL, cfg.AppName)
	if err != nil {
		p.Logger.Warn("identity service endpoint not set", zap.String("service_url", cfg.ServiceURL), zap.Error(err))
		return nil
	}
	return c
}

func (p *Plugin) Init() {
}

func (p *Plugin) Name() string {
	return "Anchor"
}

func (p *Plugin) DependsOn() []string {
	return []string{"Database"}
}

func (p *Plugin) Close() error {
	if p.manager != nil {
		return p.manager.Close()
	}
	return nil
}

func NewPlugin(opts ...Option) *Plugin {
	engine := html.NewFileSystem(http.FS(Assets), ".html")
	engine.AddFuncMap(map[string]any{
		"unescape": func(s string) template.HTML {
			return template.HTML(s)
		},
		"uris": func() map[string]string {
			return utils.GetURIs()
		},
	})
	objects.ViewEngine = engine
	plugin := &Plugin{
		Prefix: "/",
		Assets: Assets,
	}
	for _, opt := range opts {
		opt(plugin)
	}
	if plugin.Prefix == "" {
		plugin.Prefix = "/"
	}
	return plugin
}
