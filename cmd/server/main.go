package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gookit/color"
	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/oarkflow/squealx"
	"github.com/oarkflow/squealx/connection"

	"github.com/oarkflow/anchor"
	"github.com/oarkflow/anchor/pkg/config"
	"github.com/oarkflow/anchor/pkg/contracts"
	"github.com/oarkflow/anchor/pkg/objects"
)

func main() {
	objects.Config = New(".env", true, nil)
	cfg := config.Config{}
	cfg.Load()
	objects.Layout = "layouts/main"
	app := fiber.New(fiber.Config{
		AppName:               objects.Config.GetString("app.name", "Anchor"),
		ViewsLayout:           objects.Layout,
		DisableStartupMessage: true,
	})
	opts := []anchor.Option{
		anchor.WithPrefix("/"),
		anchor.WithApp(app),
	}
	if driver := objects.Config.GetString("DB_DRIVER"); driver != "" {
		db, _, err := connection.FromConfig(databaseConfig(objects.Config, driver))
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		opts = append(opts, anchor.WithDB(db))
	}
	plugin := anchor.NewPlugin(opts...)
	if err := plugin.Register(); err != nil {
		log.Fatalf("failed to register %s: %v", plugin.Name(), err)
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		_ = plugin.Close()
		_ = app.Shutdown()
	}()

	addr := objects.Config.GetString("app.addr", ":8080")
	color.Green.Printf("%s listening on %s (env: %s)\n",
		objects.Config.GetString("app.name", "Anchor"), addr, objects.Config.GetString("app.env"))
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
}

// databaseConfig reads the activity log database settings. DB_PORT falls
// back to the usual port of the driver.
func databaseConfig(cfg contracts.Config, driver string) squealx.Config {
	return squealx.Config{
		Driver:   driver,
		Host:     cfg.GetString("DB_HOST", "localhost"),
		Port:     cfg.GetInt("DB_PORT", defaultPort(driver)),
		Username: cfg.GetString("DB_USER", "postgres"),
		Password: cfg.GetString("DB_PASSWORD", "postgres"),
		Database: cfg.GetString("DB_NAME", "anchor"),
	}
}

func defaultPort(driver string) int {
	switch strings.ToLower(driver) {
	case "mysql", "mariadb":
		return 3306
	case "mssql", "sqlserver", "sql-server":
		return 1433
	case "sqlite", "sqlite3":
		return 0
	default:
		return 5432
	}
}

type Config struct {
	k *koanf.Koanf
}

// New initializes a new config instance.
func New(envPath string, watchEnv bool, callback func()) *Config {
	k := koanf.New(".")
	app := &Config{k: k}
	f := file.Provider(envPath)
	// Load configuration from .env file if it exists
	if _, err := os.Stat(envPath); err == nil {
		if err := app.k.Load(f, dotenv.Parser()); err != nil {
			color.Red.Println("Error loading .env file: " + err.Error())
			os.Exit(0)
		}
	} else {
		color.Red.Println("No .env file found at " + envPath)
	}

	// Load environment variables
	if err := app.k.Load(env.Provider("", ".", nil), nil); err != nil {
		color.Red.Println("Error loading environment variables: " + err.Error())
		os.Exit(0)
	}
	if watchEnv {
		f.Watch(func(event interface{}, err error) {
			if err != nil {
				log.Printf("watch error: %v", err)
				return
			}
			if callback != nil {
				callback()
			}
		})
	}
	return app
}

// Env retrieves a config value from the environment with an optional default.
func (app *Config) Env(envName string, defaultValue ...any) any {
	value := app.k.Get(envName)
	if value == nil {
		if len(defaultValue) > 0 {
			return defaultValue[0]
		}
		return nil
	}
	return value
}

// Add adds a configuration to the application.
func (app *Config) Add(name string, configuration any) {
	err := app.k.Set(name, configuration)
	if err != nil {
		panic(err)
	}
}

// Get retrieves a config value from the application.
func (app *Config) Get(path string, defaultValue ...any) any {
	value := app.k.Get(path)
	if value == nil {
		if len(defaultValue) > 0 {
			return defaultValue[0]
		}
		return nil
	}
	return value
}

// GetString retrieves a string type config value from the application.
func (app *Config) GetString(path string, defaultValue ...any) string {
	value := app.Get(path, defaultValue...)
	if strVal, ok := value.(string); ok {
		return strVal
	}
	if len(defaultValue) > 0 {
		return fmt.Sprintf("%v", defaultValue[0])
	}
	return ""
}

// GetInt retrieves an int type config value from the application.
func (app *Config) GetInt(path string, defaultValue ...any) int {
	value := app.Get(path, defaultValue...)
	switch v := value.(type) {
	case int:
		return v
	case string:
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal
		}
	}
	if len(defaultValue) > 0 {
		return defaultValue[0].(int)
	}
	return 0
}

func (app *Config) GetDuration(path string, defaultValue ...any) time.Duration {
	value := app.Get(path, defaultValue...)
	if duration, ok := value.(time.Duration); ok {
		return duration
	}
	if strVal, ok := value.(string); ok {
		if duration, err := time.ParseDuration(strVal); err == nil {
			return duration
		}
	}
	if len(defaultValue) > 0 {
		dur := defaultValue[0]
		switch d := dur.(type) {
		case time.Duration:
			return d
		case string:
			if duration, err := time.ParseDuration(d); err == nil {
				return duration
			}
		}
	}
	return 0
}

// GetBool retrieves a bool type config value from the application.
func (app *Config) GetBool(path string, defaultValue ...any) bool {
	value := app.Get(path, defaultValue...)
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if boolVal, err := strconv.ParseBool(v); err == nil {
			return boolVal
		}
	}
	if len(defaultValue) > 0 {
		return defaultValue[0].(bool)
	}
	return false
}
