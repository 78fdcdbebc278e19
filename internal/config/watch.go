package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"orderdesk/internal/model"
)

// Watch configures the orderwatch role view client.
type Watch struct {
	APIAddress string
	Role       model.Role
	Login      string
	Password   string
	RedisAddr  string
	LogLevel   slog.Level
}

func NewWatch() (*Watch, error) {
	return ParseWatch(flag.CommandLine, os.Args[1:])
}

func ParseWatch(fs *flag.FlagSet, args []string) (*Watch, error) {
	cfg := &Watch{}
	var role, level string

	fs.StringVar(&cfg.APIAddress, "api", "http://localhost:8080", "orderdesk base URL")
	fs.StringVar(&role, "role", string(model.RoleKitchen), "view to run: kitchen, motoboy or customer")
	fs.StringVar(&cfg.Login, "login", "", "account login")
	fs.StringVar(&cfg.Password, "password", "", "account password")
	fs.StringVar(&cfg.RedisAddr, "redis", "", "redis address for the order cache, empty for in-memory")
	fs.StringVar(&level, "v", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.APIAddress = getEnv("API_ADDRESS", cfg.APIAddress)
	cfg.Login = getEnv("LOGIN", cfg.Login)
	cfg.Password = getEnv("PASSWORD", cfg.Password)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	role = getEnv("ROLE", role)
	level = getEnv("LOG_LEVEL", level)

	cfg.Role = model.Role(role)
	switch cfg.Role {
	case model.RoleKitchen, model.RoleMotoboy, model.RoleCustomer:
	default:
		return nil, fmt.Errorf("unsupported view role %q", role)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	if cfg.Login == "" || cfg.Password == "" {
		return nil, errors.New("login and password required")
	}

	return cfg, nil
}
