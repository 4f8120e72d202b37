package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/shaiso/Dozilab/internal/app"
	"github.com/shaiso/Dozilab/internal/config"
	"github.com/shaiso/Dozilab/internal/telemetry"
)

// Env — общее состояние команд: флаги корневой команды и лениво
// собранное приложение.
type Env struct {
	ConfigPath string
	JSON       bool

	Stdout io.Writer
	Stderr io.Writer

	cfg *config.Config
	app *app.App
}

// NewEnv создаёт Env для stdout/stderr процесса.
func NewEnv() *Env {
	return &Env{Stdout: os.Stdout, Stderr: os.Stderr}
}

// Config загружает конфигурацию один раз.
func (e *Env) Config() (*config.Config, error) {
	if e.cfg != nil {
		return e.cfg, nil
	}
	cfg, err := config.Load(e.ConfigPath)
	if err != nil {
		return nil, err
	}
	e.cfg = cfg
	return cfg, nil
}

// App собирает приложение при первом обращении.
func (e *Env) App(ctx context.Context) (*app.App, error) {
	if e.app != nil {
		return e.app, nil
	}
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	e.app = a
	return a, nil
}

// Output возвращает форматтер вывода.
func (e *Env) Output() *Output {
	return NewOutputTo(e.Stdout, e.Stderr, e.JSON)
}

// Close закрывает соединения приложения, если оно собиралось.
func (e *Env) Close() {
	if e.app != nil {
		e.app.Close()
		e.app = nil
	}
}

// parseID разбирает UUID из аргумента команды.
func parseID(raw, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q: %w", what, raw, err)
	}
	return id, nil
}

// parseOptionalID — parseID, где пустая строка означает отсутствие значения.
func parseOptionalID(raw, what string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := parseID(raw, what)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
