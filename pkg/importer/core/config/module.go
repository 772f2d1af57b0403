package config

import "go.uber.org/fx"

// NewEngineConfigProvider extracts the engine section so components can depend on it alone.
func NewEngineConfigProvider(cfg *Config) *EngineConfig {
	return &cfg.Importer.Engine
}

// NewSystemConfigProvider extracts the system section.
func NewSystemConfigProvider(cfg *Config) *SystemConfig {
	return &cfg.Importer.System
}

// Module provides the configuration and its sections.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
	fx.Provide(NewEngineConfigProvider),
	fx.Provide(NewSystemConfigProvider),
)
