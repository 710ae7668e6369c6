package config

import "fmt"

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

func defaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Name:     "planningpoker",
		SSLMode:  "disable",
	}
}

// applyEnv reads the DB_* environment variables.
func (d *DatabaseConfig) applyEnv() {
	d.Host = getEnv("DB_HOST", d.Host)
	d.Port = getEnvAsInt("DB_PORT", d.Port)
	d.User = getEnv("DB_USER", d.User)
	d.Password = getEnv("DB_PASSWORD", d.Password)
	d.Name = getEnv("DB_NAME", d.Name)
	d.SSLMode = getEnv("DB_SSLMODE", d.SSLMode)
}

// DSN returns the Postgres connection URL.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}
