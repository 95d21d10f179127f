package db

import "fmt"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the backend named by driver. logLevel only applies to postgres.
func Open(driver, dsn, logLevel string, opts ...Option) (Store, error) {
	switch driver {
	case "", DriverSQLite:
		return NewSQLite(dsn, opts...)
	case DriverPostgres:
		level, err := ParseGormLogLevel(logLevel)
		if err != nil {
			return nil, err
		}
		return NewPostgres(dsn, level, opts...)
	}
	return nil, fmt.Errorf("unknown database driver %q", driver)
}
