package rules

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// LoaderFunc produces the reference table.
type LoaderFunc func() (Table, error)

// Cache loads the reference table once, on first use, and serves it
// read-only afterwards. A failed load leaves an empty table.
type Cache struct {
	load   LoaderFunc
	logger *logrus.Logger

	once  sync.Once
	table Table
	err   error
}

// NewCache creates a lazily loaded table cache.
func NewCache(load LoaderFunc, logger *logrus.Logger) *Cache {
	return &Cache{load: load, logger: logger}
}

// NewFileCache creates a cache backed by LoadFile.
func NewFileCache(path, sheet string, logger *logrus.Logger) *Cache {
	return NewCache(func() (Table, error) { return LoadFile(path, sheet) }, logger)
}

// StaticCache wraps an already built table.
func StaticCache(table Table) *Cache {
	c := &Cache{table: table}
	c.once.Do(func() {})
	return c
}

// Table returns the loaded rules.
func (c *Cache) Table() Table {
	c.once.Do(func() {
		table, err := c.load()
		if err != nil {
			c.err = err
			c.table = Table{}
			if c.logger != nil {
				c.logger.WithError(err).Error("Cannot retrieve default result rules")
			}
			return
		}
		c.table = table
		if c.logger != nil {
			c.logger.WithField("rules", len(table)).Info("Loaded default result rules")
		}
	})
	return c.table
}

// Err returns the load error, if any. It is only meaningful after Table.
func (c *Cache) Err() error {
	c.Table()
	return c.err
}
