package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Catalog sources.
const (
	CatalogFile  = "file"
	CatalogMySQL = "mysql"
)

// CatalogConfig selects where seat inventories come from and whether they
// are cached in Redis.  The catalog is read on every hold and every
// availability call, so the cache sits in front of MySQL by default.
type CatalogConfig struct {
	Source       string        // file or mysql
	File         string        // JSON seat list for the file source
	CacheEnabled bool          // cache inventories in Redis
	CacheTTL     time.Duration // lifetime of a cached inventory
	CachePrefix  string        // Redis key namespace
}

func setCatalogDefaults(v *viper.Viper) {
	v.SetDefault("CATALOG_SOURCE", CatalogFile)
	v.SetDefault("CATALOG_FILE", "seats.json")
	v.SetDefault("CATALOG_CACHE_ENABLED", false)
	v.SetDefault("CATALOG_CACHE_TTL", "10m")
	v.SetDefault("CATALOG_CACHE_PREFIX", "catalog")
}

func bindCatalog(v *viper.Viper) CatalogConfig {
	c := CatalogConfig{
		Source:       strings.ToLower(v.GetString("CATALOG_SOURCE")),
		File:         v.GetString("CATALOG_FILE"),
		CacheEnabled: v.GetBool("CATALOG_CACHE_ENABLED"),
		CacheTTL:     v.GetDuration("CATALOG_CACHE_TTL"),
		CachePrefix:  v.GetString("CATALOG_CACHE_PREFIX"),
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 10 * time.Minute
	}
	return c
}
