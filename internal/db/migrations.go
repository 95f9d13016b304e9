// internal/db/migrations.go
package db

import (
	"fmt"

	"gorm.io/gorm"
)

// MigrateContainmentIndexes создаёт составные индексы под range-запросы
// (namespace, ip_version, network, broadcast) — AutoMigrate из тегов их не
// собирает. Сравнение бинарных колонок = обычный ordered index scan.
func MigrateContainmentIndexes(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	dialect := db.Dialector.Name()

	var stmts []string
	switch dialect {
	case "mysql":
		if !db.Migrator().HasIndex("prefixes", "ix_prefixes_containment") {
			stmts = append(stmts,
				"CREATE INDEX `ix_prefixes_containment` ON `prefixes` (`namespace_id`, `ip_version`, `network`, `broadcast`)")
		}
		if !db.Migrator().HasIndex("ip_addresses", "ix_ip_addresses_host") {
			stmts = append(stmts,
				"CREATE INDEX `ix_ip_addresses_host` ON `ip_addresses` (`ip_version`, `host`)")
		}
	case "postgres":
		stmts = []string{
			`CREATE INDEX IF NOT EXISTS ix_prefixes_containment ON "prefixes" ("namespace_id", "ip_version", "network", "broadcast")`,
			`CREATE INDEX IF NOT EXISTS ix_ip_addresses_host ON "ip_addresses" ("ip_version", "host")`,
		}
	case "sqlite":
		stmts = []string{
			`CREATE INDEX IF NOT EXISTS ix_prefixes_containment ON prefixes (namespace_id, ip_version, network, broadcast)`,
			`CREATE INDEX IF NOT EXISTS ix_ip_addresses_host ON ip_addresses (ip_version, host)`,
		}
	default:
		return fmt.Errorf("unsupported dialect: %s", dialect)
	}

	for _, s := range stmts {
		if err := db.Exec(s).Error; err != nil {
			return err
		}
	}
	return nil
}
