package ipam

import (
	"testing"

	"nsot/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// одна in-memory БД = одно соединение
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, gdb.AutoMigrate(
		&models.Namespace{},
		&models.Prefix{},
		&models.IPAddress{},
		&models.VRF{},
		&models.VRFPrefixAssignment{},
	))
	return NewRepo(gdb)
}

func mustNamespace(t *testing.T, r *Repo, name string) *models.Namespace {
	t.Helper()
	ns, err := r.CreateNamespace(name, "", "")
	require.NoError(t, err)
	return ns
}

func mustPrefix(t *testing.T, r *Repo, cidr string, nsID uint, typ string) *models.Prefix {
	t.Helper()
	p, err := r.CreatePrefix(PrefixInput{CIDR: cidr, NamespaceID: nsID, Type: typ})
	require.NoError(t, err, "create prefix %s", cidr)
	return p
}

func mustIP(t *testing.T, r *Repo, addr string, nsID uint) *models.IPAddress {
	t.Helper()
	ip, err := r.CreateIPAddress(IPAddressInput{Address: addr, NamespaceID: nsID})
	require.NoError(t, err, "create ip %s", addr)
	return ip
}

func reloadPrefix(t *testing.T, r *Repo, id uint) *models.Prefix {
	t.Helper()
	p, err := r.GetPrefix(id)
	require.NoError(t, err)
	return p
}

func reloadIP(t *testing.T, r *Repo, id uint) *models.IPAddress {
	t.Helper()
	ip, err := r.GetIPAddress(id)
	require.NoError(t, err)
	return ip
}

func parentID(p *models.Prefix) uint {
	if p.ParentID == nil {
		return 0
	}
	return *p.ParentID
}
