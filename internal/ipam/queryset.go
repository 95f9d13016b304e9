package ipam

import (
	"nsot/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOpts управляет containment-запросами.
// Direct — только непосредственный уровень (parent_id), без глубины.
// IncludeSelf — включить сам префикс в выдачу.
// ForUpdate — взять row-lock (write path: кандидаты не должны уехать
// под конкурентной вставкой).
type QueryOpts struct {
	Direct      bool
	IncludeSelf bool
	ForUpdate   bool
}

// withLock вешает FOR UPDATE там, где диалект его умеет. sqlite сериализует
// писателей сам и на FOR UPDATE падает.
func withLock(tx *gorm.DB, lock bool) *gorm.DB {
	if !lock {
		return tx
	}
	switch tx.Dialector.Name() {
	case "postgres", "mysql":
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// NetEquals — префиксы namespace, в точности равные cidr.
func (r *Repo) NetEquals(namespaceID uint, cidr string) ([]models.Prefix, error) {
	_, f, err := splitPrefix(cidr)
	if err != nil {
		return nil, err
	}
	var out []models.Prefix
	err = r.db.
		Where("namespace_id = ? AND ip_version = ? AND network = ? AND prefix_length = ?",
			namespaceID, f.version, f.network, f.length).
		Find(&out).Error
	return out, err
}

// NetContains — префиксы, строго содержащие cidr (supernets).
func (r *Repo) NetContains(namespaceID uint, cidr string) ([]models.Prefix, error) {
	return r.netContains(namespaceID, cidr, true)
}

// NetContainsOrEquals — supernets, включая равный префикс.
func (r *Repo) NetContainsOrEquals(namespaceID uint, cidr string) ([]models.Prefix, error) {
	return r.netContains(namespaceID, cidr, false)
}

func (r *Repo) netContains(namespaceID uint, cidr string, strict bool) ([]models.Prefix, error) {
	_, f, err := splitPrefix(cidr)
	if err != nil {
		return nil, err
	}
	q := r.db.
		Where("namespace_id = ? AND ip_version = ? AND network <= ? AND broadcast >= ?",
			namespaceID, f.version, f.network, f.broadcast)
	if strict {
		q = q.Where("prefix_length < ?", f.length)
	} else {
		q = q.Where("prefix_length <= ?", f.length)
	}
	var out []models.Prefix
	err = q.Order("prefix_length ASC").Find(&out).Error
	return out, err
}

// NetContained — префиксы, строго содержащиеся в cidr (subnets).
func (r *Repo) NetContained(namespaceID uint, cidr string) ([]models.Prefix, error) {
	return r.netContained(namespaceID, cidr, true)
}

// NetContainedOrEqual — subnets, включая равный префикс.
func (r *Repo) NetContainedOrEqual(namespaceID uint, cidr string) ([]models.Prefix, error) {
	return r.netContained(namespaceID, cidr, false)
}

func (r *Repo) netContained(namespaceID uint, cidr string, strict bool) ([]models.Prefix, error) {
	_, f, err := splitPrefix(cidr)
	if err != nil {
		return nil, err
	}
	q := r.db.
		Where("namespace_id = ? AND ip_version = ? AND network >= ? AND broadcast <= ?",
			namespaceID, f.version, f.network, f.broadcast)
	if strict {
		q = q.Where("prefix_length > ?", f.length)
	} else {
		q = q.Where("prefix_length >= ?", f.length)
	}
	var out []models.Prefix
	err = q.Order("network ASC, prefix_length ASC").Find(&out).Error
	return out, err
}

// NetHostContained — префиксы, чей диапазон содержит одиночный адрес.
func (r *Repo) NetHostContained(namespaceID uint, addr string) ([]models.Prefix, error) {
	_, f, err := splitAddress(addr)
	if err != nil {
		return nil, err
	}
	var out []models.Prefix
	err = r.db.
		Where("namespace_id = ? AND ip_version = ? AND network <= ? AND broadcast >= ?",
			namespaceID, f.version, f.host, f.host).
		Order("prefix_length ASC").
		Find(&out).Error
	return out, err
}

// NetIn — точные совпадения из списка CIDR.
func (r *Repo) NetIn(namespaceID uint, cidrs []string) ([]models.Prefix, error) {
	var out []models.Prefix
	for _, c := range cidrs {
		ps, err := r.NetEquals(namespaceID, c)
		if err != nil {
			return nil, err
		}
		out = append(out, ps...)
	}
	return out, nil
}

// Supernets — контейнеры префикса. Direct: только непосредственный родитель.
func (r *Repo) Supernets(p *models.Prefix, opt QueryOpts) ([]models.Prefix, error) {
	if opt.Direct {
		var out []models.Prefix
		if p.ParentID == nil {
			return out, nil
		}
		err := withLock(r.db, opt.ForUpdate).Where("id = ?", *p.ParentID).Find(&out).Error
		return out, err
	}
	q := withLock(r.db, opt.ForUpdate).
		Where("namespace_id = ? AND ip_version = ? AND network <= ? AND broadcast >= ?",
			p.NamespaceID, p.IPVersion, p.Network, p.Broadcast)
	if opt.IncludeSelf {
		q = q.Where("prefix_length <= ?", p.PrefixLength)
	} else {
		q = q.Where("prefix_length < ?", p.PrefixLength)
	}
	var out []models.Prefix
	err := q.Order("prefix_length ASC").Find(&out).Error
	return out, err
}

// Subnets — содержимое префикса. Direct: только прямые дети по parent_id.
func (r *Repo) Subnets(p *models.Prefix, opt QueryOpts) ([]models.Prefix, error) {
	if opt.Direct {
		var out []models.Prefix
		err := withLock(r.db, opt.ForUpdate).
			Where("parent_id = ?", p.ID).
			Order("network ASC").
			Find(&out).Error
		return out, err
	}
	q := withLock(r.db, opt.ForUpdate).
		Where("namespace_id = ? AND ip_version = ? AND network >= ? AND broadcast <= ?",
			p.NamespaceID, p.IPVersion, p.Network, p.Broadcast)
	if opt.IncludeSelf {
		q = q.Where("prefix_length >= ?", p.PrefixLength)
	} else {
		q = q.Where("id <> ? AND prefix_length >= ?", p.ID, p.PrefixLength)
	}
	var out []models.Prefix
	err := q.Order("network ASC, prefix_length ASC").Find(&out).Error
	return out, err
}

// Ancestors — цепочка контейнеров от корня к родителю (по containment;
// при выдержанных инвариантах это ровно путь по parent-указателям).
func (r *Repo) Ancestors(p *models.Prefix) ([]models.Prefix, error) {
	return r.Supernets(p, QueryOpts{})
}

// Descendants — всё поддерево префикса, от крупных блоков к мелким.
func (r *Repo) Descendants(p *models.Prefix) ([]models.Prefix, error) {
	var out []models.Prefix
	err := r.db.
		Where("namespace_id = ? AND ip_version = ? AND id <> ? AND network >= ? AND broadcast <= ?",
			p.NamespaceID, p.IPVersion, p.ID, p.Network, p.Broadcast).
		Order("prefix_length ASC, network ASC").
		Find(&out).Error
	return out, err
}

// PrefixIPAddresses — адреса, напрямую привязанные к префиксу.
func (r *Repo) PrefixIPAddresses(p *models.Prefix) ([]models.IPAddress, error) {
	var out []models.IPAddress
	err := r.db.Where("parent_id = ?", p.ID).Order("host ASC").Find(&out).Error
	return out, err
}
