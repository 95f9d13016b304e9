package ipam

import (
	"bytes"
	"errors"
	"fmt"

	"nsot/internal/models"

	"gorm.io/gorm"
)

// DefaultNamespaceName — имя неявного namespace по умолчанию.
const DefaultNamespaceName = "Global"

type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

// DB отдаёт хэндл для health-check и пр.
func (r *Repo) DB() *gorm.DB { return r.db }

// ---- Namespace ----

// DefaultNamespace — get-or-create "Global". Гонки разрешаются на уровне
// хранилища (unique constraint + повторное чтение), без in-process блокировок.
func (r *Repo) DefaultNamespace() (*models.Namespace, error) {
	return defaultNamespace(r.db)
}

func defaultNamespace(tx *gorm.DB) (*models.Namespace, error) {
	var ns models.Namespace
	err := tx.Where(&models.Namespace{Name: DefaultNamespaceName}).
		Attrs(models.Namespace{Description: "Default namespace"}).
		FirstOrCreate(&ns).Error
	if err != nil {
		// проигранная гонка за unique(name): строка уже есть, перечитываем
		if ferr := tx.Where("name = ?", DefaultNamespaceName).First(&ns).Error; ferr == nil {
			return &ns, nil
		}
		return nil, err
	}
	return &ns, nil
}

func (r *Repo) CreateNamespace(name, description, location string) (*models.Namespace, error) {
	ns := &models.Namespace{Name: name, Description: description, Location: location}
	if name == "" {
		return nil, fmt.Errorf("%w: namespace name required", ErrInvalidInput)
	}
	var n int64
	if err := r.db.Model(&models.Namespace{}).Where("name = ?", name).Count(&n).Error; err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, fmt.Errorf("%w: namespace %q", ErrDuplicate, name)
	}
	return ns, r.db.Create(ns).Error
}

func (r *Repo) GetNamespace(id uint) (*models.Namespace, error) {
	var ns models.Namespace
	if err := r.db.First(&ns, id).Error; err != nil {
		return nil, notFound(err, "namespace %d", id)
	}
	return &ns, nil
}

func (r *Repo) ListNamespaces() ([]models.Namespace, error) {
	var out []models.Namespace
	err := r.db.Order("name").Find(&out).Error
	return out, err
}

// NamespaceIPAddresses — все адреса, транзитивно достижимые через префиксы
// namespace (у адреса нет своей namespace-колонки, только parent).
func (r *Repo) NamespaceIPAddresses(namespaceID uint) ([]models.IPAddress, error) {
	sub := r.db.Model(&models.Prefix{}).Select("id").Where("namespace_id = ?", namespaceID)
	var out []models.IPAddress
	err := r.db.Where("parent_id IN (?)", sub).Order("host ASC").Find(&out).Error
	return out, err
}

// ---- Prefix ----

type PrefixInput struct {
	CIDR        string
	NamespaceID uint // 0 => default namespace
	Type        string
	Status      string
	Role        string
	Tenant      string
	Description string
}

func validPrefixType(t string) bool {
	switch t {
	case models.PrefixTypeContainer, models.PrefixTypeNetwork, models.PrefixTypePool:
		return true
	}
	return false
}

// CreatePrefix создаёт префикс из CIDR-строки, вычисляет ближайшего родителя
// и прогоняет каскад переподвешивания в одной транзакции.
func (r *Repo) CreatePrefix(in PrefixInput) (*models.Prefix, error) {
	_, f, err := splitPrefix(in.CIDR)
	if err != nil {
		return nil, err
	}
	typ := in.Type
	if typ == "" {
		typ = models.PrefixTypeNetwork
	}
	if !validPrefixType(typ) {
		return nil, fmt.Errorf("%w: prefix type %q", ErrInvalidInput, in.Type)
	}

	p := &models.Prefix{
		Network:      f.network,
		Broadcast:    f.broadcast,
		PrefixLength: f.length,
		IPVersion:    f.version,
		Type:         typ,
		Status:       in.Status,
		Role:         in.Role,
		Tenant:       in.Tenant,
		Description:  in.Description,
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		nsID := in.NamespaceID
		if nsID == 0 {
			ns, err := defaultNamespace(tx)
			if err != nil {
				return err
			}
			nsID = ns.ID
		} else if err := tx.First(&models.Namespace{}, nsID).Error; err != nil {
			return notFound(err, "namespace %d", nsID)
		}
		p.NamespaceID = nsID

		var dup int64
		err := tx.Model(&models.Prefix{}).
			Where("namespace_id = ? AND network = ? AND prefix_length = ?", nsID, f.network, f.length).
			Count(&dup).Error
		if err != nil {
			return err
		}
		if dup > 0 {
			return fmt.Errorf("%w: prefix %s already exists in namespace", ErrDuplicate, in.CIDR)
		}

		parent, err := closestParent(tx, nsID, f, 0)
		if err != nil {
			return err
		}
		if parent != nil {
			p.ParentID = &parent.ID
		}
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		// родитель выставлен — теперь чиним дерево вокруг
		if err := reparentSubnets(tx, p, nil, true); err != nil {
			return err
		}
		return reparentIPs(tx, p, nil, true)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

type PrefixUpdate struct {
	CIDR        *string
	NamespaceID *uint
	Type        *string
	Status      *string
	Role        *string
	Tenant      *string
	Description *string
}

// UpdatePrefix — критичный save-алгоритм: детект изменения networking-полей,
// запрет смешанных апдейтов, пересчёт родителя, orphan/VRF-валидации,
// перенос namespace и каскад. Всё в одной транзакции.
func (r *Repo) UpdatePrefix(id uint, in PrefixUpdate) (*models.Prefix, error) {
	var out *models.Prefix
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var p models.Prefix
		if err := tx.First(&p, id).Error; err != nil {
			return notFound(err, "prefix %d", id)
		}
		prev := snapshot(&p)

		netChanged := false
		if in.CIDR != nil {
			_, f, err := splitPrefix(*in.CIDR)
			if err != nil {
				return err
			}
			if !bytes.Equal(f.network, p.Network) || !bytes.Equal(f.broadcast, p.Broadcast) ||
				f.length != p.PrefixLength || f.version != p.IPVersion {
				netChanged = true
				p.Network = f.network
				p.Broadcast = f.broadcast
				p.PrefixLength = f.length
				p.IPVersion = f.version
			}
		}

		nsChanged := in.NamespaceID != nil && *in.NamespaceID != prev.namespaceID
		if netChanged && nsChanged {
			return fmt.Errorf("%w: split into two updates", ErrCrossFieldChange)
		}

		if netChanged {
			// не дожидаемся unique constraint — отдаём нормальный duplicate
			var dup int64
			err := tx.Model(&models.Prefix{}).
				Where("namespace_id = ? AND network = ? AND prefix_length = ? AND id <> ?",
					p.NamespaceID, p.Network, p.PrefixLength, p.ID).
				Count(&dup).Error
			if err != nil {
				return err
			}
			if dup > 0 {
				return fmt.Errorf("%w: prefix %s already exists in namespace", ErrDuplicate, PrefixString(&p))
			}
		}

		if nsChanged {
			if err := tx.First(&models.Namespace{}, *in.NamespaceID).Error; err != nil {
				return notFound(err, "namespace %d", *in.NamespaceID)
			}
			// перенос с живыми VRF-ассоциациями на поддереве молча порвал бы их
			subtree := tx.Session(&gorm.Session{NewDB: true}).
				Model(&models.Prefix{}).
				Select("id").
				Where("namespace_id = ? AND ip_version = ? AND network >= ? AND broadcast <= ?",
					prev.namespaceID, p.IPVersion, p.Network, p.Broadcast)
			var vrfs int64
			err := tx.Model(&models.VRFPrefixAssignment{}).
				Where("prefix_id IN (?)", subtree).
				Count(&vrfs).Error
			if err != nil {
				return err
			}
			if vrfs > 0 {
				return fmt.Errorf("%w: %d assignment(s) in namespace %d", ErrVRFAttached, vrfs, prev.namespaceID)
			}

			var dup int64
			err = tx.Model(&models.Prefix{}).
				Where("namespace_id = ? AND network = ? AND prefix_length = ? AND id <> ?",
					*in.NamespaceID, p.Network, p.PrefixLength, p.ID).
				Count(&dup).Error
			if err != nil {
				return err
			}
			if dup > 0 {
				return fmt.Errorf("%w: prefix %s already exists in target namespace", ErrDuplicate, PrefixString(&p))
			}
			p.NamespaceID = *in.NamespaceID
		}

		if in.Type != nil {
			if !validPrefixType(*in.Type) {
				return fmt.Errorf("%w: prefix type %q", ErrInvalidInput, *in.Type)
			}
			p.Type = *in.Type
		}
		if in.Status != nil {
			p.Status = *in.Status
		}
		if in.Role != nil {
			p.Role = *in.Role
		}
		if in.Tenant != nil {
			p.Tenant = *in.Tenant
		}
		if in.Description != nil {
			p.Description = *in.Description
		}

		if netChanged || nsChanged {
			parent, err := closestParent(tx, p.NamespaceID, fieldsOf(&p), p.ID)
			if err != nil {
				return err
			}
			p.ParentID = nil
			if parent != nil {
				p.ParentID = &parent.ID
			}
			if netChanged && parent == nil {
				// корню выпавшие адреса девать некуда — отклоняем до записи
				var n int64
				err := tx.Model(&models.IPAddress{}).
					Where("parent_id = ?", p.ID).
					Where("host < ? OR host > ? OR ip_version <> ?", p.Network, p.Broadcast, p.IPVersion).
					Count(&n).Error
				if err != nil {
					return err
				}
				if n > 0 {
					return fmt.Errorf("%w: %d address(es) fall outside %s", ErrOrphanedIPs, n, PrefixString(&p))
				}
			}
		}

		if err := tx.Save(&p).Error; err != nil {
			return err
		}

		if nsChanged {
			if err := moveDescendants(tx, &p, prev.namespaceID); err != nil {
				return err
			}
		}
		if netChanged || nsChanged {
			if err := reparentSubnets(tx, &p, prev, netChanged); err != nil {
				return err
			}
			if err := reparentIPs(tx, &p, prev, netChanged); err != nil {
				return err
			}
		}
		out = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeletePrefix переподвешивает прямых детей (префиксы и адреса) на родителя
// удаляемого и убирает строку. Root с адресами удалить нельзя — их некуда
// поднимать.
func (r *Repo) DeletePrefix(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var p models.Prefix
		if err := tx.First(&p, id).Error; err != nil {
			return notFound(err, "prefix %d", id)
		}
		if p.ParentID == nil {
			var n int64
			if err := tx.Model(&models.IPAddress{}).Where("parent_id = ?", p.ID).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%w: prefix %s has %d address(es) and no parent", ErrProtected, PrefixString(&p), n)
			}
		}
		err := tx.Model(&models.Prefix{}).Where("parent_id = ?", p.ID).Update("parent_id", p.ParentID).Error
		if err != nil {
			return err
		}
		err = tx.Model(&models.IPAddress{}).Where("parent_id = ?", p.ID).Update("parent_id", p.ParentID).Error
		if err != nil {
			return err
		}
		if err := tx.Unscoped().Where("prefix_id = ?", p.ID).Delete(&models.VRFPrefixAssignment{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&p).Error
	})
}

func (r *Repo) GetPrefix(id uint) (*models.Prefix, error) {
	var p models.Prefix
	if err := r.db.First(&p, id).Error; err != nil {
		return nil, notFound(err, "prefix %d", id)
	}
	return &p, nil
}

func (r *Repo) ListPrefixes(namespaceID uint) ([]models.Prefix, error) {
	q := r.db.Order("namespace_id, network ASC, prefix_length ASC")
	if namespaceID != 0 {
		q = q.Where("namespace_id = ?", namespaceID)
	}
	var out []models.Prefix
	err := q.Find(&out).Error
	return out, err
}

// ---- IPAddress ----

type IPAddressInput struct {
	Address     string
	NamespaceID uint  // 0 => default (или namespace явного родителя)
	ParentID    *uint // опционально; принимается, только если совпал с вычисленным
	NATInsideID *uint
	Status      string
	Role        string
	Tenant      string
	DNSName     string
	Description string
}

// CreateIPAddress — адрес всегда получает самый специфичный покрывающий
// префикс namespace; без покрывающего префикса адрес существовать не может.
func (r *Repo) CreateIPAddress(in IPAddressInput) (*models.IPAddress, error) {
	addr, f, err := splitAddress(in.Address)
	if err != nil {
		return nil, err
	}
	ip := &models.IPAddress{
		Host:        f.host,
		MaskLength:  f.mask,
		IPVersion:   f.version,
		NATInsideID: in.NATInsideID,
		Status:      in.Status,
		Role:        in.Role,
		Tenant:      in.Tenant,
		DNSName:     in.DNSName,
		Description: in.Description,
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		var explicit *models.Prefix
		nsID := in.NamespaceID
		nsName := ""
		switch {
		case in.ParentID != nil:
			var pp models.Prefix
			if err := tx.First(&pp, *in.ParentID).Error; err != nil {
				return notFound(err, "prefix %d", *in.ParentID)
			}
			if pp.IPVersion != f.version {
				return fmt.Errorf("%w: %s into IPv%d prefix %s", ErrVersionMismatch, addr, pp.IPVersion, PrefixString(&pp))
			}
			if nsID != 0 && nsID != pp.NamespaceID {
				return fmt.Errorf("%w: parent prefix %s belongs to namespace %d, not %d",
					ErrInvalidInput, PrefixString(&pp), pp.NamespaceID, nsID)
			}
			explicit = &pp
			nsID = pp.NamespaceID
		case nsID == 0:
			ns, err := defaultNamespace(tx)
			if err != nil {
				return err
			}
			nsID = ns.ID
			nsName = ns.Name
		default:
			var ns models.Namespace
			if err := tx.First(&ns, nsID).Error; err != nil {
				return notFound(err, "namespace %d", nsID)
			}
			nsName = ns.Name
		}

		parent, err := closestParentForHost(tx, nsID, f.version, f.host)
		if err != nil {
			return err
		}
		if parent == nil {
			return fmt.Errorf("%w: %s in namespace %q (id %d)", ErrNoCoveringPrefix, addr, nsName, nsID)
		}
		if explicit != nil && explicit.ID != parent.ID {
			return fmt.Errorf("%w: requested %s, closest is %s",
				ErrContainment, PrefixString(explicit), PrefixString(parent))
		}

		var dup int64
		err = tx.Model(&models.IPAddress{}).
			Where("parent_id = ? AND host = ?", parent.ID, f.host).
			Count(&dup).Error
		if err != nil {
			return err
		}
		if dup > 0 {
			return fmt.Errorf("%w: address %s already exists under %s", ErrDuplicate, addr, PrefixString(parent))
		}

		ip.ParentID = &parent.ID
		return tx.Create(ip).Error
	})
	if err != nil {
		return nil, err
	}
	return ip, nil
}

type IPAddressUpdate struct {
	Address     *string // маску менять можно, host — нет
	ParentID    *uint
	NATInsideID *uint
	Status      *string
	Role        *string
	Tenant      *string
	DNSName     *string
	Description *string
}

func (r *Repo) UpdateIPAddress(id uint, in IPAddressUpdate) (*models.IPAddress, error) {
	var out *models.IPAddress
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var ip models.IPAddress
		if err := tx.First(&ip, id).Error; err != nil {
			return notFound(err, "ip address %d", id)
		}

		if in.Address != nil {
			_, f, err := splitAddress(*in.Address)
			if err != nil {
				return err
			}
			if !bytes.Equal(f.host, ip.Host) {
				return fmt.Errorf("%w: %s -> %s requires a new record", ErrHostImmutable, HostString(&ip), *in.Address)
			}
			ip.MaskLength = f.mask
		}

		if in.ParentID != nil && !uintPtrEq(in.ParentID, ip.ParentID) {
			// explicit parent принимается, только если он и есть closest
			// в ТЕКУЩЕМ namespace адреса. Сменить namespace адресу можно
			// только через delete/recreate или перенос самого префикса.
			var cur models.Prefix
			if err := tx.First(&cur, *ip.ParentID).Error; err != nil {
				return notFound(err, "prefix %d", *ip.ParentID)
			}
			var pp models.Prefix
			if err := tx.First(&pp, *in.ParentID).Error; err != nil {
				return notFound(err, "prefix %d", *in.ParentID)
			}
			parent, err := closestParentForHost(tx, cur.NamespaceID, ip.IPVersion, ip.Host)
			if err != nil {
				return err
			}
			if parent == nil || parent.ID != pp.ID {
				return fmt.Errorf("%w: prefix %s is not the closest container for %s",
					ErrContainment, PrefixString(&pp), HostString(&ip))
			}
			ip.ParentID = &pp.ID
		}

		if in.NATInsideID != nil {
			ip.NATInsideID = in.NATInsideID
		}
		if in.Status != nil {
			ip.Status = *in.Status
		}
		if in.Role != nil {
			ip.Role = *in.Role
		}
		if in.Tenant != nil {
			ip.Tenant = *in.Tenant
		}
		if in.DNSName != nil {
			ip.DNSName = *in.DNSName
		}
		if in.Description != nil {
			ip.Description = *in.Description
		}

		if err := tx.Save(&ip).Error; err != nil {
			return err
		}
		out = &ip
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) DeleteIPAddress(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var ip models.IPAddress
		if err := tx.First(&ip, id).Error; err != nil {
			return notFound(err, "ip address %d", id)
		}
		return tx.Unscoped().Delete(&ip).Error
	})
}

func (r *Repo) GetIPAddress(id uint) (*models.IPAddress, error) {
	var ip models.IPAddress
	if err := r.db.First(&ip, id).Error; err != nil {
		return nil, notFound(err, "ip address %d", id)
	}
	return &ip, nil
}

// ---- VRF ----

func (r *Repo) CreateVRF(name, rd string, namespaceID uint) (*models.VRF, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: vrf name required", ErrInvalidInput)
	}
	if namespaceID == 0 {
		ns, err := defaultNamespace(r.db)
		if err != nil {
			return nil, err
		}
		namespaceID = ns.ID
	}
	v := &models.VRF{Name: name, RouteDistinguisher: rd, NamespaceID: namespaceID}
	return v, r.db.Create(v).Error
}

// AssignVRF привязывает VRF к префиксу того же namespace.
func (r *Repo) AssignVRF(vrfID, prefixID uint) (*models.VRFPrefixAssignment, error) {
	var out *models.VRFPrefixAssignment
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var v models.VRF
		if err := tx.First(&v, vrfID).Error; err != nil {
			return notFound(err, "vrf %d", vrfID)
		}
		var p models.Prefix
		if err := tx.First(&p, prefixID).Error; err != nil {
			return notFound(err, "prefix %d", prefixID)
		}
		if v.NamespaceID != p.NamespaceID {
			return fmt.Errorf("%w: vrf %s is scoped to another namespace", ErrInvalidInput, v.Name)
		}
		var n int64
		if err := tx.Model(&models.VRFPrefixAssignment{}).
			Where("vrf_id = ? AND prefix_id = ?", vrfID, prefixID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: vrf already assigned", ErrDuplicate)
		}
		a := &models.VRFPrefixAssignment{VRFID: vrfID, PrefixID: prefixID}
		if err := tx.Create(a).Error; err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func (r *Repo) UnassignVRF(vrfID, prefixID uint) error {
	return r.db.Unscoped().
		Where("vrf_id = ? AND prefix_id = ?", vrfID, prefixID).
		Delete(&models.VRFPrefixAssignment{}).Error
}

func (r *Repo) PrefixVRFs(prefixID uint) ([]models.VRF, error) {
	sub := r.db.Model(&models.VRFPrefixAssignment{}).Select("vrf_id").Where("prefix_id = ?", prefixID)
	var out []models.VRF
	err := r.db.Where("id IN (?)", sub).Find(&out).Error
	return out, err
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: "+format, append([]interface{}{ErrNotFound}, args...)...)
	}
	return err
}
